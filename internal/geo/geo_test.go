package geo

import (
	"math"
	"testing"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeOfLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111195) > 10 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

func TestTripKm(t *testing.T) {
	got := TripKm(models.GeoPoint{Lat: 55.70, Lon: 37.60}, models.GeoPoint{Lat: 55.75, Lon: 37.62})
	if got < 5.5 || got > 5.8 {
		t.Fatalf("unexpected trip length %v", got)
	}
}
