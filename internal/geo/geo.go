// Package geo holds the distance math used for trip summaries. Orders are
// never matched by proximity.
package geo

import (
	"math"

	"github.com/example/taxi-dispatch/internal/models"
)

const earthRadiusM = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// TripKm is the straight-line length of a trip rounded to 0.1 km.
func TripKm(from, to models.GeoPoint) float64 {
	m := Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return math.Round(m/100) / 10
}
