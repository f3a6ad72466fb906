package models

import (
	"math"
	"strings"
	"time"
)

type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

// ParseRole accepts the lower-case wire names; an empty string means passenger.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RolePassenger:
		return RolePassenger, nil
	case RoleDriver:
		return RoleDriver, nil
	}
	return "", ErrInvalidRole
}

const DefaultRating = 5.0

type User struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Rating    float64   `json:"rating"`
	Vehicle   *Vehicle  `json:"vehicle,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Vehicle struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
	Color string `json:"color"`
	Plate string `json:"plate"`
}

// DefaultVehicle is assigned to drivers that register without car details.
func DefaultVehicle() Vehicle {
	return Vehicle{Brand: "Toyota", Model: "Camry", Color: "White", Plate: "A123BV777"}
}

// WithDefaults fills empty fields from DefaultVehicle.
func (v Vehicle) WithDefaults() Vehicle {
	d := DefaultVehicle()
	if v.Brand == "" {
		v.Brand = d.Brand
	}
	if v.Model == "" {
		v.Model = d.Model
	}
	if v.Color == "" {
		v.Color = d.Color
	}
	if v.Plate == "" {
		v.Plate = d.Plate
	}
	return v
}

func (v Vehicle) Car() string { return v.Brand + " " + v.Model }

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p GeoPoint) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) && !math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0)
}

type Tariff string

const (
	TariffEconomy  Tariff = "economy"
	TariffComfort  Tariff = "comfort"
	TariffBusiness Tariff = "business"
)

var Tariffs = []Tariff{TariffEconomy, TariffComfort, TariffBusiness}

// ParseTariff defaults an empty value to economy.
func ParseTariff(s string) (Tariff, error) {
	switch t := Tariff(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TariffEconomy, nil
	case TariffEconomy, TariffComfort, TariffBusiness:
		return t, nil
	}
	return "", ErrInvalidTariff
}

// FareRange is the fixed price quote shown before an order is placed.
type FareRange struct {
	Tariff Tariff  `json:"tariff"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func (t Tariff) Quote() FareRange {
	switch t {
	case TariffComfort:
		return FareRange{Tariff: t, Min: 350, Max: 400}
	case TariffBusiness:
		return FareRange{Tariff: t, Min: 500, Max: 600}
	default:
		return FareRange{Tariff: TariffEconomy, Min: 250, Max: 300}
	}
}

type Order struct {
	ID          int64       `json:"id"`
	Pickup      GeoPoint    `json:"pickup"`
	Destination GeoPoint    `json:"destination"`
	Tariff      Tariff      `json:"tariff"`
	Status      OrderStatus `json:"status"`
	Price       *float64    `json:"price,omitempty"`
	PassengerID int64       `json:"passenger_id"`
	DriverID    int64       `json:"driver_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	AcceptedAt  *time.Time  `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time  `json:"arrived_at,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Active reports whether the order has not reached its terminal status.
func (o Order) Active() bool { return o.Status != StatusCompleted }

// HasDriver reports whether a driver has been bound by accept.
func (o Order) HasDriver() bool { return o.DriverID != 0 }
