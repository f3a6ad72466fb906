package models

import (
	"strings"
	"time"
)

type DriverStatus string

const (
	DriverOffline DriverStatus = "offline"
	DriverOnline  DriverStatus = "online"
	DriverBusy    DriverStatus = "busy"
)

// ParseToggle accepts only the values a driver can set on itself.
func ParseToggle(s string) (DriverStatus, error) {
	switch DriverStatus(strings.ToLower(strings.TrimSpace(s))) {
	case DriverOffline:
		return DriverOffline, nil
	case DriverOnline:
		return DriverOnline, nil
	}
	return "", ErrInvalidStatus
}

// DriverAvailability is the single availability record kept per driver.
// Online is the driver's own toggle; ActiveOrderID is owned by dispatch.
type DriverAvailability struct {
	DriverID      int64     `json:"driver_id"`
	Online        bool      `json:"online"`
	ActiveOrderID int64     `json:"active_order_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d DriverAvailability) Status() DriverStatus {
	switch {
	case !d.Online:
		return DriverOffline
	case d.ActiveOrderID != 0:
		return DriverBusy
	default:
		return DriverOnline
	}
}

// Assign binds an order and makes the driver busy.
func (d *DriverAvailability) Assign(orderID int64, at time.Time) {
	d.ActiveOrderID = orderID
	d.UpdatedAt = at
}

// Release clears the active order and puts the driver back online.
func (d *DriverAvailability) Release(at time.Time) {
	d.ActiveOrderID = 0
	d.Online = true
	d.UpdatedAt = at
}
