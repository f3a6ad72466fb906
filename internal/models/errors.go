package models

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidLocation      = errors.New("invalid location")
	ErrDuplicateActiveOrder = errors.New("passenger already has an active order")
	ErrRoleConflict         = errors.New("phone is registered with another role")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrForbidden            = errors.New("forbidden")
	ErrNotAvailable         = errors.New("driver is not available")
	ErrAlreadyTaken         = errors.New("order already taken")
	ErrBusy                 = errors.New("driver has an active order")

	ErrInvalidTariff = errors.New("invalid tariff")
	ErrInvalidRole   = errors.New("invalid role")
	ErrInvalidStatus = errors.New("invalid driver status")
	ErrInvalidPrice  = errors.New("price must be positive")
	ErrInvalidPhone  = errors.New("phone is required")
)

// Kind returns a stable snake_case name for a domain error, or "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidLocation, "invalid_location"},
	{ErrDuplicateActiveOrder, "duplicate_active_order"},
	{ErrRoleConflict, "role_conflict"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrForbidden, "forbidden"},
	{ErrNotAvailable, "not_available"},
	{ErrAlreadyTaken, "already_taken"},
	{ErrBusy, "busy"},
	{ErrInvalidTariff, "invalid_tariff"},
	{ErrInvalidRole, "invalid_role"},
	{ErrInvalidStatus, "invalid_status"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrInvalidPhone, "invalid_phone"},
}
