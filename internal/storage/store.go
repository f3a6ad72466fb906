package storage

import (
	"context"

	"github.com/example/taxi-dispatch/internal/models"
)

// OrderMutation runs while the order and the actor's availability record are
// locked. avail is nil when the actor has no availability record. Returning an
// error discards every change made to either argument.
type OrderMutation func(o *models.Order, avail *models.DriverAvailability) error

// AvailabilityMutation runs while the driver's availability record is locked.
type AvailabilityMutation func(avail *models.DriverAvailability) error

type UserStore interface {
	// FindOrCreateUser returns the user stored under u.Phone, or stores u.
	// created reports which happened. New drivers get an offline
	// availability record in the same step.
	FindOrCreateUser(ctx context.Context, u models.User) (user models.User, created bool, err error)
	GetUser(ctx context.Context, id int64) (models.User, error)
}

type OrderStore interface {
	// CreateOrder assigns the id and fails with models.ErrDuplicateActiveOrder
	// when the passenger still holds an active order.
	CreateOrder(ctx context.Context, o models.Order) (models.Order, error)
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	ListOrdersByPassenger(ctx context.Context, passengerID int64) ([]models.Order, error)
	ListOrdersByDriver(ctx context.Context, driverID int64) ([]models.Order, error)
	// UpdateOrder applies fn atomically to the order and to the
	// availability record of actorID.
	UpdateOrder(ctx context.Context, orderID, actorID int64, fn OrderMutation) (models.Order, error)
}

type AvailabilityStore interface {
	GetAvailability(ctx context.Context, driverID int64) (models.DriverAvailability, error)
	UpdateAvailability(ctx context.Context, driverID int64, fn AvailabilityMutation) (models.DriverAvailability, error)
}

// Store is the process-wide source of truth.
type Store interface {
	UserStore
	OrderStore
	AvailabilityStore
	Close() error
}
