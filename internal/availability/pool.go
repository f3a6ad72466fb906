// Package availability tracks whether each driver is offline, online or busy.
//
// Drivers toggle offline/online themselves. The busy state is never set here:
// dispatch marks a driver busy on accept and releases them on completion, in
// the same atomic update as the order.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

type Pool struct {
	users storage.UserStore
	store storage.AvailabilityStore
	now   func() time.Time
}

func NewPool(users storage.UserStore, store storage.AvailabilityStore) *Pool {
	return &Pool{users: users, store: store, now: time.Now}
}

// SetStatus applies a driver's own toggle. Going online while an order is
// still active fails with models.ErrBusy; going offline never touches the
// active order.
func (p *Pool) SetStatus(ctx context.Context, driverID int64, status models.DriverStatus) (models.DriverAvailability, error) {
	if status != models.DriverOnline && status != models.DriverOffline {
		return models.DriverAvailability{}, models.ErrInvalidStatus
	}
	if err := p.requireDriver(ctx, driverID); err != nil {
		return models.DriverAvailability{}, err
	}
	return p.store.UpdateAvailability(ctx, driverID, func(a *models.DriverAvailability) error {
		if status == models.DriverOnline && a.ActiveOrderID != 0 {
			return fmt.Errorf("driver %d holds order %d: %w", driverID, a.ActiveOrderID, models.ErrBusy)
		}
		a.Online = status == models.DriverOnline
		a.UpdatedAt = p.now()
		return nil
	})
}

func (p *Pool) CurrentStatus(ctx context.Context, driverID int64) (models.DriverStatus, error) {
	a, err := p.Get(ctx, driverID)
	if err != nil {
		return "", err
	}
	return a.Status(), nil
}

func (p *Pool) Get(ctx context.Context, driverID int64) (models.DriverAvailability, error) {
	if err := p.requireDriver(ctx, driverID); err != nil {
		return models.DriverAvailability{}, err
	}
	return p.store.GetAvailability(ctx, driverID)
}

func (p *Pool) requireDriver(ctx context.Context, id int64) error {
	u, err := p.users.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Role != models.RoleDriver {
		return fmt.Errorf("user %d is a %s: %w", id, u.Role, models.ErrForbidden)
	}
	return nil
}
