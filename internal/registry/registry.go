// Package registry owns the canonical state of every order.
package registry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

// DefaultPrice is charged when a driver completes a trip without a price.
const DefaultPrice = 380.0

type Options struct {
	DefaultPrice float64
	Now          func() time.Time
}

type Registry struct {
	users        storage.UserStore
	orders       storage.OrderStore
	defaultPrice float64
	now          func() time.Time
	searching    singleflight.Group
}

func New(users storage.UserStore, orders storage.OrderStore, opts Options) *Registry {
	if opts.DefaultPrice <= 0 {
		opts.DefaultPrice = DefaultPrice
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{users: users, orders: orders, defaultPrice: opts.DefaultPrice, now: opts.Now}
}

func (r *Registry) CreateOrder(ctx context.Context, passengerID int64, pickup, destination models.GeoPoint, tariff models.Tariff) (models.Order, error) {
	if !pickup.Valid() || !destination.Valid() {
		return models.Order{}, fmt.Errorf("%w: coordinates must be finite", models.ErrInvalidLocation)
	}
	if pickup == destination {
		return models.Order{}, fmt.Errorf("%w: pickup equals destination", models.ErrInvalidLocation)
	}
	tariff, err := models.ParseTariff(string(tariff))
	if err != nil {
		return models.Order{}, err
	}
	u, err := r.users.GetUser(ctx, passengerID)
	if err != nil {
		return models.Order{}, err
	}
	if u.Role != models.RolePassenger {
		return models.Order{}, fmt.Errorf("user %d is a %s: %w", passengerID, u.Role, models.ErrForbidden)
	}
	return r.orders.CreateOrder(ctx, models.Order{
		PassengerID: passengerID,
		Pickup:      pickup,
		Destination: destination,
		Tariff:      tariff,
		Status:      models.StatusSearching,
		CreatedAt:   r.now(),
	})
}

func (r *Registry) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	return r.orders.GetOrder(ctx, id)
}

// ListSearching returns every order still waiting for a driver, oldest
// first. Concurrent callers share one store read; the result is a snapshot
// that may be stale by the time the caller acts on it.
func (r *Registry) ListSearching(ctx context.Context) ([]models.Order, error) {
	v, err, _ := r.searching.Do("searching", func() (any, error) {
		return r.orders.ListOrdersByStatus(context.WithoutCancel(ctx), models.StatusSearching)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]models.Order)), nil
}

// ListForUser returns the orders where userID takes part in the given role,
// most recent first. limit <= 0 returns all of them.
func (r *Registry) ListForUser(ctx context.Context, userID int64, role models.Role, limit int) ([]models.Order, error) {
	u, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, fmt.Errorf("user %d is not a %s: %w", userID, role, models.ErrForbidden)
	}
	var orders []models.Order
	switch role {
	case models.RolePassenger:
		orders, err = r.orders.ListOrdersByPassenger(ctx, userID)
	default:
		orders, err = r.orders.ListOrdersByDriver(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	slices.Reverse(orders)
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// Transition applies one lifecycle event on behalf of actorID. The order and
// the actor's availability record change together or not at all.
func (r *Registry) Transition(ctx context.Context, orderID int64, e models.Event, actorID int64, price *float64) (models.Order, error) {
	at := r.now()
	return r.orders.UpdateOrder(ctx, orderID, actorID, func(o *models.Order, a *models.DriverAvailability) error {
		return apply(o, a, e, actorID, price, r.defaultPrice, at)
	})
}
