// Package dispatch resolves the race between polling drivers and drives the
// order lifecycle on top of the registry and the availability pool.
//
// Tie-break is first successful compare-and-set wins. There is no ranking and
// no proximity logic: any online driver may claim any searching order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/availability"
	"github.com/example/taxi-dispatch/internal/events"
	"github.com/example/taxi-dispatch/internal/identity"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/registry"
)

type Coordinator struct {
	Registry *registry.Registry
	Pool     *availability.Pool
	Users    *identity.Service
	Events   events.Publisher
	Logger   *slog.Logger
}

func (c *Coordinator) CreateOrder(ctx context.Context, passengerID int64, pickup, destination models.GeoPoint, tariff models.Tariff) (models.Order, error) {
	o, err := c.Registry.CreateOrder(ctx, passengerID, pickup, destination, tariff)
	if err != nil {
		return models.Order{}, err
	}
	observability.OrdersCreated.WithLabelValues(string(o.Tariff)).Inc()
	c.Logger.Info("order created", "order_id", o.ID, "passenger_id", passengerID, "tariff", o.Tariff)
	c.publish(ctx, models.OrderEvent{
		Type:        models.EventOrderCreated,
		OrderID:     o.ID,
		PassengerID: o.PassengerID,
		Status:      o.Status,
		At:          o.CreatedAt,
	})
	return o, nil
}

// AcceptOrder claims a searching order for driverID. Losing the race yields
// models.ErrAlreadyTaken, which callers handle by going back to the list of
// searching orders rather than retrying.
func (c *Coordinator) AcceptOrder(ctx context.Context, orderID, driverID int64) (models.Order, error) {
	start := time.Now()
	o, err := c.Registry.Transition(ctx, orderID, models.EventAccept, driverID, nil)
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		observability.AcceptAttempts.WithLabelValues("won").Inc()
	case errors.Is(err, models.ErrAlreadyTaken):
		observability.AcceptAttempts.WithLabelValues("already_taken").Inc()
		c.Logger.Debug("accept lost race", "order_id", orderID, "driver_id", driverID)
		return models.Order{}, err
	case errors.Is(err, models.ErrNotAvailable):
		observability.AcceptAttempts.WithLabelValues("not_available").Inc()
		return models.Order{}, err
	default:
		observability.AcceptAttempts.WithLabelValues("rejected").Inc()
		return models.Order{}, err
	}
	c.applied(ctx, o, models.EventAccept)
	return o, nil
}

// CompleteOrder finishes the trip and releases the driver back to online in
// the same update.
func (c *Coordinator) CompleteOrder(ctx context.Context, orderID, driverID int64, price *float64) (models.Order, error) {
	o, err := c.Registry.Transition(ctx, orderID, models.EventComplete, driverID, price)
	if err != nil {
		return models.Order{}, err
	}
	c.applied(ctx, o, models.EventComplete)
	return o, nil
}

// Advance applies any lifecycle event issued by a driver.
func (c *Coordinator) Advance(ctx context.Context, orderID int64, e models.Event, driverID int64, price *float64) (models.Order, error) {
	switch e {
	case models.EventAccept:
		return c.AcceptOrder(ctx, orderID, driverID)
	case models.EventComplete:
		return c.CompleteOrder(ctx, orderID, driverID, price)
	}
	o, err := c.Registry.Transition(ctx, orderID, e, driverID, nil)
	if err != nil {
		return models.Order{}, err
	}
	c.applied(ctx, o, e)
	return o, nil
}

func (c *Coordinator) SetDriverStatus(ctx context.Context, driverID int64, status models.DriverStatus) (models.DriverAvailability, error) {
	a, err := c.Pool.SetStatus(ctx, driverID, status)
	if err != nil {
		return models.DriverAvailability{}, err
	}
	observability.DriverToggles.WithLabelValues(string(status)).Inc()
	c.Logger.Info("driver status changed", "driver_id", driverID, "status", a.Status())
	c.publish(ctx, models.OrderEvent{
		Type:         models.EventDriverToggled,
		DriverID:     driverID,
		DriverStatus: a.Status(),
		At:           a.UpdatedAt,
	})
	return a, nil
}

func (c *Coordinator) applied(ctx context.Context, o models.Order, e models.Event) {
	observability.Transitions.WithLabelValues(e.String()).Inc()
	c.Logger.Info("order transition", "order_id", o.ID, "event", e.String(), "status", o.Status.String(), "driver_id", o.DriverID)
	ev := models.OrderEvent{
		Type:        models.EventTypeFor(e),
		OrderID:     o.ID,
		PassengerID: o.PassengerID,
		DriverID:    o.DriverID,
		Status:      o.Status,
		Price:       o.Price,
		At:          time.Now(),
	}
	if e == models.EventAccept && c.Users != nil {
		if u, err := c.Users.Get(ctx, o.DriverID); err == nil {
			ev.DriverName = u.Name
		}
	}
	c.publish(ctx, ev)
}

// publish never fails the caller: the state change is already committed.
func (c *Coordinator) publish(ctx context.Context, e models.OrderEvent) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, e); err != nil {
		observability.EventsPublished.WithLabelValues("error").Inc()
		c.Logger.Warn("publish event failed", "type", e.Type, "order_id", e.OrderID, "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues("ok").Inc()
}
