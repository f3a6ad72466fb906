package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

const DefaultInterval = 2 * time.Second

// PassengerWatcher follows the passenger's own orders.
type PassengerWatcher struct {
	API         API
	PassengerID int64
	Interval    time.Duration
	Logger      *slog.Logger
}

// Run polls until ctx ends or on returns false. Poll errors are logged and
// the next tick tries again.
func (w *PassengerWatcher) Run(ctx context.Context, on func(Change) bool) error {
	var last []models.Order
	return poll(ctx, w.Interval, func(ctx context.Context) (bool, error) {
		orders, err := w.API.Orders(ctx, w.PassengerID, models.RolePassenger)
		if err != nil {
			return false, err
		}
		for _, c := range Diff(last, orders) {
			if !on(c) {
				return true, nil
			}
		}
		last = orders
		return false, nil
	}, w.Logger)
}

// DriverWatcher browses searching orders and claims them for one driver.
type DriverWatcher struct {
	API      API
	DriverID int64
	Interval time.Duration
	Logger   *slog.Logger
}

// Browse reports orders entering and leaving the searching list.
func (w *DriverWatcher) Browse(ctx context.Context, on func(Change) bool) error {
	var last []models.Order
	return poll(ctx, w.Interval, func(ctx context.Context) (bool, error) {
		orders, err := w.API.Searching(ctx)
		if err != nil {
			return false, err
		}
		for _, c := range Diff(last, orders) {
			if !on(c) {
				return true, nil
			}
		}
		last = orders
		return false, nil
	}, w.Logger)
}

// ClaimFirst tries the searching orders oldest first until one accept wins.
// Losing a race, or an order that left the snapshot's state, moves on to the
// next order. Being offline or busy ends with models.ErrNotAvailable and a
// non-driver actor ends with models.ErrForbidden; neither is retried. Any
// other rejected request is returned, and only transport failures or server
// errors wait for the next tick.
func (w *DriverWatcher) ClaimFirst(ctx context.Context) (models.Order, error) {
	var won models.Order
	err := poll(ctx, w.Interval, func(ctx context.Context) (bool, error) {
		orders, err := w.API.Searching(ctx)
		if err != nil {
			return false, err
		}
		for _, o := range orders {
			got, err := w.API.Advance(ctx, o.ID, models.EventAccept, w.DriverID, nil)
			switch {
			case err == nil:
				won = got
				return true, nil
			case errors.Is(err, models.ErrAlreadyTaken):
				w.logger().Debug("order taken by another driver", "order_id", o.ID)
			case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNotFound):
				w.logger().Debug("skipping stale order", "order_id", o.ID, "error", err)
			case errors.Is(err, models.ErrNotAvailable), errors.Is(err, models.ErrForbidden):
				return true, err
			default:
				var apiErr *APIError
				return errors.As(err, &apiErr) && apiErr.Status < 500, err
			}
		}
		return false, nil
	}, w.Logger)
	return won, err
}

func (w *DriverWatcher) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// poll runs fn now and then on every tick. fn returning stop ends the loop
// with its error; a non-stop error is logged and retried.
func poll(ctx context.Context, interval time.Duration, fn func(context.Context) (bool, error), logger *slog.Logger) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		stop, err := fn(ctx)
		if stop {
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
