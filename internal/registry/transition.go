package registry

import (
	"fmt"
	"math"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// apply is executed under the order lock. Accept is a compare-and-set on
// the searching status; the remaining events belong to the bound driver.
// The completion price is checked only once the event itself is legal.
func apply(o *models.Order, a *models.DriverAvailability, e models.Event, actorID int64, price *float64, defaultPrice float64, at time.Time) error {
	if e == models.EventAccept {
		if a == nil {
			return fmt.Errorf("user %d is not a driver: %w", actorID, models.ErrForbidden)
		}
		if a.Status() != models.DriverOnline {
			return fmt.Errorf("driver %d is %s: %w", actorID, a.Status(), models.ErrNotAvailable)
		}
		if o.Status != models.StatusSearching {
			return fmt.Errorf("order %d: %w", o.ID, models.ErrAlreadyTaken)
		}
		if err := o.Advance(e, at); err != nil {
			return err
		}
		o.DriverID = actorID
		a.Assign(o.ID, at)
		return nil
	}

	if _, err := o.Status.Next(e); err != nil {
		return fmt.Errorf("order %d: %w", o.ID, err)
	}
	if !o.HasDriver() || o.DriverID != actorID {
		return fmt.Errorf("order %d is not assigned to %d: %w", o.ID, actorID, models.ErrForbidden)
	}
	var fare float64
	if e == models.EventComplete {
		p, err := resolvePrice(price, defaultPrice)
		if err != nil {
			return err
		}
		fare = p
	}
	if err := o.Advance(e, at); err != nil {
		return err
	}
	if e == models.EventComplete {
		o.Price = &fare
		if a != nil {
			a.Release(at)
		}
	}
	return nil
}

func resolvePrice(price *float64, defaultPrice float64) (float64, error) {
	if price == nil {
		return defaultPrice, nil
	}
	if p := *price; p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p) {
		return p, nil
	}
	return 0, models.ErrInvalidPrice
}
