// Package notify keeps per-user notification feeds derived from order events.
// Clients read a feed by polling; nothing here is pushed.
package notify

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/models"
)

// DefaultLimit caps each feed and the size of a List result.
const DefaultLimit = 20

type Feed interface {
	Append(ctx context.Context, ns ...models.Notification) error
	// List merges the user's own entries with broadcasts to role, newest first.
	List(ctx context.Context, userID int64, role models.Role, limit int) ([]models.Notification, error)
}

// FromEvent maps an order event to the notifications it produces.
func FromEvent(e models.OrderEvent) []models.Notification {
	n := models.Notification{OrderID: e.OrderID, Type: e.Type, CreatedAt: e.At}
	switch e.Type {
	case models.EventOrderCreated:
		n.Audience = models.RoleDriver
		n.Title = "New order!"
		n.Message = fmt.Sprintf("Order #%d is waiting to be accepted", e.OrderID)
	case models.EventOrderAccepted:
		n.UserID = e.PassengerID
		n.Title = "Driver found!"
		n.Message = "A driver accepted your order"
		if e.DriverName != "" {
			n.Message = fmt.Sprintf("Driver %s accepted your order", e.DriverName)
		}
	case models.EventDriverArrived:
		n.UserID = e.PassengerID
		n.Title = "Driver has arrived"
		n.Message = "Your driver is waiting for you"
	case models.EventTripStarted:
		n.UserID = e.PassengerID
		n.Title = "Trip started"
		n.Message = "Have a nice ride"
	case models.EventTripCompleted:
		n.UserID = e.PassengerID
		n.Title = "Trip completed"
		n.Message = "Thank you for riding with us!"
		if e.Price != nil {
			n.Message = fmt.Sprintf("Thank you for riding with us! Fare: %.0f", *e.Price)
		}
	default:
		return nil
	}
	n.ID = uuid.NewString()
	return []models.Notification{n}
}

func merge(limit int, lists ...[]models.Notification) []models.Notification {
	out := make([]models.Notification, 0)
	for _, l := range lists {
		out = append(out, l...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func userKey(id int64) string { return fmt.Sprintf("user:%d", id) }

func roleKey(r models.Role) string { return "role:" + string(r) }

// key returns the feed a notification belongs to.
func key(n models.Notification) string {
	if n.UserID == 0 {
		return roleKey(n.Audience)
	}
	return userKey(n.UserID)
}
