package models

import "time"

type EventType string

const (
	EventOrderCreated  EventType = "order_created"
	EventOrderAccepted EventType = "order_accepted"
	EventDriverArrived EventType = "driver_arrived"
	EventTripStarted   EventType = "trip_started"
	EventTripCompleted EventType = "trip_completed"
	EventDriverToggled EventType = "driver_status_changed"
)

// EventTypeFor maps a lifecycle event to the type published after it succeeds.
func EventTypeFor(e Event) EventType {
	switch e {
	case EventAccept:
		return EventOrderAccepted
	case EventArrive:
		return EventDriverArrived
	case EventStart:
		return EventTripStarted
	default:
		return EventTripCompleted
	}
}

// OrderEvent is published after every successful write. Consumers derive
// notifications from it; the coordinator itself never pushes to clients.
type OrderEvent struct {
	Type         EventType    `json:"type"`
	OrderID      int64        `json:"order_id,omitempty"`
	PassengerID  int64        `json:"passenger_id,omitempty"`
	DriverID     int64        `json:"driver_id,omitempty"`
	DriverName   string       `json:"driver_name,omitempty"`
	Status       OrderStatus  `json:"status,omitempty"`
	DriverStatus DriverStatus `json:"driver_status,omitempty"`
	Price        *float64     `json:"price,omitempty"`
	At           time.Time    `json:"at"`
}

// Notification is a feed entry. UserID zero with a non-empty Audience is a
// broadcast to every user with that role.
type Notification struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id,omitempty"`
	Audience  Role      `json:"audience,omitempty"`
	OrderID   int64     `json:"order_id,omitempty"`
	Type      EventType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
