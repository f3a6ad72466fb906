package models

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus is ordered: a valid transition always moves to the next value.
type OrderStatus uint8

const (
	StatusSearching OrderStatus = iota + 1
	StatusAccepted
	StatusArriving
	StatusRiding
	StatusCompleted
)

var statusNames = map[OrderStatus]string{
	StatusSearching: "searching",
	StatusAccepted:  "accepted",
	StatusArriving:  "arriving",
	StatusRiding:    "riding",
	StatusCompleted: "completed",
}

func (s OrderStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func ParseStatus(v string) (OrderStatus, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, n := range statusNames {
		if n == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown order status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Event uint8

const (
	EventAccept Event = iota + 1
	EventArrive
	EventStart
	EventComplete
)

var eventNames = map[Event]string{
	EventAccept:   "accept",
	EventArrive:   "arrive",
	EventStart:    "start",
	EventComplete: "complete",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

func ParseEvent(v string) (Event, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for e, n := range eventNames {
		if n == v {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, v)
}

// transitions maps each non-terminal status to the single event it accepts.
var transitions = map[OrderStatus]struct {
	event Event
	next  OrderStatus
}{
	StatusSearching: {EventAccept, StatusAccepted},
	StatusAccepted:  {EventArrive, StatusArriving},
	StatusArriving:  {EventStart, StatusRiding},
	StatusRiding:    {EventComplete, StatusCompleted},
}

// Next returns the status reached by applying e, or ErrInvalidTransition.
func (s OrderStatus) Next(e Event) (OrderStatus, error) {
	t, ok := transitions[s]
	if !ok || t.event != e {
		return s, fmt.Errorf("%w: cannot %s an order that is %s", ErrInvalidTransition, e, s)
	}
	return t.next, nil
}

// Advance moves the order one step and stamps the stage timestamp.
// Driver binding and pricing are left to the caller.
func (o *Order) Advance(e Event, at time.Time) error {
	next, err := o.Status.Next(e)
	if err != nil {
		return err
	}
	o.Status = next
	switch next {
	case StatusAccepted:
		o.AcceptedAt = &at
	case StatusArriving:
		o.ArrivedAt = &at
	case StatusRiding:
		o.StartedAt = &at
	case StatusCompleted:
		o.CompletedAt = &at
	}
	return nil
}
