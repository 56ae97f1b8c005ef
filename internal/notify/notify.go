// Package notify fans clearing house events out to subscribers.
//
// Delivery is best effort: sinks log failures and never block or fail the
// operation that produced the event.
package notify

import (
	"time"
)

// Event is a notification emitted after a committed state change.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent stamps data with the current time.
func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
}

// Notifier delivers events to one sink.
type Notifier interface {
	Notify(Event)
}

// Multi delivers every event to each of its notifiers in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Func adapts a function to the Notifier interface.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }
