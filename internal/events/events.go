// Package events defines the notifications emitted after committed lease,
// settlement and liveness transitions.
package events

import (
	"errors"
	"log"
	"sync"
	"time"
)

// Type identifies an event.
type Type string

const (
	LeaseAcquired   Type = "LEASE_ACQUIRED"
	LeaseRenotified Type = "LEASE_RENOTIFIED"
	LeaseReleased   Type = "LEASE_RELEASED"
	SessionSettled  Type = "SESSION_SETTLED"
	DeviceOnline    Type = "DEVICE_ONLINE"
	DeviceOffline   Type = "DEVICE_OFFLINE"
)

// Event is published once the transition it describes has been committed.
type Event struct {
	Type      Type
	BinID     string
	UserID    string
	SessionID string
	Points    int64
	Timestamp time.Time
}

// Publisher receives events. Implementations must not block the caller for
// long; publishing failures never undo the transition.
type Publisher interface {
	Publish(event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(Event) error { return nil }

// Multi fans an event out to several publishers.
type Multi []Publisher

// Publish delivers to every publisher and joins their errors.
func (m Multi) Publish(event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes and logs a failure instead of returning it.
func Emit(p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(event); err != nil {
		log.Printf("publish %s for bin %s: %v", event.Type, event.BinID, err)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event.
func (r *Recorder) Publish(event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	events := r.Events()
	out := make([]Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
