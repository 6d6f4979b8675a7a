// Package connstatus tracks application-wide backend connectivity.
//
// The reconnection controller subscribes to transitions into Connected to
// drive host-level recovery, distinct from per-PTY failures.
package connstatus

import "sync"

// Status represents application-wide backend connectivity.
type Status int

const (
	Connected Status = iota
	Disconnected
	Reconnecting
	Offline
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Parse maps a status name back to its value.
func Parse(s string) (Status, bool) {
	switch s {
	case "connected":
		return Connected, true
	case "disconnected":
		return Disconnected, true
	case "reconnecting":
		return Reconnecting, true
	case "offline":
		return Offline, true
	}
	return Connected, false
}

// Listener is notified on every status transition.
type Listener func(from, to Status)

// Tracker is an observable connectivity state.
type Tracker struct {
	mu        sync.RWMutex
	status    Status
	listeners []Listener
}

// NewTracker creates a tracker starting in the given status.
func NewTracker(initial Status) *Tracker {
	return &Tracker{status: initial}
}

// Get returns the current status.
func (t *Tracker) Get() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Set transitions to a new status and notifies listeners.
// Setting the current status is a no-op.
func (t *Tracker) Set(next Status) {
	t.mu.Lock()
	prev := t.status
	if prev == next {
		t.mu.Unlock()
		return
	}
	t.status = next
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		l(prev, next)
	}
}

// Subscribe registers a listener for status transitions.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}
