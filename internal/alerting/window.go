package alerting

import (
	"time"

	"github.com/linnemanlabs/riskwatch/internal/event"
)

const (
	// DefaultWindowCap bounds how many events the window retains.
	DefaultWindowCap = 1000

	// DefaultWindowMaxAge bounds how old a retained event may be.
	DefaultWindowMaxAge = 24 * time.Hour
)

// window is the bounded recent-event buffer pattern rules evaluate against.
// Events are held in insertion order; every insert prunes entries older than
// maxAge and then enforces the count cap FIFO. Not safe for concurrent use;
// the engine serializes access under its own lock.
type window struct {
	cap    int
	maxAge time.Duration
	events []*event.RiskEvent
}

func newWindow(capacity int, maxAge time.Duration) *window {
	if capacity <= 0 {
		capacity = DefaultWindowCap
	}
	if maxAge <= 0 {
		maxAge = DefaultWindowMaxAge
	}
	return &window{cap: capacity, maxAge: maxAge}
}

// add inserts ev, prunes stale entries relative to now, and evicts the
// oldest entries beyond the count cap.
func (w *window) add(ev *event.RiskEvent, now time.Time) {
	w.events = append(w.events, ev)

	cutoff := now.Add(-w.maxAge)
	keep := w.events[:0]
	for _, e := range w.events {
		if e.OccurredAt.After(cutoff) {
			keep = append(keep, e)
		}
	}
	// zero the tail so evicted events can be collected
	for i := len(keep); i < len(w.events); i++ {
		w.events[i] = nil
	}
	w.events = keep

	if n := len(w.events) - w.cap; n > 0 {
		for i := 0; i < n; i++ {
			w.events[i] = nil
		}
		w.events = append(w.events[:0], w.events[n:]...)
	}
}

// snapshot returns the current window contents, oldest first. The returned
// slice is a copy; the events themselves are shared and immutable.
func (w *window) snapshot() []*event.RiskEvent {
	out := make([]*event.RiskEvent, len(w.events))
	copy(out, w.events)
	return out
}

func (w *window) len() int { return len(w.events) }
