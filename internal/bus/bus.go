// Package bus provides the synchronous in-process publish/subscribe channel
// that all risk events flow through. Dispatch is inline in the publisher's
// call stack: Publish returns only after every subscriber has run, in
// registration order. There is no queueing and no retry; a slow handler
// makes Publish slow, which is the intended backpressure model.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/riskwatch/internal/event"
)

// Handler receives each published event. Handlers must not retain the event
// past the call; the bus treats events as immutable shared data.
type Handler func(ctx context.Context, ev *event.RiskEvent)

type subscription struct {
	id int
	fn Handler
}

// Bus fans events out to subscribers. The zero value is not usable; use New.
type Bus struct {
	logger log.Logger
	onDrop func()

	mu     sync.Mutex
	nextID int
	subs   []subscription
}

// New creates a Bus. A nil logger is replaced with a no-op logger. onDrop,
// if non-nil, is called once per malformed event rejected by Publish.
func New(logger log.Logger, onDrop func()) *Bus {
	if logger == nil {
		logger = log.Nop()
	}
	return &Bus{logger: logger, onDrop: onDrop}
}

// Subscribe registers a handler and returns a function that removes it.
// Handlers run in registration order on every Publish.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every subscriber, synchronously and in registration
// order. Events missing an ID, type, or withdrawal ID are logged and dropped.
// A panicking handler is recovered and logged; remaining handlers still run
// and the publisher never observes the failure.
func (b *Bus) Publish(ctx context.Context, ev *event.RiskEvent) {
	if !ev.Valid() {
		b.logger.Warn(ctx, "dropping malformed risk event",
			"event_id", safeField(ev, func(e *event.RiskEvent) string { return e.ID }),
			"event_type", safeField(ev, func(e *event.RiskEvent) string { return string(e.Type) }),
			"withdrawal_id", safeField(ev, func(e *event.RiskEvent) string { return e.WithdrawalID }),
		)
		if b.onDrop != nil {
			b.onDrop()
		}
		return
	}

	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.dispatch(ctx, s, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, s subscription, ev *event.RiskEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, fmt.Errorf("subscriber panic: %v", r),
				"event handler failed",
				"subscriber", s.id,
				"event_id", ev.ID,
				"event_type", string(ev.Type),
			)
		}
	}()
	s.fn(ctx, ev)
}

func safeField(ev *event.RiskEvent, get func(*event.RiskEvent) string) string {
	if ev == nil {
		return ""
	}
	return get(ev)
}
