package bus

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/riskwatch/internal/event"
)

func validEvent(id string) *event.RiskEvent {
	return &event.RiskEvent{
		ID:           id,
		Type:         event.TypeCoolingApplied,
		OccurredAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		WithdrawalID: "wd-1",
		Source:       "limits",
		Severity:     event.SeverityWarning,
	}
}

func TestPublish_DeliversInRegistrationOrder(t *testing.T) {
	t.Parallel()

	b := New(log.Nop(), nil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe(func(_ context.Context, _ *event.RiskEvent) {
			order = append(order, i)
		})
	}

	b.Publish(context.Background(), validEvent("evt_1"))

	if len(order) != 3 {
		t.Fatalf("delivered to %d subscribers, want 3", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("delivery order = %v, want [0 1 2]", order)
		}
	}
}

func TestPublish_Synchronous(t *testing.T) {
	t.Parallel()

	b := New(log.Nop(), nil)

	handled := false
	b.Subscribe(func(_ context.Context, _ *event.RiskEvent) {
		handled = true
	})

	b.Publish(context.Background(), validEvent("evt_1"))

	// No synchronization needed: Publish must not return before handlers do.
	if !handled {
		t.Error("Publish returned before subscriber ran")
	}
}

func TestPublish_DropsMalformedEvents(t *testing.T) {
	t.Parallel()

	drops := 0
	b := New(log.Nop(), func() { drops++ })

	delivered := 0
	b.Subscribe(func(_ context.Context, _ *event.RiskEvent) { delivered++ })

	malformed := []*event.RiskEvent{
		nil,
		{},
		{ID: "evt_1", Type: event.TypeCoolingApplied},          // no withdrawal
		{ID: "evt_2", WithdrawalID: "wd-1"},                    // no type
		{Type: event.TypeCoolingApplied, WithdrawalID: "wd-1"}, // no id
	}
	for _, ev := range malformed {
		b.Publish(context.Background(), ev)
	}

	if delivered != 0 {
		t.Errorf("malformed events reached subscribers %d times", delivered)
	}
	if drops != len(malformed) {
		t.Errorf("onDrop called %d times, want %d", drops, len(malformed))
	}
}

func TestPublish_PanicIsolation(t *testing.T) {
	t.Parallel()

	b := New(log.Nop(), nil)

	b.Subscribe(func(_ context.Context, _ *event.RiskEvent) {
		panic("boom")
	})
	survived := false
	b.Subscribe(func(_ context.Context, _ *event.RiskEvent) {
		survived = true
	})

	// Must not panic the publisher.
	b.Publish(context.Background(), validEvent("evt_1"))

	if !survived {
		t.Error("subscriber after panicking one did not run")
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New(log.Nop(), nil)

	first, second := 0, 0
	unsub := b.Subscribe(func(_ context.Context, _ *event.RiskEvent) { first++ })
	b.Subscribe(func(_ context.Context, _ *event.RiskEvent) { second++ })

	b.Publish(context.Background(), validEvent("evt_1"))
	unsub()
	b.Publish(context.Background(), validEvent("evt_2"))
	unsub() // second call is a no-op

	if first != 1 {
		t.Errorf("unsubscribed handler ran %d times, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining handler ran %d times, want 2", second)
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	t.Parallel()

	b := New(log.Nop(), nil)
	// Must not panic or block.
	b.Publish(context.Background(), validEvent("evt_1"))
}

func TestSubscribe_DuringPublishDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	b := New(log.Nop(), nil)

	late := 0
	b.Subscribe(func(_ context.Context, _ *event.RiskEvent) {
		// Subscribing from inside a handler must not deadlock; the new
		// handler only sees subsequent publishes.
		b.Subscribe(func(_ context.Context, _ *event.RiskEvent) { late++ })
	})

	b.Publish(context.Background(), validEvent("evt_1"))
	if late != 0 {
		t.Errorf("late subscriber saw the publish that registered it")
	}
	b.Publish(context.Background(), validEvent("evt_2"))
	if late != 1 {
		t.Errorf("late subscriber ran %d times after second publish, want 1", late)
	}
}
