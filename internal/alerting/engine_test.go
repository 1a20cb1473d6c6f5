package alerting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/event"
)

func newTestEngine(t *testing.T, opts EngineOptions) (*Engine, *alert.Store) {
	t.Helper()
	store := alert.NewStore(100, alert.StoreHooks{})
	if opts.Now == nil {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		n := 0
		opts.Now = func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Second)
		}
	}
	return NewEngine(store, log.Nop(), EngineHooks{}, opts), store
}

func criticalEvent(id, wd string, at time.Time) *event.RiskEvent {
	return &event.RiskEvent{
		ID: id, Type: event.TypeLimitViolation, WithdrawalID: wd,
		UserID: "u-1", Source: "limits",
		Severity: event.SeverityCritical, OccurredAt: at,
		Summary: "limit exceeded",
	}
}

func warningEvent(id, wd string, at time.Time) *event.RiskEvent {
	return &event.RiskEvent{
		ID: id, Type: event.TypeTransitionGated, WithdrawalID: wd,
		UserID: "u-1", Source: "workflow",
		Severity: event.SeverityWarning, OccurredAt: at,
		Summary: "transition blocked",
	}
}

func TestEngine_FirstMatchWins(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, EngineOptions{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A limit violation is CRITICAL, so it matches both
	// critical_event_immediate and policy_limit_violation. Only the first
	// rule in catalog order may produce the alert.
	e.Handle(context.Background(), criticalEvent("evt_1", "wd-1", at))

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("store holds %d alerts, want exactly 1", len(all))
	}
	if all[0].RuleID != "critical_event_immediate" {
		t.Errorf("RuleID = %q, want critical_event_immediate", all[0].RuleID)
	}
	if all[0].Severity != event.SeverityCritical {
		t.Errorf("Severity = %q, want CRITICAL", all[0].Severity)
	}
}

func TestEngine_DisabledRuleFallsThrough(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, EngineOptions{})
	e.SetDisabledRules([]string{"critical_event_immediate"})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Handle(context.Background(), criticalEvent("evt_1", "wd-1", at))

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("store holds %d alerts, want 1", len(all))
	}
	if all[0].RuleID != "policy_limit_violation" {
		t.Errorf("RuleID = %q, want policy_limit_violation (next in order)", all[0].RuleID)
	}
}

func TestEngine_WarningBurstScenario(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, EngineOptions{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Transition-gated warnings match no single-event rule, so the first
	// two must be silent.
	e.Handle(ctx, warningEvent("evt_1", "wd-1", at))
	e.Handle(ctx, warningEvent("evt_2", "wd-1", at.Add(10*time.Minute)))
	if n := store.Len(); n != 0 {
		t.Fatalf("store holds %d alerts after 2 warnings, want 0", n)
	}

	// The third within the hour crosses the burst threshold.
	e.Handle(ctx, warningEvent("evt_3", "wd-1", at.Add(20*time.Minute)))
	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("store holds %d alerts after 3rd warning, want 1", len(all))
	}
	a := all[0]
	if a.RuleID != "multiple_warnings_same_withdrawal" {
		t.Errorf("RuleID = %q, want multiple_warnings_same_withdrawal", a.RuleID)
	}
	if a.Severity != event.SeverityWarning {
		t.Errorf("Severity = %q, want WARNING", a.Severity)
	}
	if len(a.RelatedEventIDs) != 3 {
		t.Errorf("RelatedEventIDs = %v, want all 3 warnings", a.RelatedEventIDs)
	}
}

func TestEngine_NoMatchNoAlert(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, EngineOptions{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e.Handle(context.Background(), &event.RiskEvent{
		ID: "evt_1", Type: event.TypeAdminDecision, WithdrawalID: "wd-1",
		Severity: event.SeverityInfo, OccurredAt: at,
	})

	if n := store.Len(); n != 0 {
		t.Errorf("store holds %d alerts for non-matching event, want 0", n)
	}
}

func TestEngine_RuleFaultIsSkipped(t *testing.T) {
	t.Parallel()

	faults := []string{}
	store := alert.NewStore(100, alert.StoreHooks{})
	e := NewEngine(store, log.Nop(), EngineHooks{
		OnRuleFault: func(ruleID string) { faults = append(faults, ruleID) },
	}, EngineOptions{
		Rules: []Rule{
			{
				ID: "broken", Severity: event.SeverityCritical, Category: alert.CategoryFraudRisk,
				Match:    func(_ *event.RiskEvent, _ []*event.RiskEvent) bool { panic("rule bug") },
				Describe: func(_ *event.RiskEvent, _ []*event.RiskEvent) string { return "" },
			},
			{
				ID: "healthy", Severity: event.SeverityWarning, Category: alert.CategoryProcessAnomaly,
				Match:    func(_ *event.RiskEvent, _ []*event.RiskEvent) bool { return true },
				Describe: func(e *event.RiskEvent, _ []*event.RiskEvent) string { return e.Summary },
			},
		},
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Handle(context.Background(), warningEvent("evt_1", "wd-1", at))

	if len(faults) != 1 || faults[0] != "broken" {
		t.Errorf("faults = %v, want [broken]", faults)
	}
	all := store.GetAll()
	if len(all) != 1 || all[0].RuleID != "healthy" {
		t.Fatalf("expected the healthy rule to fire after the broken one, got %v", all)
	}
}

func TestEngine_DescribeFaultFallsBackToSummary(t *testing.T) {
	t.Parallel()

	store := alert.NewStore(100, alert.StoreHooks{})
	e := NewEngine(store, log.Nop(), EngineHooks{}, EngineOptions{
		Rules: []Rule{{
			ID: "bad_describe", Severity: event.SeverityWarning, Category: alert.CategoryProcessAnomaly,
			Match:    func(_ *event.RiskEvent, _ []*event.RiskEvent) bool { return true },
			Describe: func(_ *event.RiskEvent, _ []*event.RiskEvent) string { panic("template bug") },
		}},
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := warningEvent("evt_1", "wd-1", at)
	e.Handle(context.Background(), ev)

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("store holds %d alerts, want 1", len(all))
	}
	if all[0].Description != ev.Summary {
		t.Errorf("Description = %q, want event summary %q", all[0].Description, ev.Summary)
	}
}

func TestEngine_SinksRunInOrderAndSurvivePanics(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, EngineOptions{})

	var order []string
	e.AddSink(func(_ context.Context, _ *alert.Alert) {
		order = append(order, "first")
		panic("sink bug")
	})
	e.AddSink(func(_ context.Context, a *alert.Alert) {
		order = append(order, "second")
		if a.RuleID != "critical_event_immediate" {
			t.Errorf("sink saw RuleID %q", a.RuleID)
		}
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Handle(context.Background(), criticalEvent("evt_1", "wd-1", at))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("sink order = %v, want [first second]", order)
	}
}

func TestEngine_SinkSeesStoredAlert(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, EngineOptions{})

	e.AddSink(func(_ context.Context, a *alert.Alert) {
		if _, ok := store.Get(a.ID); !ok {
			t.Error("sink ran before the alert was stored")
		}
	})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Handle(context.Background(), criticalEvent("evt_1", "wd-1", at))
}

func TestEngine_WindowBounds(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, EngineOptions{WindowCap: 5})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		ev := &event.RiskEvent{
			ID: fmt.Sprintf("evt_%d", i), Type: event.TypeAdminDecision,
			WithdrawalID: fmt.Sprintf("wd-%d", i),
			Severity:     event.SeverityInfo, OccurredAt: at.Add(time.Duration(i) * time.Minute),
		}
		e.Handle(ctx, ev)
	}

	if n := e.WindowSize(); n != 5 {
		t.Errorf("WindowSize = %d, want cap 5", n)
	}
	snap := e.WindowEvents()
	if snap[0].ID != "evt_3" {
		t.Errorf("oldest window event = %s, want evt_3", snap[0].ID)
	}
}

func TestEngine_WindowAgePruning(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, EngineOptions{
		Now: func() time.Time { return clock },
	})
	ctx := context.Background()

	old := warningEvent("evt_old", "wd-1", clock.Add(-25*time.Hour))
	e.Handle(ctx, old)
	e.Handle(ctx, warningEvent("evt_new", "wd-1", clock))

	for _, ev := range e.WindowEvents() {
		if ev.ID == "evt_old" {
			t.Error("25h-old event survived in the window")
		}
	}
}

func TestEngine_Hooks(t *testing.T) {
	t.Parallel()

	events, alerts, windows := 0, 0, 0
	store := alert.NewStore(100, alert.StoreHooks{})
	e := NewEngine(store, log.Nop(), EngineHooks{
		OnEvent:  func(string) { events++ },
		OnAlert:  func(string, string) { alerts++ },
		OnWindow: func(int) { windows++ },
	}, EngineOptions{})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	e.Handle(ctx, criticalEvent("evt_1", "wd-1", at))
	e.Handle(ctx, warningEvent("evt_2", "wd-2", at.Add(time.Minute)))

	if events != 2 {
		t.Errorf("OnEvent calls = %d, want 2", events)
	}
	if alerts != 1 {
		t.Errorf("OnAlert calls = %d, want 1 (only the critical event fires)", alerts)
	}
	if windows != 2 {
		t.Errorf("OnWindow calls = %d, want 2", windows)
	}
}

func TestEngine_RelatedEvidence(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, EngineOptions{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Prior warning on the same withdrawal, and one on another withdrawal
	// by the same user.
	e.Handle(ctx, warningEvent("evt_same_wd", "wd-1", at))
	other := warningEvent("evt_same_user", "wd-2", at.Add(time.Minute))
	e.Handle(ctx, other)

	e.Handle(ctx, criticalEvent("evt_trigger", "wd-1", at.Add(2*time.Minute)))

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("store holds %d alerts, want 1", len(all))
	}
	a := all[0]

	want := map[string]bool{"evt_trigger": true, "evt_same_wd": true, "evt_same_user": true}
	if len(a.RelatedEventIDs) != len(want) {
		t.Fatalf("RelatedEventIDs = %v, want 3 ids", a.RelatedEventIDs)
	}
	for _, id := range a.RelatedEventIDs {
		if !want[id] {
			t.Errorf("unexpected related event %s", id)
		}
	}

	// Sources are the sorted union of the evidence events' sources.
	if len(a.Sources) != 2 || a.Sources[0] != "limits" || a.Sources[1] != "workflow" {
		t.Errorf("Sources = %v, want [limits workflow]", a.Sources)
	}
}

func TestEngine_RelatedUserEvidenceCapped(t *testing.T) {
	t.Parallel()

	e, store := newTestEngine(t, EngineOptions{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// 15 info events by the same user on distinct withdrawals.
	for i := 0; i < 15; i++ {
		e.Handle(ctx, &event.RiskEvent{
			ID: fmt.Sprintf("evt_u%d", i), Type: event.TypeAdminDecision,
			WithdrawalID: fmt.Sprintf("wd-%d", i), UserID: "u-1",
			Severity: event.SeverityInfo, OccurredAt: at.Add(time.Duration(i) * time.Second),
		})
	}

	e.Handle(ctx, criticalEvent("evt_trigger", "wd-x", at.Add(time.Minute)))

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("store holds %d alerts, want 1", len(all))
	}
	// trigger + at most relatedUserEventCap user events
	if got := len(all[0].RelatedEventIDs); got != 1+relatedUserEventCap {
		t.Errorf("RelatedEventIDs count = %d, want %d", got, 1+relatedUserEventCap)
	}
}
