// Package alerting turns risk events into admin alerts. It owns the sliding
// window of recent events and the ordered threshold-rule catalog; for each
// incoming event at most one alert is emitted, by the first matching rule.
package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/event"
)

// relatedUserEventCap bounds how many same-user window events an alert links.
const relatedUserEventCap = 10

// Sink receives every alert the engine emits, after it has been stored.
// Sinks run synchronously in registration order; a panicking sink is
// recovered and logged so it cannot poison the bus dispatch above.
type Sink func(ctx context.Context, a *alert.Alert)

// EngineHooks are optional instrumentation callbacks. Nil fields are skipped.
type EngineHooks struct {
	OnEvent     func(eventType string)
	OnRuleFault func(ruleID string)
	OnAlert     func(ruleID string, severity string)
	OnWindow    func(size int)
}

// Engine evaluates the threshold-rule catalog against each published event.
// It keeps the sliding window, writes matched alerts to the store, and fans
// them out to sinks. All mutable state is guarded by one lock.
type Engine struct {
	logger log.Logger
	store  *alert.Store
	hooks  EngineHooks
	now    func() time.Time

	mu       sync.Mutex
	win      *window
	rules    []Rule
	disabled map[string]bool
	sinks    []Sink
}

// EngineOptions tune the engine. Zero values fall back to defaults.
type EngineOptions struct {
	WindowCap    int
	WindowMaxAge time.Duration
	Rules        []Rule           // defaults to Catalog()
	Now          func() time.Time // defaults to time.Now
}

// NewEngine creates an Engine writing alerts to store.
func NewEngine(store *alert.Store, logger log.Logger, hooks EngineHooks, opts EngineOptions) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	rules := opts.Rules
	if rules == nil {
		rules = Catalog()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		logger:   logger,
		store:    store,
		hooks:    hooks,
		now:      now,
		win:      newWindow(opts.WindowCap, opts.WindowMaxAge),
		rules:    rules,
		disabled: map[string]bool{},
	}
}

// AddSink registers a sink for emitted alerts.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// SetDisabledRules replaces the set of rule IDs skipped during evaluation.
func (e *Engine) SetDisabledRules(ids []string) {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	e.mu.Lock()
	e.disabled = m
	e.mu.Unlock()
}

// WindowSize reports how many events the window currently holds.
func (e *Engine) WindowSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.win.len()
}

// WindowEvents returns a snapshot of the window, oldest first.
func (e *Engine) WindowEvents() []*event.RiskEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.win.snapshot()
}

// Handle is the bus subscriber. It inserts the event into the window,
// evaluates rules in order, and emits at most one alert. It never panics:
// a faulting rule is logged and skipped, and any residual failure is
// recovered here so the bus contract holds.
func (e *Engine) Handle(ctx context.Context, ev *event.RiskEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("alert engine panic: %v", r),
				"event processing failed", "event_id", ev.ID)
		}
	}()

	if e.hooks.OnEvent != nil {
		e.hooks.OnEvent(string(ev.Type))
	}

	now := e.now()

	e.mu.Lock()
	e.win.add(ev, now)
	win := e.win.snapshot()
	rules := e.rules
	disabled := e.disabled
	sinks := make([]Sink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.Unlock()

	if e.hooks.OnWindow != nil {
		e.hooks.OnWindow(len(win))
	}

	matched, ok := e.firstMatch(ctx, ev, win, rules, disabled)
	if !ok {
		return
	}

	a := e.buildAlert(ctx, matched, ev, win, now)
	if a == nil {
		return
	}

	e.store.Add(a)
	if e.hooks.OnAlert != nil {
		e.hooks.OnAlert(matched.ID, string(a.Severity))
	}
	e.logger.Info(ctx, "alert emitted",
		"alert_id", a.ID,
		"rule", matched.ID,
		"severity", string(a.Severity),
		"category", string(a.Category),
		"withdrawal_id", a.WithdrawalID,
	)

	for _, s := range sinks {
		e.runSink(ctx, s, a)
	}
}

// firstMatch walks the catalog in order and returns the first rule that
// matches. A rule whose Match panics is logged and skipped; evaluation
// continues with the rest of the catalog.
func (e *Engine) firstMatch(ctx context.Context, ev *event.RiskEvent, win []*event.RiskEvent, rules []Rule, disabled map[string]bool) (Rule, bool) {
	for _, r := range rules {
		if disabled[r.ID] {
			continue
		}
		hit, err := evalMatch(r, ev, win)
		if err != nil {
			if e.hooks.OnRuleFault != nil {
				e.hooks.OnRuleFault(r.ID)
			}
			e.logger.Error(ctx, err, "threshold rule failed, skipping",
				"rule", r.ID, "event_id", ev.ID)
			continue
		}
		if hit {
			return r, true
		}
	}
	return Rule{}, false
}

func (e *Engine) runSink(ctx context.Context, s Sink, a *alert.Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("alert sink panic: %v", r),
				"alert sink failed", "alert_id", a.ID)
		}
	}()
	s(ctx, a)
}

func evalMatch(r Rule, ev *event.RiskEvent, win []*event.RiskEvent) (hit bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rule %s match panic: %v", r.ID, rec)
		}
	}()
	return r.Match(ev, win), nil
}

// buildAlert assembles the alert for a matched rule. The description comes
// from the rule's Describe; a panicking Describe is logged and the event
// summary is used instead, so a bad renderer cannot drop the alert.
func (e *Engine) buildAlert(ctx context.Context, r Rule, ev *event.RiskEvent, win []*event.RiskEvent, now time.Time) *alert.Alert {
	related, sources := relatedEvidence(ev, win)

	desc, err := evalDescribe(r, ev, win)
	if err != nil {
		e.logger.Error(ctx, err, "rule description failed, using event summary",
			"rule", r.ID, "event_id", ev.ID)
		desc = ev.Summary
	}

	return &alert.Alert{
		ID:              alert.NewID(now, r.Severity, r.Category, related, ev.WithdrawalID, ev.UserID),
		RuleID:          r.ID,
		Severity:        r.Severity,
		Category:        r.Category,
		Title:           ruleTitle(r, ev),
		Description:     desc,
		RelatedEventIDs: related,
		WithdrawalID:    ev.WithdrawalID,
		UserID:          ev.UserID,
		RiskLevel:       ev.RiskLevel,
		Sources:         sources,
		CreatedAt:       now,
	}
}

func evalDescribe(r Rule, ev *event.RiskEvent, win []*event.RiskEvent) (desc string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rule %s describe panic: %v", r.ID, rec)
		}
	}()
	return r.Describe(ev, win), nil
}

func ruleTitle(r Rule, ev *event.RiskEvent) string {
	return fmt.Sprintf("[%s] %s (withdrawal %s)", r.Severity, r.ID, ev.WithdrawalID)
}

// relatedEvidence collects the event IDs and sources the alert is backed by:
// the triggering event, every window event on the same withdrawal, and up to
// relatedUserEventCap most-recent window events by the same user.
func relatedEvidence(ev *event.RiskEvent, win []*event.RiskEvent) (ids, sources []string) {
	seen := map[string]bool{ev.ID: true}
	srcs := map[string]bool{}
	if ev.Source != "" {
		srcs[ev.Source] = true
	}
	ids = []string{ev.ID}

	for _, w := range win {
		if w.WithdrawalID != ev.WithdrawalID || seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		ids = append(ids, w.ID)
		if w.Source != "" {
			srcs[w.Source] = true
		}
	}

	if ev.UserID != "" {
		// newest first for the user cap
		userMatches := 0
		for i := len(win) - 1; i >= 0 && userMatches < relatedUserEventCap; i-- {
			w := win[i]
			if w.UserID != ev.UserID {
				continue
			}
			userMatches++
			if seen[w.ID] {
				continue
			}
			seen[w.ID] = true
			ids = append(ids, w.ID)
			if w.Source != "" {
				srcs[w.Source] = true
			}
		}
	}

	sources = make([]string, 0, len(srcs))
	for s := range srcs {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return ids, sources
}
