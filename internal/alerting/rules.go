package alerting

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/event"
)

// Rule is a data-described threshold check. Match decides whether the rule
// fires for an event given the current window; Describe renders the alert's
// evidence-backed description. Rules are evaluated in catalog order and the
// first match wins, so CRITICAL-producing rules must come first.
type Rule struct {
	ID       string
	Severity event.Severity
	Category alert.Category
	Match    func(e *event.RiskEvent, win []*event.RiskEvent) bool
	Describe func(e *event.RiskEvent, win []*event.RiskEvent) string
}

const (
	highRiskPatternWindow = 24 * time.Hour
	highRiskPatternMin    = 2
	warningBurstWindow    = time.Hour
	warningBurstMin       = 3
)

// Catalog returns the ordered threshold-rule set. The order is part of the
// contract: an event matching several rules produces exactly one alert,
// tagged with the first rule in this list.
func Catalog() []Rule {
	return []Rule{
		{
			ID:       "critical_event_immediate",
			Severity: event.SeverityCritical,
			Category: alert.CategoryFraudRisk,
			Match: func(e *event.RiskEvent, _ []*event.RiskEvent) bool {
				return e.Severity == event.SeverityCritical
			},
			Describe: func(e *event.RiskEvent, _ []*event.RiskEvent) string {
				return fmt.Sprintf("critical event %s on withdrawal %s: %s",
					e.Type, e.WithdrawalID, e.Summary)
			},
		},
		{
			ID:       "high_risk_escalation",
			Severity: event.SeverityCritical,
			Category: alert.CategoryFraudRisk,
			Match: func(e *event.RiskEvent, _ []*event.RiskEvent) bool {
				return e.Type == event.TypeRiskEscalated && e.RiskLevel == event.RiskHigh
			},
			Describe: func(e *event.RiskEvent, _ []*event.RiskEvent) string {
				return fmt.Sprintf("withdrawal %s escalated to HIGH risk: %s",
					e.WithdrawalID, e.Summary)
			},
		},
		{
			ID:       "policy_limit_violation",
			Severity: event.SeverityCritical,
			Category: alert.CategoryCompliance,
			Match: func(e *event.RiskEvent, _ []*event.RiskEvent) bool {
				return e.Type == event.TypeLimitViolation
			},
			Describe: func(e *event.RiskEvent, _ []*event.RiskEvent) string {
				return fmt.Sprintf("policy limit violated on withdrawal %s: %s",
					e.WithdrawalID, e.Summary)
			},
		},
		{
			ID:       "approval_gated_high_risk",
			Severity: event.SeverityCritical,
			Category: alert.CategoryFraudRisk,
			Match: func(e *event.RiskEvent, _ []*event.RiskEvent) bool {
				return e.Type == event.TypeApprovalGated && e.RiskLevel == event.RiskHigh
			},
			Describe: func(e *event.RiskEvent, _ []*event.RiskEvent) string {
				return fmt.Sprintf("HIGH-risk withdrawal %s gated for approval: %s",
					e.WithdrawalID, e.Summary)
			},
		},
		{
			ID:       "user_high_risk_pattern",
			Severity: event.SeverityCritical,
			Category: alert.CategoryFraudRisk,
			Match: func(e *event.RiskEvent, win []*event.RiskEvent) bool {
				if e.UserID == "" || e.RiskLevel != event.RiskHigh {
					return false
				}
				return countUserHighRisk(e, win) >= highRiskPatternMin
			},
			Describe: func(e *event.RiskEvent, win []*event.RiskEvent) string {
				return fmt.Sprintf("user %s generated %d HIGH-risk events within 24h, latest on withdrawal %s",
					e.UserID, countUserHighRisk(e, win), e.WithdrawalID)
			},
		},
		{
			ID:       "multiple_warnings_same_withdrawal",
			Severity: event.SeverityWarning,
			Category: alert.CategoryFraudRisk,
			Match: func(e *event.RiskEvent, win []*event.RiskEvent) bool {
				return countWithdrawalWarnings(e, win) >= warningBurstMin
			},
			Describe: func(e *event.RiskEvent, win []*event.RiskEvent) string {
				return fmt.Sprintf("withdrawal %s accumulated %d WARNING events within 1h",
					e.WithdrawalID, countWithdrawalWarnings(e, win))
			},
		},
		{
			ID:       "cooling_period_applied",
			Severity: event.SeverityWarning,
			Category: alert.CategoryProcessAnomaly,
			Match: func(e *event.RiskEvent, _ []*event.RiskEvent) bool {
				return e.Type == event.TypeCoolingApplied
			},
			Describe: func(e *event.RiskEvent, _ []*event.RiskEvent) string {
				return fmt.Sprintf("cooling period enforced on withdrawal %s: %s",
					e.WithdrawalID, e.Summary)
			},
		},
		{
			ID:       "playbook_recommended_high_risk",
			Severity: event.SeverityWarning,
			Category: alert.CategoryFraudRisk,
			Match: func(e *event.RiskEvent, _ []*event.RiskEvent) bool {
				return e.Type == event.TypePlaybookRecommended && e.RiskLevel == event.RiskHigh
			},
			Describe: func(e *event.RiskEvent, _ []*event.RiskEvent) string {
				return fmt.Sprintf("playbook matched HIGH-risk withdrawal %s: %s",
					e.WithdrawalID, e.Summary)
			},
		},
	}
}

// countUserHighRisk counts HIGH-risk events by e's user within 24h of e,
// counting e itself. The window already holds e at evaluation time.
func countUserHighRisk(e *event.RiskEvent, win []*event.RiskEvent) int {
	cutoff := e.OccurredAt.Add(-highRiskPatternWindow)
	n := 0
	for _, w := range win {
		if w.UserID == e.UserID && w.RiskLevel == event.RiskHigh && !w.OccurredAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// countWithdrawalWarnings counts WARNING events on e's withdrawal within 1h
// of e, counting e itself.
func countWithdrawalWarnings(e *event.RiskEvent, win []*event.RiskEvent) int {
	cutoff := e.OccurredAt.Add(-warningBurstWindow)
	n := 0
	for _, w := range win {
		if w.WithdrawalID == e.WithdrawalID && w.Severity == event.SeverityWarning && !w.OccurredAt.Before(cutoff) {
			n++
		}
	}
	return n
}
