package event

import (
	"fmt"
	"strconv"
	"time"
)

// Fact structs below carry already-validated facts from the producing
// subsystems. Normalizers never look anything up and never fail: the caller
// owns correctness of the facts, the normalizer owns the canonical shape and
// the per-type severity mapping.

// LimitViolationFact describes a policy-limit breach on a withdrawal.
type LimitViolationFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	LimitType    string // daily_amount, monthly_amount, velocity, ...
	Limit        float64
	Attempted    float64
	Currency     string
	RiskLevel    RiskLevel
}

// CoolingAppliedFact describes a cooling period enforced on a withdrawal.
type CoolingAppliedFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	Reason       string
	Until        time.Time
	RiskLevel    RiskLevel
}

// ApprovalGatedFact describes a withdrawal routed to manual approval.
type ApprovalGatedFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	Reason       string
	RiskLevel    RiskLevel
	RiskScore    float64
}

// TransitionGatedFact describes a blocked state transition.
type TransitionGatedFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	FromState    string
	ToState      string
	RiskLevel    RiskLevel
}

// RiskEscalatedFact describes the risk engine raising a withdrawal's level.
type RiskEscalatedFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	FromLevel    RiskLevel
	ToLevel      RiskLevel
	RiskScore    float64
	Reason       string
}

// PlaybookRecommendedFact describes a response playbook match.
type PlaybookRecommendedFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	PlaybookID   string
	PlaybookName string
	RiskLevel    RiskLevel
}

// AdminDecisionFact describes an administrator's decision on a withdrawal.
type AdminDecisionFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	AdminID      string
	Decision     string // approved, rejected, escalated
	Note         string
	RiskLevel    RiskLevel
}

// IncidentReconstructedFact describes an incident rebuilt from stored alerts.
type IncidentReconstructedFact struct {
	WithdrawalID string
	UserID       string
	OccurredAt   time.Time
	Source       string
	IncidentID   string
	AlertCount   int
}

// NormalizeLimitViolation maps a policy-limit breach to a CRITICAL event.
func NormalizeLimitViolation(f LimitViolationFact) *RiskEvent {
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypeLimitViolation, f.OccurredAt, f.Source),
		Type:         TypeLimitViolation,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		RiskLevel:    f.RiskLevel,
		Source:       f.Source,
		Severity:     SeverityCritical,
		Summary: fmt.Sprintf("withdrawal %s exceeded %s limit: attempted %s %s, limit %s %s",
			f.WithdrawalID, f.LimitType,
			formatAmount(f.Attempted), f.Currency,
			formatAmount(f.Limit), f.Currency),
		Metadata: map[string]string{
			"limit_type": f.LimitType,
			"limit":      formatAmount(f.Limit),
			"attempted":  formatAmount(f.Attempted),
			"currency":   f.Currency,
		},
	}
}

// NormalizeCoolingApplied maps a cooling-period enforcement to a WARNING event.
func NormalizeCoolingApplied(f CoolingAppliedFact) *RiskEvent {
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypeCoolingApplied, f.OccurredAt, f.Source),
		Type:         TypeCoolingApplied,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		RiskLevel:    f.RiskLevel,
		Source:       f.Source,
		Severity:     SeverityWarning,
		Summary: fmt.Sprintf("cooling period applied to withdrawal %s until %s: %s",
			f.WithdrawalID, f.Until.UTC().Format(time.RFC3339), f.Reason),
		Metadata: map[string]string{
			"reason": f.Reason,
			"until":  f.Until.UTC().Format(time.RFC3339),
		},
	}
}

// NormalizeApprovalGated maps an approval-gating decision to a WARNING event.
func NormalizeApprovalGated(f ApprovalGatedFact) *RiskEvent {
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypeApprovalGated, f.OccurredAt, f.Source),
		Type:         TypeApprovalGated,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		RiskLevel:    f.RiskLevel,
		RiskScore:    f.RiskScore,
		Source:       f.Source,
		Severity:     SeverityWarning,
		Summary: fmt.Sprintf("withdrawal %s gated for manual approval: %s",
			f.WithdrawalID, f.Reason),
		Metadata: map[string]string{
			"reason": f.Reason,
		},
	}
}

// NormalizeTransitionGated maps a blocked state transition to a WARNING event.
func NormalizeTransitionGated(f TransitionGatedFact) *RiskEvent {
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypeTransitionGated, f.OccurredAt, f.Source),
		Type:         TypeTransitionGated,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		RiskLevel:    f.RiskLevel,
		Source:       f.Source,
		Severity:     SeverityWarning,
		Summary: fmt.Sprintf("withdrawal %s transition %s -> %s blocked pending review",
			f.WithdrawalID, f.FromState, f.ToState),
		Metadata: map[string]string{
			"from_state": f.FromState,
			"to_state":   f.ToState,
		},
	}
}

// NormalizeRiskEscalated maps a risk-level escalation to a WARNING event.
// The threshold layer upgrades HIGH-risk escalations; the event itself stays
// WARNING so pattern rules can see the raw escalation.
func NormalizeRiskEscalated(f RiskEscalatedFact) *RiskEvent {
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypeRiskEscalated, f.OccurredAt, f.Source),
		Type:         TypeRiskEscalated,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		RiskLevel:    f.ToLevel,
		RiskScore:    f.RiskScore,
		Source:       f.Source,
		Severity:     SeverityWarning,
		Summary: fmt.Sprintf("risk level for withdrawal %s escalated %s -> %s: %s",
			f.WithdrawalID, f.FromLevel, f.ToLevel, f.Reason),
		Metadata: map[string]string{
			"from_level": string(f.FromLevel),
			"to_level":   string(f.ToLevel),
			"reason":     f.Reason,
		},
	}
}

// NormalizePlaybookRecommended maps a playbook match to an INFO event,
// upgraded to WARNING when the withdrawal is HIGH risk.
func NormalizePlaybookRecommended(f PlaybookRecommendedFact) *RiskEvent {
	sev := SeverityInfo
	if f.RiskLevel == RiskHigh {
		sev = SeverityWarning
	}
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypePlaybookRecommended, f.OccurredAt, f.Source),
		Type:         TypePlaybookRecommended,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		RiskLevel:    f.RiskLevel,
		Source:       f.Source,
		Severity:     sev,
		Summary: fmt.Sprintf("playbook %q matched withdrawal %s",
			f.PlaybookName, f.WithdrawalID),
		Metadata: map[string]string{
			"playbook_id":   f.PlaybookID,
			"playbook_name": f.PlaybookName,
		},
	}
}

// NormalizeAdminDecision maps an admin decision to an INFO event.
func NormalizeAdminDecision(f AdminDecisionFact) *RiskEvent {
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypeAdminDecision, f.OccurredAt, f.Source),
		Type:         TypeAdminDecision,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		RiskLevel:    f.RiskLevel,
		Source:       f.Source,
		Severity:     SeverityInfo,
		Summary: fmt.Sprintf("admin %s decision on withdrawal %s: %s",
			f.AdminID, f.WithdrawalID, f.Decision),
		Metadata: map[string]string{
			"admin_id": f.AdminID,
			"decision": f.Decision,
			"note":     f.Note,
		},
	}
}

// NormalizeIncidentReconstructed maps an incident rebuild to an INFO event.
func NormalizeIncidentReconstructed(f IncidentReconstructedFact) *RiskEvent {
	return &RiskEvent{
		ID:           NewID(f.WithdrawalID, TypeIncidentReconstructed, f.OccurredAt, f.Source),
		Type:         TypeIncidentReconstructed,
		OccurredAt:   f.OccurredAt,
		WithdrawalID: f.WithdrawalID,
		UserID:       f.UserID,
		Source:       f.Source,
		Severity:     SeverityInfo,
		Summary: fmt.Sprintf("incident %s reconstructed from %d stored alerts",
			f.IncidentID, f.AlertCount),
		Metadata: map[string]string{
			"incident_id": f.IncidentID,
			"alert_count": strconv.Itoa(f.AlertCount),
		},
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
