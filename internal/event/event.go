// Package event defines the canonical risk event model and the normalizers
// that map facts from producing subsystems into it. Events are immutable
// once built and carry deterministic identities.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Type identifies which subsystem behavior produced the event.
type Type string

const (
	// TypeLimitViolation means a withdrawal breached a policy limit.
	TypeLimitViolation Type = "LIMIT_VIOLATION_DETECTED"

	// TypeCoolingApplied means a cooling period was enforced on a withdrawal.
	TypeCoolingApplied Type = "COOLING_APPLIED"

	// TypeApprovalGated means a withdrawal was routed to manual approval.
	TypeApprovalGated Type = "APPROVAL_GATED"

	// TypeTransitionGated means a state transition was blocked pending review.
	TypeTransitionGated Type = "TRANSITION_GATED"

	// TypeRiskEscalated means the risk engine raised a withdrawal's risk level.
	TypeRiskEscalated Type = "RISK_ESCALATED"

	// TypePlaybookRecommended means a response playbook matched the withdrawal.
	TypePlaybookRecommended Type = "PLAYBOOK_RECOMMENDED"

	// TypeAdminDecision means an administrator decided on a gated withdrawal.
	TypeAdminDecision Type = "ADMIN_DECISION"

	// TypeIncidentReconstructed means an incident was rebuilt from stored alerts.
	TypeIncidentReconstructed Type = "INCIDENT_RECONSTRUCTED"
)

// RiskLevel is the risk classification established by the producer.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Severity ranks how urgent an event or alert is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordering of a severity (INFO < WARNING < CRITICAL).
// Unknown severities rank below INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RiskEvent is the canonical record of a single risk-relevant occurrence.
// Fields are established facts from the producer; nothing is inferred here.
// A RiskEvent is never mutated after construction.
type RiskEvent struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	OccurredAt   time.Time         `json:"occurred_at"`
	WithdrawalID string            `json:"withdrawal_id"`
	UserID       string            `json:"user_id"`
	RiskLevel    RiskLevel         `json:"risk_level,omitempty"`
	RiskScore    float64           `json:"risk_score,omitempty"`
	Source       string            `json:"source"`
	Severity     Severity          `json:"severity"`
	Summary      string            `json:"summary"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether the event carries the fields the bus requires.
func (e *RiskEvent) Valid() bool {
	return e != nil && e.ID != "" && e.Type != "" && e.WithdrawalID != ""
}

// NewID derives the deterministic event identity. Two events built from the
// same (withdrawalID, type, occurredAt, source) tuple always share an ID,
// which is what makes replays dedup-stable downstream.
func NewID(withdrawalID string, t Type, occurredAt time.Time, source string) string {
	h := sha256.New()
	h.Write([]byte(withdrawalID))
	h.Write([]byte{'|'})
	h.Write([]byte(t))
	h.Write([]byte{'|'})
	h.Write([]byte(occurredAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	h.Write([]byte(source))
	return "evt_" + hex.EncodeToString(h.Sum(nil))[:32]
}
