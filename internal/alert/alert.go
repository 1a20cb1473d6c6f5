// Package alert defines the admin alert model and the bounded in-memory
// alert store. Alerts are immutable: created once by the threshold engine,
// stored, and never edited afterwards.
package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/linnemanlabs/riskwatch/internal/event"
)

// Category classifies what kind of review an alert calls for.
type Category string

const (
	// CategoryFraudRisk means the alert suggests fraudulent activity.
	CategoryFraudRisk Category = "FRAUD_RISK"

	// CategoryCompliance means the alert is a regulatory/policy concern.
	CategoryCompliance Category = "COMPLIANCE"

	// CategoryProcessAnomaly means an unusual but procedural occurrence.
	CategoryProcessAnomaly Category = "PROCESS_ANOMALY"

	// CategorySystemSignal means a signal about the platform itself.
	CategorySystemSignal Category = "SYSTEM_SIGNAL"
)

// Alert is an immutable admin notification derived from one or more risk
// events.
type Alert struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id"`
	Severity        event.Severity  `json:"severity"`
	Category        Category        `json:"category"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	RelatedEventIDs []string        `json:"related_event_ids"`
	WithdrawalID    string          `json:"withdrawal_id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	RiskLevel       event.RiskLevel `json:"risk_level,omitempty"`
	Sources         []string        `json:"sources"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewID derives the deterministic alert identity. relatedEventIDs are sorted
// before hashing so the ID does not depend on collection order.
func NewID(createdAt time.Time, severity event.Severity, category Category, relatedEventIDs []string, withdrawalID, userID string) string {
	sorted := make([]string, len(relatedEventIDs))
	copy(sorted, relatedEventIDs)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	h.Write([]byte(severity))
	h.Write([]byte{'|'})
	h.Write([]byte(category))
	for _, id := range sorted {
		h.Write([]byte{'|'})
		h.Write([]byte(id))
	}
	h.Write([]byte{'|'})
	h.Write([]byte(withdrawalID))
	h.Write([]byte{'|'})
	h.Write([]byte(userID))
	return "alr_" + hex.EncodeToString(h.Sum(nil))[:32]
}
