package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/event"
)

// Status is the derived lifecycle state of an incident. It is never set
// directly: an incident is STALE exactly when its last alert is older than
// the staleness threshold, and flips back to nothing — staleness is a
// property of elapsed time, recomputed on every read and mutation.
type Status string

const (
	// StatusOpen means the incident saw an alert recently.
	StatusOpen Status = "OPEN"

	// StatusStale means the incident has gone quiet past the threshold.
	StatusStale Status = "STALE"
)

// Incident is the mutable aggregate grouping correlated alerts. Every field
// other than ID is derived from the full member alert set.
type Incident struct {
	ID              string          `json:"id"`
	Severity        event.Severity  `json:"severity"`
	Status          Status          `json:"status"`
	Category        alert.Category  `json:"category"`
	AlertIDs        []string        `json:"alert_ids"`
	RelatedEventIDs []string        `json:"related_event_ids"`
	Sources         []string        `json:"sources"`
	WithdrawalID    string          `json:"withdrawal_id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	RiskLevel       event.RiskLevel `json:"risk_level,omitempty"`
	FirstSeenAt     time.Time       `json:"first_seen_at"`
	LastSeenAt      time.Time       `json:"last_seen_at"`
	AlertCount      int             `json:"alert_count"`
}

// WithAlerts is an incident with its member alerts resolved.
type WithAlerts struct {
	Incident
	Alerts []*alert.Alert `json:"alerts"`
}

// clone returns a deep-enough copy for handing outside the registry lock.
func (i *Incident) clone() *Incident {
	cp := *i
	cp.AlertIDs = append([]string(nil), i.AlertIDs...)
	cp.RelatedEventIDs = append([]string(nil), i.RelatedEventIDs...)
	cp.Sources = append([]string(nil), i.Sources...)
	return &cp
}

// newIncidentID derives the incident identity from the founding alert set.
func newIncidentID(alertIDs []string, withdrawalID, userID string, category alert.Category, firstSeenAt time.Time) string {
	sorted := make([]string, len(alertIDs))
	copy(sorted, alertIDs)
	sort.Strings(sorted)

	h := sha256.New()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{'|'})
	}
	h.Write([]byte(withdrawalID))
	h.Write([]byte{'|'})
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(category))
	h.Write([]byte{'|'})
	h.Write([]byte(firstSeenAt.UTC().Format(time.RFC3339Nano)))
	return "inc_" + hex.EncodeToString(h.Sum(nil))[:32]
}
