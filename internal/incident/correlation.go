// Package incident groups correlated alerts into reviewable incidents. The
// correlation rules are pure functions over alerts and incidents; the
// Registry applies them and owns all mutable state.
package incident

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/event"
)

const (
	// DefaultStalenessThreshold is how long after its last alert an
	// incident stays OPEN.
	DefaultStalenessThreshold = 6 * time.Hour

	// userCategoryWindow bounds rule B: alerts for the same user and
	// category correlate only within this span.
	userCategoryWindow = 24 * time.Hour

	// hourBucketLayout buckets rule B keys by hour.
	hourBucketLayout = "2006010215"
)

// CorrelationKey computes the grouping key for an alert. Rules are tried in
// order: (A) same withdrawal, (B) same user and category bucketed by hour,
// (C) shared related event. An alert matching none of them gets a unique
// fallback key and forms its own singleton incident.
func CorrelationKey(a *alert.Alert) string {
	if a.WithdrawalID != "" {
		return "withdrawal:" + a.WithdrawalID
	}
	if a.UserID != "" {
		return fmt.Sprintf("user_category:%s:%s:%s",
			a.UserID, a.Category, a.CreatedAt.UTC().Format(hourBucketLayout))
	}
	if len(a.RelatedEventIDs) > 0 {
		return "event:" + a.RelatedEventIDs[0]
	}
	return "alert:" + ulid.Make().String()
}

// ShouldCorrelate reports whether a belongs in inc, re-trying the key rules
// as predicates in the same A, B, C order; the first that holds wins.
func ShouldCorrelate(a *alert.Alert, inc *Incident) bool {
	if a.WithdrawalID != "" && a.WithdrawalID == inc.WithdrawalID {
		return true
	}
	if a.UserID != "" && a.UserID == inc.UserID && a.Category == inc.Category {
		d := a.CreatedAt.Sub(inc.LastSeenAt)
		if d < 0 {
			d = -d
		}
		if d <= userCategoryWindow {
			return true
		}
	}
	if len(a.RelatedEventIDs) > 0 && len(inc.RelatedEventIDs) > 0 {
		seen := make(map[string]bool, len(inc.RelatedEventIDs))
		for _, id := range inc.RelatedEventIDs {
			seen[id] = true
		}
		for _, id := range a.RelatedEventIDs {
			if seen[id] {
				return true
			}
		}
	}
	return false
}

// IsStale reports whether an incident has gone quiet for longer than the
// staleness threshold.
func IsStale(inc *Incident, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	return now.Sub(inc.LastSeenAt) > threshold
}

// New builds an incident from its founding alert set. The identity is
// derived once, from the founding alerts; folding more alerts in later
// recomputes every other field but never the ID.
func New(alerts []*alert.Alert) *Incident {
	inc := &Incident{}
	recompute(inc, alerts)
	inc.ID = newIncidentID(inc.AlertIDs, inc.WithdrawalID, inc.UserID, inc.Category, inc.FirstSeenAt)
	return inc
}

// Fold returns inc rebuilt with all derived fields recomputed from the full
// alert set. The result is independent of the order alerts arrived in.
func Fold(inc *Incident, alerts []*alert.Alert) *Incident {
	out := &Incident{ID: inc.ID}
	recompute(out, alerts)
	return out
}

// recompute derives every non-identity field from the complete alert set,
// sorted by creation time. Nothing is patched incrementally, so re-running
// or reordering can never produce divergent state. Severity is the max over
// members; since alerts are never removed it can only increase.
func recompute(inc *Incident, alerts []*alert.Alert) {
	sorted := make([]*alert.Alert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	inc.AlertIDs = make([]string, 0, len(sorted))
	inc.Severity = ""
	eventIDs := map[string]bool{}
	sources := map[string]bool{}

	for i, a := range sorted {
		if i == 0 {
			inc.WithdrawalID = a.WithdrawalID
			inc.UserID = a.UserID
			inc.Category = a.Category
			inc.RiskLevel = a.RiskLevel
			inc.FirstSeenAt = a.CreatedAt
		}
		inc.LastSeenAt = a.CreatedAt
		inc.AlertIDs = append(inc.AlertIDs, a.ID)
		inc.Severity = event.MaxSeverity(inc.Severity, a.Severity)
		if a.RiskLevel == event.RiskHigh {
			inc.RiskLevel = event.RiskHigh
		}
		for _, id := range a.RelatedEventIDs {
			eventIDs[id] = true
		}
		for _, s := range a.Sources {
			sources[s] = true
		}
	}

	inc.RelatedEventIDs = sortedKeys(eventIDs)
	inc.Sources = sortedKeys(sources)
	inc.AlertCount = len(inc.AlertIDs)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
