package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/linnemanlabs/riskwatch/internal/event"
)

// eventEnvelope is the ingest payload: the event type plus the facts the
// matching normalizer needs. Fields irrelevant to the type are ignored.
type eventEnvelope struct {
	Type         event.Type      `json:"type"`
	WithdrawalID string          `json:"withdrawal_id"`
	UserID       string          `json:"user_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Source       string          `json:"source"`
	RiskLevel    event.RiskLevel `json:"risk_level"`
	RiskScore    float64         `json:"risk_score"`

	// limit violation
	LimitType string  `json:"limit_type"`
	Limit     float64 `json:"limit"`
	Attempted float64 `json:"attempted"`
	Currency  string  `json:"currency"`

	// cooling / approval / escalation
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`

	// transition gating
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`

	// escalation
	FromLevel event.RiskLevel `json:"from_level"`
	ToLevel   event.RiskLevel `json:"to_level"`

	// playbook
	PlaybookID   string `json:"playbook_id"`
	PlaybookName string `json:"playbook_name"`

	// admin decision
	AdminID  string `json:"admin_id"`
	Decision string `json:"decision"`
	Note     string `json:"note"`

	// incident reconstruction
	IncidentID string `json:"incident_id"`
	AlertCount int    `json:"alert_count"`
}

func (a *API) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var env eventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if env.WithdrawalID == "" || env.Source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "withdrawal_id and source are required"})
		return
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}

	ev, err := env.normalize()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	a.bus.Publish(r.Context(), ev)

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": ev.ID})
}

// normalize routes the envelope through the normalizer for its event type.
func (env *eventEnvelope) normalize() (*event.RiskEvent, error) {
	switch env.Type {
	case event.TypeLimitViolation:
		return event.NormalizeLimitViolation(event.LimitViolationFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			LimitType:    env.LimitType,
			Limit:        env.Limit,
			Attempted:    env.Attempted,
			Currency:     env.Currency,
			RiskLevel:    env.RiskLevel,
		}), nil
	case event.TypeCoolingApplied:
		return event.NormalizeCoolingApplied(event.CoolingAppliedFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			Reason:       env.Reason,
			Until:        env.Until,
			RiskLevel:    env.RiskLevel,
		}), nil
	case event.TypeApprovalGated:
		return event.NormalizeApprovalGated(event.ApprovalGatedFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			Reason:       env.Reason,
			RiskLevel:    env.RiskLevel,
			RiskScore:    env.RiskScore,
		}), nil
	case event.TypeTransitionGated:
		return event.NormalizeTransitionGated(event.TransitionGatedFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			FromState:    env.FromState,
			ToState:      env.ToState,
			RiskLevel:    env.RiskLevel,
		}), nil
	case event.TypeRiskEscalated:
		return event.NormalizeRiskEscalated(event.RiskEscalatedFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			FromLevel:    env.FromLevel,
			ToLevel:      env.ToLevel,
			RiskScore:    env.RiskScore,
			Reason:       env.Reason,
		}), nil
	case event.TypePlaybookRecommended:
		return event.NormalizePlaybookRecommended(event.PlaybookRecommendedFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			PlaybookID:   env.PlaybookID,
			PlaybookName: env.PlaybookName,
			RiskLevel:    env.RiskLevel,
		}), nil
	case event.TypeAdminDecision:
		return event.NormalizeAdminDecision(event.AdminDecisionFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			AdminID:      env.AdminID,
			Decision:     env.Decision,
			Note:         env.Note,
			RiskLevel:    env.RiskLevel,
		}), nil
	case event.TypeIncidentReconstructed:
		return event.NormalizeIncidentReconstructed(event.IncidentReconstructedFact{
			WithdrawalID: env.WithdrawalID,
			UserID:       env.UserID,
			OccurredAt:   env.OccurredAt,
			Source:       env.Source,
			IncidentID:   env.IncidentID,
			AlertCount:   env.AlertCount,
		}), nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
