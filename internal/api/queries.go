package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/event"
	"github.com/linnemanlabs/riskwatch/internal/incident"
)

func (a *API) handleQueryAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := a.alerts.Find(alert.Query{
		Severity:     event.Severity(q.Get("severity")),
		Category:     alert.Category(q.Get("category")),
		WithdrawalID: q.Get("withdrawal_id"),
		UserID:       q.Get("user_id"),
		Since:        parseTime(q, "since"),
		Until:        parseTime(q, "until"),
		Limit:        parseInt(q, "limit"),
		Offset:       parseInt(q, "offset"),
	})
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleQueryIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := a.registry.Find(incident.Query{
		Severity:     event.Severity(q.Get("severity")),
		Category:     alert.Category(q.Get("category")),
		Status:       incident.Status(q.Get("status")),
		WithdrawalID: q.Get("withdrawal_id"),
		UserID:       q.Get("user_id"),
		Since:        parseTime(q, "since"),
		Until:        parseTime(q, "until"),
		Limit:        parseInt(q, "limit"),
		Offset:       parseInt(q, "offset"),
	})
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("riskwatch.incident.id", id))

	inc, err := a.registry.GetByID(id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	span.SetAttributes(attribute.String("riskwatch.incident.status", string(inc.Status)))

	writeJSON(w, http.StatusOK, inc)
}

func parseInt(q url.Values, key string) int {
	v := q.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseTime(q url.Values, key string) time.Time {
	v := q.Get(key)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
