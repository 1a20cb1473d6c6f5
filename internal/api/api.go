// Package api exposes the pipeline over HTTP: an ingest endpoint for
// producers that cannot publish in-process, and the read surface the
// compliance dashboard and exporters consume. All reads are snapshots of
// the in-memory stores; nothing here mutates pipeline state directly.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/bus"
	"github.com/linnemanlabs/riskwatch/internal/incident"
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	bus      *bus.Bus
	alerts   *alert.Store
	registry *incident.Registry
}

// New creates a new API handler.
func New(logger log.Logger, b *bus.Bus, alerts *alert.Store, registry *incident.Registry) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if b == nil {
		panic(xerrors.New("bus is required"))
	}
	if alerts == nil {
		panic(xerrors.New("alert store is required"))
	}
	if registry == nil {
		panic(xerrors.New("incident registry is required"))
	}
	return &API{
		logger:   logger,
		bus:      b,
		alerts:   alerts,
		registry: registry,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", a.handleIngestEvent)
		r.Get("/alerts", a.handleQueryAlerts)
		r.Get("/incidents", a.handleQueryIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
