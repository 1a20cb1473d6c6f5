package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident registry.
type Metrics struct {
	IncidentsCreated *prometheus.CounterVec
	AlertsFolded     prometheus.Counter
	IncidentsEvicted prometheus.Counter
	OpenIncidents    prometheus.Gauge
	StaleIncidents   prometheus.Gauge
}

// NewMetrics registers and returns registry metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskwatch_incidents_created_total",
			Help: "Total incidents created, by initial severity.",
		}, []string{"severity"}),
		AlertsFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskwatch_incident_alerts_folded_total",
			Help: "Total alerts folded into existing incidents.",
		}),
		IncidentsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskwatch_incidents_evicted_total",
			Help: "Incidents evicted from the registry at capacity.",
		}),
		OpenIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskwatch_incidents_open",
			Help: "Incidents currently in OPEN status.",
		}),
		StaleIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskwatch_incidents_stale",
			Help: "Incidents currently in STALE status.",
		}),
	}

	reg.MustRegister(
		m.IncidentsCreated,
		m.AlertsFolded,
		m.IncidentsEvicted,
		m.OpenIncidents,
		m.StaleIncidents,
	)

	return m
}

// Hooks returns a RegistryHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() RegistryHooks {
	return RegistryHooks{
		OnCreated: func(severity string) {
			m.IncidentsCreated.WithLabelValues(severity).Inc()
		},
		OnFolded: func() {
			m.AlertsFolded.Inc()
		},
		OnEvicted: func() {
			m.IncidentsEvicted.Inc()
		},
		OnCounts: func(open, stale int) {
			m.OpenIncidents.Set(float64(open))
			m.StaleIncidents.Set(float64(stale))
		},
	}
}
