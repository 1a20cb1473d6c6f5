package alerting

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/riskwatch/internal/alert"
)

// Metrics holds Prometheus metrics for the alerting pipeline.
type Metrics struct {
	EventsTotal    *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	AlertsTotal    *prometheus.CounterVec
	RuleFaults     *prometheus.CounterVec
	WindowSize     prometheus.Gauge
	StoredAlerts   prometheus.Gauge
	AlertEvictions prometheus.Counter
}

// NewMetrics registers and returns alerting metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskwatch_events_total",
			Help: "Total risk events processed by the threshold engine, by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskwatch_events_dropped_total",
			Help: "Total malformed events rejected at the bus.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskwatch_alerts_total",
			Help: "Total alerts emitted, by rule and severity.",
		}, []string{"rule", "severity"}),
		RuleFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskwatch_rule_faults_total",
			Help: "Total threshold rule evaluation faults, by rule.",
		}, []string{"rule"}),
		WindowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskwatch_window_events",
			Help: "Risk events currently held in the sliding window.",
		}),
		StoredAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskwatch_stored_alerts",
			Help: "Alerts currently held in the alert store.",
		}),
		AlertEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskwatch_alert_evictions_total",
			Help: "Alerts evicted from the store at capacity.",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EventsDropped,
		m.AlertsTotal,
		m.RuleFaults,
		m.WindowSize,
		m.StoredAlerts,
		m.AlertEvictions,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnEvent: func(eventType string) {
			m.EventsTotal.WithLabelValues(eventType).Inc()
		},
		OnRuleFault: func(ruleID string) {
			m.RuleFaults.WithLabelValues(ruleID).Inc()
		},
		OnAlert: func(ruleID, severity string) {
			m.AlertsTotal.WithLabelValues(ruleID, severity).Inc()
		},
		OnWindow: func(size int) {
			m.WindowSize.Set(float64(size))
		},
	}
}

// StoreHooks returns alert store hooks that keep the store gauges current.
func (m *Metrics) StoreHooks() alert.StoreHooks {
	return alert.StoreHooks{
		OnSize: func(n int) {
			m.StoredAlerts.Set(float64(n))
		},
		OnEvict: func() {
			m.AlertEvictions.Inc()
		},
	}
}
