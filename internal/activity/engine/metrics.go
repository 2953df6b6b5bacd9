package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome is the terminal result of one occurrence.
type Outcome string

const (
	OutcomeInserted   Outcome = "inserted"
	OutcomeUpdated    Outcome = "updated"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDeferred   Outcome = "deferred"
	OutcomeDropped    Outcome = "dropped"
	OutcomeFailed     Outcome = "failed"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Occurrences  *prometheus.CounterVec
	Replayed     prometheus.Counter
	Definitions  prometheus.Gauge
	PersistDelay prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Occurrences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_occurrences_total",
				Help: "Occurrences processed by the activity engine, by outcome",
			},
			[]string{"group", "outcome"},
		),
		Replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "activity_pending_replayed_total",
			Help: "Deferred occurrences replayed from the pending queue",
		}),
		Definitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "activity_enabled_definitions",
			Help: "Enabled event definitions in the most recent session",
		}),
		PersistDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "activity_persist_duration_seconds",
			Help:    "Latency of the aggregation lookup plus write",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Occurrences, m.Replayed, m.Definitions, m.PersistDelay)
	}
	return m
}

func (m *Metrics) observe(group string, o Outcome) {
	if m == nil {
		return
	}
	m.Occurrences.WithLabelValues(group, string(o)).Inc()
}
