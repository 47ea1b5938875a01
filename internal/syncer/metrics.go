package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors for sync runs.
type Metrics struct {
	runs     *prometheus.CounterVec
	records  *prometheus.CounterVec
	pages    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loansync",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync runs by target and outcome.",
		}, []string{"target", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loansync",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records processed by target and result.",
		}, []string{"target", "result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loansync",
			Subsystem: "sync",
			Name:      "pages_total",
			Help:      "Upstream pages fetched by target.",
		}, []string{"target"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loansync",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync runs that held the lease.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"target"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.records, m.pages, m.duration)
	}
	return m
}

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

func (m *Metrics) observeRun(target, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(target, outcome).Inc()
	if outcome != OutcomeRejected {
		m.duration.WithLabelValues(target).Observe(d.Seconds())
	}
}

func (m *Metrics) observePage(target string, synced, failed int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(target).Inc()
	if synced > 0 {
		m.records.WithLabelValues(target, "synced").Add(float64(synced))
	}
	if failed > 0 {
		m.records.WithLabelValues(target, "failed").Add(float64(failed))
	}
}
