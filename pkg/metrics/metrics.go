// Package metrics defines the Prometheus collectors for statement imports
// and scheduled jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subtrack"

// Metrics holds the application collectors.
type Metrics struct {
	ImportsTotal       *prometheus.CounterVec
	ImportDuration     *prometheus.HistogramVec
	RowsSkippedTotal   *prometheus.CounterVec
	CandidatesTotal    *prometheus.CounterVec
	RollForwardUpdated prometheus.Counter
	gatherer           prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "previews_total",
			Help:      "Statement previews by file format and outcome.",
		}, []string{"format", "outcome"}),
		ImportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Time spent reading and analysing a statement.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"format"}),
		RowsSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_skipped_total",
			Help:      "Rows that failed validation.",
		}, []string{"format"}),
		CandidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "candidates_total",
			Help:      "Subscription candidates proposed, by action.",
		}, []string{"action"}),
		RollForwardUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "roll_forward_updated_total",
			Help:      "Subscriptions whose next payment date was advanced.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.ImportsTotal,
		m.ImportDuration,
		m.RowsSkippedTotal,
		m.CandidatesTotal,
		m.RollForwardUpdated,
	)
	return m
}

// NewNop returns collectors registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveImport records one finished preview.
func (m *Metrics) ObserveImport(format, outcome string, started time.Time) {
	m.ImportsTotal.WithLabelValues(format, outcome).Inc()
	m.ImportDuration.WithLabelValues(format).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
