// Package metrics exposes read progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pithecene-io/ringscan/ringscan"
)

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Metrics implements ringscan.Observer. Register one per registry.
type Metrics struct {
	// Queries counts executed queries by kind and outcome.
	Queries *prometheus.CounterVec
	// Rows counts emitted entities by query kind.
	Rows *prometheus.CounterVec
	// Duration is the latency of queries including streaming.
	Duration *prometheus.HistogramVec
	// Reads counts finished read operations by outcome.
	Reads *prometheus.CounterVec
}

// New registers the ringscan metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Queries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringscan_queries_total",
				Help: "Total number of token-range queries executed",
			},
			[]string{"kind", "outcome"},
		),
		Rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringscan_rows_total",
				Help: "Total number of entities emitted to the sink",
			},
			[]string{"kind"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ringscan_query_duration_seconds",
				Help:    "Query latency in seconds, including row streaming",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		Reads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringscan_reads_total",
				Help: "Total number of read operations",
			},
			[]string{"outcome"},
		),
	}
}

// QueryDone implements ringscan.Observer.
func (m *Metrics) QueryDone(r ringscan.QueryResult) {
	kind := r.Kind.String()
	outcome := OutcomeOK
	if r.Skipped {
		outcome = OutcomeSkipped
	}
	m.Queries.WithLabelValues(kind, outcome).Inc()
	m.Rows.WithLabelValues(kind).Add(float64(r.Rows))
	m.Duration.WithLabelValues(kind).Observe(r.Elapsed.Seconds())
}

// ReadDone records the outcome of one Process call.
func (m *Metrics) ReadDone(err error) {
	if err != nil {
		m.Reads.WithLabelValues(OutcomeError).Inc()
		return
	}
	m.Reads.WithLabelValues(OutcomeOK).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
