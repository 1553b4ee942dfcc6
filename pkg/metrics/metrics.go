package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the pipeline's Prometheus collectors.
type Registry struct {
	reg             *prometheus.Registry
	RowsLoaded      *prometheus.CounterVec
	RowsWritten     *prometheus.CounterVec
	ParseWarnings   prometheus.Counter
	Recommendations *prometheus.CounterVec
	StageFailures   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	rowsLoaded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retailprice_rows_loaded_total",
		Help: "Rows read per source table.",
	}, []string{"source"})
	rowsWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retailprice_rows_written_total",
		Help: "Rows written per output table.",
	}, []string{"table"})
	parseWarnings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retailprice_parse_warnings_total",
		Help: "Price fields that could not be parsed and were set to null.",
	})
	recommendations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retailprice_recommendations_total",
		Help: "Recommendations produced per justification.",
	}, []string{"justification"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retailprice_stage_failures_total",
		Help: "Stage runs aborted per stage and error code.",
	}, []string{"stage", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retailprice_stage_duration_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	r.MustRegister(rowsLoaded, rowsWritten, parseWarnings, recommendations, failures, duration)
	return &Registry{
		reg:             r,
		RowsLoaded:      rowsLoaded,
		RowsWritten:     rowsWritten,
		ParseWarnings:   parseWarnings,
		Recommendations: recommendations,
		StageFailures:   failures,
		StageDuration:   duration,
	}
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
