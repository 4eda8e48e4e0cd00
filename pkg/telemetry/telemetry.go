// Package telemetry provides tracing and metrics for discovery runs.
// Spans are exported over OTLP gRPC; metrics are Prometheus collectors
// served on /metrics or written to a node-exporter textfile.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the status label.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
	StatusCached   = "cached"
)

// Metrics holds the discovery collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	rows          prometheus.Counter
	traces        prometheus.Counter
	pairs         prometheus.Gauge
	retained      prometheus.Gauge
	invalidTimes  prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfgflow_runs_total",
				Help: "Total number of discovery runs by outcome.",
			},
			[]string{"status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dfgflow_stage_duration_seconds",
				Help:    "Duration of discovery stages in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dfgflow_rows_total",
			Help: "Total number of event rows read.",
		}),
		traces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dfgflow_traces_total",
			Help: "Total number of traces indexed.",
		}),
		pairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dfgflow_last_pairs",
			Help: "Distinct directly-follows pairs of the last run.",
		}),
		retained: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dfgflow_last_retained_edges",
			Help: "Edges kept after pruning in the last run.",
		}),
		invalidTimes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dfgflow_invalid_timestamps_total",
			Help: "Pairs whose latency defaulted to zero.",
		}),
	}

	m.registry.MustRegister(
		m.runs,
		m.stageDuration,
		m.rows,
		m.traces,
		m.pairs,
		m.retained,
		m.invalidTimes,
		collectors.NewGoCollector(),
	)

	// Make every status visible before the first run.
	for _, s := range []string{StatusSuccess, StatusFailed, StatusCanceled, StatusCached} {
		m.runs.WithLabelValues(s)
	}
	return m
}

// IncRun counts a finished run.
func (m *Metrics) IncRun(status string) {
	m.runs.WithLabelValues(status).Inc()
}

// ObserveStage records the duration of one stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRun records the counts of one successful run.
func (m *Metrics) ObserveRun(rows, traces, pairs, retained, invalid int) {
	m.rows.Add(float64(rows))
	m.traces.Add(float64(traces))
	m.pairs.Set(float64(pairs))
	m.retained.Set(float64(retained))
	m.invalidTimes.Add(float64(invalid))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node-exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
