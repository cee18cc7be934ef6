// Package monitoring exposes Prometheus metrics for the HTTP surface and for
// executions. Metrics implements engine.Observer so every engine created
// with it reports run counts, durations and output volume.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"playground-engine/internal/engine"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Execution metrics
	RunsActive  prometheus.Gauge
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	RunMemory   *prometheus.HistogramVec
	EventsTotal *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	WSConnections  prometheus.Gauge
}

// NewMetrics creates a collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		RunsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_runs_active",
				Help: "Number of executions currently running",
			},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_runs_total",
				Help: "Total number of finished executions",
			},
			[]string{"language", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_run_duration_seconds",
				Help:    "Execution wall-clock time in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"language"},
		),
		RunMemory: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_run_memory_megabytes",
				Help:    "Advisory heap growth per execution in megabytes",
				Buckets: []float64{.1, .5, 1, 5, 10, 25, 50, 100, 200},
			},
			[]string{"language"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_output_events_total",
				Help: "Total number of output events produced",
			},
			[]string{"kind"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_sessions_active",
				Help: "Number of live playground sessions",
			},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_ws_connections",
				Help: "Number of open websocket streams",
			},
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RunStarted(run *engine.Run) {
	m.RunsActive.Inc()
}

func (m *Metrics) EventEmitted(run *engine.Run, event engine.OutputEvent) {
	m.EventsTotal.WithLabelValues(string(event.Kind)).Inc()
}

func (m *Metrics) RunFinished(run *engine.Run, summary *engine.Summary) {
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(summary.Language, string(summary.Status)).Inc()
	m.RunDuration.WithLabelValues(summary.Language).Observe(float64(summary.ExecutionTimeMs) / 1000)
	m.RunMemory.WithLabelValues(summary.Language).Observe(summary.MemoryUsageMB)
}
