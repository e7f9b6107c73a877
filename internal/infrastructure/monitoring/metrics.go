package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the shell. Each instance
// carries its own registry so construction is repeatable (tests build
// many shells per process).
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics (IPC surface)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Supervisor metrics
	BackendRunning  prometheus.Gauge
	BackendSpawns   prometheus.Counter
	BackendRestarts prometheus.Counter

	// Health probe metrics
	ProbeLatency  prometheus.Histogram
	ProbeFailures prometheus.Counter

	// Asset staging metrics
	StagingCopies prometheus.Counter
	StagingSkips  prometheus.Counter
	StagingErrors prometheus.Counter

	// Gateway metrics
	GatewayDenials prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shell_http_requests_total",
			Help: "Total IPC HTTP requests",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shell_http_request_duration_seconds",
			Help:    "IPC HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		BackendRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shell_backend_running",
			Help: "1 when the supervised backend process is running",
		}),

		BackendSpawns: factory.NewCounter(prometheus.CounterOpts{
			Name: "shell_backend_spawns_total",
			Help: "Total backend process spawns",
		}),

		BackendRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shell_backend_restarts_total",
			Help: "Total user-requested backend restarts",
		}),

		ProbeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shell_probe_latency_seconds",
			Help:    "Backend liveness probe latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		ProbeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "shell_probe_failures_total",
			Help: "Total failed backend liveness probes",
		}),

		StagingCopies: factory.NewCounter(prometheus.CounterOpts{
			Name: "shell_staging_copies_total",
			Help: "Total model asset directories copied during staging",
		}),

		StagingSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "shell_staging_skips_total",
			Help: "Total staging entries skipped because the digest already matched",
		}),

		StagingErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "shell_staging_errors_total",
			Help: "Total per-entry staging errors",
		}),

		GatewayDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "shell_gateway_denials_total",
			Help: "Total path requests denied by the gateway",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shell_ws_connections",
			Help: "Active WebSocket snapshot subscribers",
		}),

		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shell_uptime_seconds",
			Help: "Shell process uptime",
		}),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordProbe records the outcome of a liveness probe.
func (m *Metrics) RecordProbe(latency time.Duration, success bool) {
	if success {
		m.ProbeLatency.Observe(latency.Seconds())
	} else {
		m.ProbeFailures.Inc()
	}
}

// SetBackendRunning flips the backend running gauge.
func (m *Metrics) SetBackendRunning(running bool) {
	if running {
		m.BackendRunning.Set(1)
	} else {
		m.BackendRunning.Set(0)
	}
}
