package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for tool executions. A disabled
// Metrics has no registry and every Record method is a no-op.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	executions     *prometheus.CounterVec   // operation, status
	duration       *prometheus.HistogramVec // operation
	attempts       *prometheus.HistogramVec // operation
	retries        *prometheus.CounterVec   // operation, class
	errorsByClass  *prometheus.CounterVec   // class
	plannedChanges *prometheus.CounterVec   // action
	active         prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	ns := cfg.Namespace

	return &Metrics{
		config:   cfg,
		registry: reg,
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "executions_total",
			Help: "Tool executions by operation and final status.",
		}, []string{"operation", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "execution_duration_seconds",
			Help:    "Wall time of an execution including retries.",
			Buckets: buckets,
		}, []string{"operation"}),
		attempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "execution_attempts",
			Help:    "Attempts made per execution.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}, []string{"operation"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "retries_total",
			Help: "Retries by operation and failure class.",
		}, []string{"operation", "class"}),
		errorsByClass: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "errors_by_class_total",
			Help: "Failed executions by error class.",
		}, []string{"class"}),
		plannedChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "planned_changes_total",
			Help: "Resource changes reported by plan, by action.",
		}, []string{"action"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_executions",
			Help: "Executions currently running.",
		}),
	}, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

func (m *Metrics) RecordExecutionStarted() {
	if m.enabled() {
		m.active.Inc()
	}
}

// RecordExecutionCompleted closes an execution opened by
// RecordExecutionStarted.
func (m *Metrics) RecordExecutionCompleted(operation, status string, attempts int, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.active.Dec()
	m.executions.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
	m.attempts.WithLabelValues(operation).Observe(float64(attempts))
}

func (m *Metrics) RecordRetry(operation, class string) {
	if m.enabled() {
		m.retries.WithLabelValues(operation, class).Inc()
	}
}

func (m *Metrics) RecordError(class string) {
	if m.enabled() {
		m.errorsByClass.WithLabelValues(class).Inc()
	}
}

// RecordPlannedChanges adds the per-action counts of one plan.
func (m *Metrics) RecordPlannedChanges(create, update, del, replace int) {
	if !m.enabled() {
		return
	}
	for action, n := range map[string]int{"create": create, "update": update, "delete": del, "replace": replace} {
		m.plannedChanges.WithLabelValues(action).Add(float64(n))
	}
}

// Registry returns nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves Handler on the configured address until the
// returned server is shut down. It returns nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
