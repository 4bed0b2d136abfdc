package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for OpenKiln's orchestration.
// A disabled config yields a no-op instance, so callers never need a
// nil check.
type Metrics struct {
	config MetricsConfig

	// Stack operation metrics
	stackOpsStarted   *prometheus.CounterVec
	stackOpsCompleted *prometheus.CounterVec
	stackOpDuration   *prometheus.HistogramVec

	// Resource metrics
	resourceOps      *prometheus.CounterVec
	resourceOpDuration *prometheus.HistogramVec
	resourcesManaged *prometheus.GaugeVec

	// Scheduler metrics
	taskPolls  *prometheus.CounterVec
	activeOps  prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		stackOpsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_operations_started_total",
				Help:      "Total number of stack operations started",
			},
			[]string{"operation"},
		),
		stackOpsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_operations_completed_total",
				Help:      "Total number of stack operations completed",
			},
			[]string{"operation", "status"},
		),
		stackOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stack_operation_duration_seconds",
				Help:      "Duration of stack operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),

		resourceOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_operations_total",
				Help:      "Total number of resource operations by type and result",
			},
			[]string{"resource_type", "operation", "status"},
		),
		resourceOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_operation_duration_seconds",
				Help:      "Duration of resource operations in seconds",
				Buckets:   buckets,
			},
			[]string{"resource_type", "operation"},
		),
		resourcesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_managed",
				Help:      "Current number of managed resources per stack",
			},
			[]string{"stack"},
		),

		taskPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_polls_total",
				Help:      "Total number of scheduler poll ticks",
			},
			[]string{"operation"},
		),
		activeOps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_stack_operations",
				Help:      "Current number of in-flight stack operations",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.stackOpsStarted,
		m.stackOpsCompleted,
		m.stackOpDuration,
		m.resourceOps,
		m.resourceOpDuration,
		m.resourcesManaged,
		m.taskPolls,
		m.activeOps,
		m.errorsByClass,
	)

	return m, nil
}

// RecordStackOpStarted increments the counter for started operations.
func (m *Metrics) RecordStackOpStarted(operation string) {
	if m.stackOpsStarted == nil {
		return
	}
	m.stackOpsStarted.WithLabelValues(operation).Inc()
	m.activeOps.Inc()
}

// RecordStackOpCompleted records a finished operation with its status
// and duration.
func (m *Metrics) RecordStackOpCompleted(operation, status string, duration time.Duration) {
	if m.stackOpsCompleted == nil {
		return
	}
	m.stackOpsCompleted.WithLabelValues(operation, status).Inc()
	m.stackOpDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeOps.Dec()
}

// RecordResourceOp records one resource's outcome within an operation.
func (m *Metrics) RecordResourceOp(resourceType, operation, status string, duration time.Duration) {
	if m.resourceOps == nil {
		return
	}
	m.resourceOps.WithLabelValues(resourceType, operation, status).Inc()
	m.resourceOpDuration.WithLabelValues(resourceType, operation).Observe(duration.Seconds())
}

// SetResourcesManaged sets the managed-resource count for a stack.
func (m *Metrics) SetResourcesManaged(stack string, count float64) {
	if m.resourcesManaged == nil {
		return
	}
	m.resourcesManaged.WithLabelValues(stack).Set(count)
}

// RecordTaskPoll counts one scheduler poll tick.
func (m *Metrics) RecordTaskPoll(operation string) {
	if m.taskPolls == nil {
		return
	}
	m.taskPolls.WithLabelValues(operation).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics
// endpoint. Server errors are reported on stderr, never fatal.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
