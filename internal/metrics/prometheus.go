package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the module runtime
type PrometheusMetrics struct {
	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Lifecycle metrics
	LifecycleOperationsTotal *prometheus.CounterVec
	LifecycleDuration        *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Catalog and discovery metrics
	ModulesCatalogued prometheus.Gauge
	ModulesEnabled    prometheus.Gauge
	ModulesOnDisk     prometheus.Gauge

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		// Dispatch metrics
		DispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "module_runtime_dispatch_total",
				Help: "Total number of requests dispatched to modules",
			},
			[]string{"module", "status"},
		),

		DispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "module_runtime_dispatch_duration_seconds",
				Help:    "Time spent inside module request handlers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"module"},
		),

		// Lifecycle metrics
		LifecycleOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "module_runtime_lifecycle_operations_total",
				Help: "Total number of module install/uninstall operations",
			},
			[]string{"operation", "outcome"},
		),

		LifecycleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "module_runtime_lifecycle_duration_seconds",
				Help:    "Duration of module install/uninstall operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		// Storage metrics
		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "module_runtime_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "module_runtime_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		// Catalog and discovery metrics
		ModulesCatalogued: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "module_runtime_modules_catalogued",
				Help: "Number of modules in the catalog",
			},
		),

		ModulesEnabled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "module_runtime_modules_enabled",
				Help: "Number of enabled modules in the catalog",
			},
		),

		ModulesOnDisk: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "module_runtime_modules_on_disk",
				Help: "Number of module directories discovered on disk",
			},
		),

		// API metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "module_runtime_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "module_runtime_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "module_runtime_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "module_runtime_component_health",
				Help: "Health status of application components (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "module_runtime_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "module_runtime_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordDispatch records a module dispatch outcome
func (pm *PrometheusMetrics) RecordDispatch(module, status string, duration time.Duration) {
	pm.DispatchTotal.WithLabelValues(module, status).Inc()
	pm.DispatchDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// RecordLifecycleOperation records an install/uninstall attempt
func (pm *PrometheusMetrics) RecordLifecycleOperation(operation, outcome string, duration time.Duration) {
	pm.LifecycleOperationsTotal.WithLabelValues(operation, outcome).Inc()
	pm.LifecycleDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (pm *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	pm.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	pm.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateModuleCounts updates catalog gauges
func (pm *PrometheusMetrics) UpdateModuleCounts(catalogued, enabled int) {
	pm.ModulesCatalogued.Set(float64(catalogued))
	pm.ModulesEnabled.Set(float64(enabled))
}

// UpdateModulesOnDisk updates the discovery gauge
func (pm *PrometheusMetrics) UpdateModulesOnDisk(count int) {
	pm.ModulesOnDisk.Set(float64(count))
}

// UpdateComponentHealth updates a component health gauge
func (pm *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	pm.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage gauge
func (pm *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	pm.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count gauge
func (pm *PrometheusMetrics) UpdateGoroutineCount(count int) {
	pm.GoroutineCount.Set(float64(count))
}

// UpdateApplicationUptime updates the uptime gauge
func (pm *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	pm.ApplicationUptime.Set(time.Since(startTime).Seconds())
}
