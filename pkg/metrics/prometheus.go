// Package metrics provides Prometheus metrics for the huntline service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Progression
	scansTotal    *prometheus.CounterVec
	scanConflicts prometheus.Counter

	// Lane structure
	editsTotal *prometheus.CounterVec

	// Repository
	commitsTotal      *prometheus.CounterVec
	repositoryLatency *prometheus.HistogramVec
	repositoryRetries prometheus.Counter
	huntsTotal        prometheus.Gauge
	lanesTotal        prometheus.Gauge

	// Broadcast
	broadcastDelivered  prometheus.Counter
	broadcastCoalesced  prometheus.Counter
	broadcastStale      prometheus.Counter
	broadcastErrors     prometheus.Counter
	subscriptionsActive prometheus.Gauge

	// Commit queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueue           prometheus.Counter
	queueDequeue           prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Dispatch workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the package-level recorders

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // served at /healthz

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "huntline",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counter(n, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(n, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(n, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(n, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(n, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.scansTotal = m.counterVec("scans_total", "Scan submissions by outcome", "result")
	m.scanConflicts = m.counter("scan_conflicts_total", "Scans that lost a progression race and were re-evaluated")

	m.editsTotal = m.counterVec("lane_edits_total", "Lane structure edits by operation and outcome", "op", "result")

	m.commitsTotal = m.counterVec("commits_total", "Repository commits by kind", "kind")
	m.repositoryLatency = m.histogramVec("repository_latency_milliseconds", "Repository operation latency in milliseconds", "op")
	m.repositoryRetries = m.counter("repository_retries_total", "Repository attempts retried after a transient failure")
	m.huntsTotal = m.gauge("hunts", "Hunts known to the repository")
	m.lanesTotal = m.gauge("lanes", "Lanes known to the repository")

	m.broadcastDelivered = m.counter("broadcast_delivered_total", "Lane snapshots delivered to subscribers")
	m.broadcastCoalesced = m.counter("broadcast_coalesced_total", "Pending snapshots replaced by a newer one before delivery")
	m.broadcastStale = m.counter("broadcast_stale_total", "Snapshots dropped because a newer version was already delivered")
	m.broadcastErrors = m.counter("broadcast_errors_total", "Subscriber handler failures")
	m.subscriptionsActive = m.gauge("subscriptions_active", "Open subscriptions")

	m.queueSize = m.gauge("queue_size", "Commit events waiting for dispatch")
	m.queueCapacity = m.gauge("queue_capacity", "Commit queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Commit queue fill ratio")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Commit events enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Commit events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Commit events rejected by the queue")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Running dispatch workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Dispatch latency per commit event", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Dispatch failures")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of failed operations", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordScan counts a scan submission outcome: accepted, rejected,
// not_started, complete or error.
func RecordScan(result string) {
	globalManager.scansTotal.WithLabelValues(result).Inc()
}

// RecordScanConflict counts a lost compare-and-swap on progression.
func RecordScanConflict() {
	globalManager.scanConflicts.Inc()
}

// RecordEdit counts a lane edit outcome.
func RecordEdit(op, result string) {
	globalManager.editsTotal.WithLabelValues(op, result).Inc()
}

// RecordCommit counts a successful repository commit.
func RecordCommit(kind string) {
	globalManager.commitsTotal.WithLabelValues(kind).Inc()
}

// RecordRepositoryLatency records repository operation latency.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordRepositoryRetry counts a retried repository attempt.
func RecordRepositoryRetry() {
	globalManager.repositoryRetries.Inc()
}

// UpdateHuntCounts sets the hunt and lane gauges.
func UpdateHuntCounts(hunts, lanes int) {
	globalManager.huntsTotal.Set(float64(hunts))
	globalManager.lanesTotal.Set(float64(lanes))
}

// RecordBroadcastDelivered counts a delivered snapshot.
func RecordBroadcastDelivered() {
	globalManager.broadcastDelivered.Inc()
}

// RecordBroadcastCoalesced counts a pending snapshot replaced by a newer one.
func RecordBroadcastCoalesced() {
	globalManager.broadcastCoalesced.Inc()
}

// RecordBroadcastStale counts a snapshot older than what was delivered.
func RecordBroadcastStale() {
	globalManager.broadcastStale.Inc()
}

// RecordBroadcastError counts a failed handler invocation.
func RecordBroadcastError() {
	globalManager.broadcastErrors.Inc()
}

// AddSubscriptions adjusts the active subscription gauge by delta.
func AddSubscriptions(delta int) {
	globalManager.subscriptionsActive.Add(float64(delta))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue fill ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts an enqueued event.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue counts a dequeued event.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records per-event dispatch latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a dispatch failure.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
