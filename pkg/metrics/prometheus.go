// Package metrics provides Prometheus metrics for the vitals engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by fetch and aggregation counters.
const (
	OutcomeOK           = "ok"
	OutcomeAbsent       = "absent"
	OutcomeUnauthorized = "unauthorized"
	OutcomeQueryFailed  = "query_failed"
	OutcomeTimeout      = "timeout"
	OutcomeCancelled    = "cancelled"
	OutcomeInvalid      = "invalid"
	OutcomeUnavailable  = "unavailable"
	OutcomeDenied       = "denied"
)

// Notification results.
const (
	NotificationReceived  = "received"
	NotificationCoalesced = "coalesced"
	NotificationDelivered = "delivered"
	NotificationSkipped   = "skipped"
	NotificationFailed    = "failed"
	NotificationError     = "error"
)

// Anchor operations.
const (
	AnchorRead    = "read"
	AnchorWrite   = "write"
	AnchorClear   = "clear"
	AnchorCorrupt = "corrupt"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Aggregation
	aggregations       *prometheus.CounterVec
	aggregationLatency prometheus.Histogram
	fetches            *prometheus.CounterVec
	fetchLatency       *prometheus.HistogramVec

	// Capability
	capabilityChecks      *prometheus.CounterVec
	authorizationRequests *prometheus.CounterVec

	// Observation
	activeSessions     prometheus.Gauge
	sessionTransitions *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	deliveryLatency    prometheus.Histogram
	samplesIngested    prometheus.Counter

	// Anchor and key-value storage
	anchorOps *prometheus.CounterVec
	kvLatency *prometheus.HistogramVec
	kvErrors  *prometheus.CounterVec

	// Queue
	queueEnqueued prometheus.Counter
	queueDequeued prometheus.Counter
	queueDropped  prometheus.Counter
	queueDepth    prometheus.Gauge

	// Worker
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "vitals",
		subsystem:        "engine",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogram(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.aggregations = auto.NewCounterVec(
		m.counter("aggregations_total", "Aggregation calls by outcome"),
		[]string{"outcome"},
	)
	m.aggregationLatency = auto.NewHistogram(
		m.histogram("aggregation_latency_milliseconds", "Wall time of a full aggregation fan-out"),
	)
	m.fetches = auto.NewCounterVec(
		m.counter("fetches_total", "Per-kind fetches by outcome"),
		[]string{"kind", "outcome"},
	)
	m.fetchLatency = auto.NewHistogramVec(
		m.histogram("fetch_latency_milliseconds", "Per-kind fetch latency"),
		[]string{"kind"},
	)

	m.capabilityChecks = auto.NewCounterVec(
		m.counter("capability_checks_total", "Capability checks by kind and resulting status"),
		[]string{"kind", "status"},
	)
	m.authorizationRequests = auto.NewCounterVec(
		m.counter("authorization_requests_total", "Authorization requests by outcome"),
		[]string{"outcome"},
	)

	m.activeSessions = auto.NewGauge(
		m.gauge("observation_sessions_active", "Observation sessions currently registered"),
	)
	m.sessionTransitions = auto.NewCounterVec(
		m.counter("observation_transitions_total", "Observation session state transitions by target state"),
		[]string{"state"},
	)
	m.notifications = auto.NewCounterVec(
		m.counter("notifications_total", "Change notifications by result"),
		[]string{"result"},
	)
	m.deliveryLatency = auto.NewHistogram(
		m.histogram("delivery_latency_milliseconds", "Time from dequeue to callback return"),
	)
	m.samplesIngested = auto.NewCounter(
		m.counter("samples_ingested_total", "Samples written into the health store"),
	)

	m.anchorOps = auto.NewCounterVec(
		m.counter("anchor_operations_total", "Change anchor operations"),
		[]string{"op"},
	)
	m.kvLatency = auto.NewHistogramVec(
		m.histogram("kv_latency_milliseconds", "Key-value backend latency"),
		[]string{"backend", "op"},
	)
	m.kvErrors = auto.NewCounterVec(
		m.counter("kv_errors_total", "Key-value backend errors"),
		[]string{"backend", "op"},
	)

	m.queueEnqueued = auto.NewCounter(m.counter("queue_enqueue_total", "Notifications enqueued for delivery"))
	m.queueDequeued = auto.NewCounter(m.counter("queue_dequeue_total", "Notifications dequeued for delivery"))
	m.queueDropped = auto.NewCounter(m.counter("queue_dropped_total", "Notifications dropped because a delivery was already pending"))
	m.queueDepth = auto.NewGauge(m.gauge("queue_depth", "Notifications waiting across all sessions"))

	m.workerProcessingLatency = auto.NewHistogram(
		m.histogram("worker_processing_latency_milliseconds", "Worker handler latency"),
	)
	m.workerErrors = auto.NewCounter(m.counter("worker_errors_total", "Worker handler errors"))

	m.httpRequests = auto.NewCounterVec(
		m.counter("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogram("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorsByComponent = auto.NewCounterVec(
		m.counter("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_gc_pause_time_milliseconds",
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.constLabels,
	})
}

// RecordAggregation records a finished aggregation call.
func RecordAggregation(outcome string, latencyMs float64) {
	globalManager.aggregations.WithLabelValues(outcome).Inc()
	globalManager.aggregationLatency.Observe(latencyMs)
}

// RecordFetch records one per-kind fetch.
func RecordFetch(kind, outcome string, latencyMs float64) {
	globalManager.fetches.WithLabelValues(kind, outcome).Inc()
	globalManager.fetchLatency.WithLabelValues(kind).Observe(latencyMs)
}

// RecordCapabilityCheck counts a capability lookup.
func RecordCapabilityCheck(kind, status string) {
	globalManager.capabilityChecks.WithLabelValues(kind, status).Inc()
}

// RecordAuthorizationRequest counts an authorization request.
func RecordAuthorizationRequest(outcome string) {
	globalManager.authorizationRequests.WithLabelValues(outcome).Inc()
}

// AddActiveSessions adjusts the active sessions gauge by delta.
func AddActiveSessions(delta int) {
	globalManager.activeSessions.Add(float64(delta))
}

// RecordSessionTransition counts a session entering state.
func RecordSessionTransition(state string) {
	globalManager.sessionTransitions.WithLabelValues(state).Inc()
}

// RecordNotification counts a change notification by result.
func RecordNotification(result string) {
	globalManager.notifications.WithLabelValues(result).Inc()
}

// RecordDeliveryLatency records how long one delivery took.
func RecordDeliveryLatency(latencyMs float64) {
	globalManager.deliveryLatency.Observe(latencyMs)
}

// RecordSamplesIngested counts samples written into the health store.
func RecordSamplesIngested(n int) {
	globalManager.samplesIngested.Add(float64(n))
}

// RecordAnchorOp counts a change anchor operation.
func RecordAnchorOp(op string) {
	globalManager.anchorOps.WithLabelValues(op).Inc()
}

// RecordKVLatency records key-value backend latency.
func RecordKVLatency(backend, op string, latencyMs float64) {
	globalManager.kvLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// RecordKVError counts a key-value backend failure.
func RecordKVError(backend, op string) {
	globalManager.kvErrors.WithLabelValues(backend, op).Inc()
}

// RecordQueueEnqueue counts an accepted notification.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
	globalManager.queueDepth.Inc()
}

// RecordQueueDequeue counts a notification handed to a worker.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
	globalManager.queueDepth.Dec()
}

// RecordQueueDrop counts a notification that was not enqueued.
func RecordQueueDrop() {
	globalManager.queueDropped.Inc()
}

// AddQueueDepth adjusts the queue depth gauge, used when a queue closes with pending items.
func AddQueueDepth(delta int) {
	globalManager.queueDepth.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
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
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
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
