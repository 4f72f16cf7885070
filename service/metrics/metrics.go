package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Contract RPC Metrics
	contractCallsTotal   *prometheus.CounterVec
	contractCallDuration *prometheus.HistogramVec
	rpcRateLimitHits     *prometheus.CounterVec
	rpcRetries           *prometheus.CounterVec
	rpcThrottleWait      *prometheus.HistogramVec

	// Read Cache Metrics
	cacheLookupsTotal       *prometheus.CounterVec
	cacheInvalidationsTotal *prometheus.CounterVec
	cacheRefetchDuration    *prometheus.HistogramVec

	// Transaction Lifecycle Metrics
	actionTransitionsTotal *prometheus.CounterVec
	receiptWaitDuration    *prometheus.HistogramVec
	actionsInFlight        *prometheus.GaugeVec

	// Workflow Metrics
	receiptActivityDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Contract RPC Metrics
		contractCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contract_calls_total",
				Help: "Total number of contract calls by contract, method and status",
			},
			[]string{"contract", "method", "status"},
		),
		contractCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contract_call_duration_seconds",
				Help:    "Duration of contract calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"contract", "method"},
		),
		rpcRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_rate_limit_hits_total",
				Help: "Total number of RPC rate limit responses (429 errors)",
			},
			[]string{"endpoint"},
		),
		rpcRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_retries_total",
				Help: "Total number of RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		rpcThrottleWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpc_throttle_wait_seconds",
				Help:    "Time spent waiting on the local RPC rate limiter",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"endpoint"},
		),

		// Read Cache Metrics
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "read_cache_lookups_total",
				Help: "Total number of read cache lookups by function and result (hit, miss, shared)",
			},
			[]string{"function", "result"},
		),
		cacheInvalidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "read_cache_invalidations_total",
				Help: "Total number of read cache entries invalidated",
			},
			[]string{"function"},
		),
		cacheRefetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "read_cache_refetch_duration_seconds",
				Help:    "Duration of scheduled read refetch runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"status"},
		),

		// Transaction Lifecycle Metrics
		actionTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_transitions_total",
				Help: "Total number of transaction lifecycle transitions by action kind and phase",
			},
			[]string{"kind", "phase"},
		),
		receiptWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "receipt_wait_duration_seconds",
				Help:    "Time between broadcast and receipt in seconds",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind", "status"},
		),
		actionsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "actions_in_flight",
				Help: "Number of submitted actions awaiting a final outcome",
			},
			[]string{"kind"},
		),

		// Workflow Metrics
		receiptActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "receipt_activity_duration_seconds",
				Help:    "Duration of receipt workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"stream"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"stream", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Contract RPC metric helpers

// RecordContractCall records a contract call with duration.
func (m *Metrics) RecordContractCall(contract, method, status string, duration float64) {
	m.contractCallsTotal.WithLabelValues(contract, method, status).Inc()
	m.contractCallDuration.WithLabelValues(contract, method).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.rpcRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

// RecordThrottleWait records time spent blocked on the local limiter.
func (m *Metrics) RecordThrottleWait(endpoint string, duration float64) {
	m.rpcThrottleWait.WithLabelValues(endpoint).Observe(duration)
}

// Read cache metric helpers

// RecordCacheLookup records a cache lookup; result is hit, miss, shared,
// reload or reload_failed.
func (m *Metrics) RecordCacheLookup(function, result string) {
	m.cacheLookupsTotal.WithLabelValues(function, result).Inc()
}

// RecordCacheInvalidation records entries dropped for a function.
func (m *Metrics) RecordCacheInvalidation(function string, count int) {
	m.cacheInvalidationsTotal.WithLabelValues(function).Add(float64(count))
}

// RecordRefetch records a scheduled refetch run.
func (m *Metrics) RecordRefetch(status string, duration float64) {
	m.cacheRefetchDuration.WithLabelValues(status).Observe(duration)
}

// Lifecycle metric helpers

// RecordActionTransition records an action entering a phase.
func (m *Metrics) RecordActionTransition(kind, phase string) {
	m.actionTransitionsTotal.WithLabelValues(kind, phase).Inc()
}

// RecordReceiptWait records how long a receipt took to arrive.
func (m *Metrics) RecordReceiptWait(kind, status string, duration float64) {
	m.receiptWaitDuration.WithLabelValues(kind, status).Observe(duration)
}

// RecordInFlightChange adjusts the in-flight gauge for a kind.
func (m *Metrics) RecordInFlightChange(kind string, delta float64) {
	m.actionsInFlight.WithLabelValues(kind).Add(delta)
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.receiptActivityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(stream string, delta float64) {
	m.sseActiveConnections.WithLabelValues(stream).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(stream, eventType string) {
	m.sseEventsSent.WithLabelValues(stream, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
