// Package metrics defines Labtasker's prometheus series, adapted from
// the teacher's internal/metrics/metrics.go (same promauto registration
// style) but scoped to the dispatch engine's own concerns: task state
// transitions, fetch-next latency, reaper sweep duration, and event bus
// overflow, instead of the teacher's generic task-type/DLQ metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"queue"},
	)

	TasksByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labtasker_tasks_by_state",
			Help: "Current number of tasks in each state",
		},
		[]string{"queue", "status"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_task_retries_total",
			Help: "Total number of task retries",
		},
		[]string{"queue"},
	)

	// Fetch-next / dispatch metrics
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labtasker_fetch_latency_seconds",
			Help:    "Time spent inside FetchNext, including its candidate scan",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"queue"},
	)

	FetchEmpty = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_fetch_empty_total",
			Help: "Total FetchNext calls that found no eligible task",
		},
		[]string{"queue"},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labtasker_active_workers",
			Help: "Current number of ACTIVE workers",
		},
		[]string{"queue"},
	)

	WorkersSuspended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_workers_suspended_total",
			Help: "Total number of times a worker was suspended",
		},
		[]string{"queue"},
	)

	WorkersCrashed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_workers_crashed_total",
			Help: "Total number of times a worker was marked CRASHED by the reaper",
		},
		[]string{"queue"},
	)

	// Reaper metrics
	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labtasker_reaper_sweep_duration_seconds",
			Help:    "Duration of a single reaper sweep pass",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	ReaperExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_reaper_expired_total",
			Help: "Total leases reclaimed by the reaper, by expiry reason",
		},
		[]string{"reason"}, // "heartbeat" or "task_timeout"
	)

	// Event bus metrics
	EventBusDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_event_bus_drops_total",
			Help: "Total events dropped by a subscriber's overflowing buffer",
		},
		[]string{"queue"},
	)

	EventBusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "labtasker_event_bus_subscribers",
			Help: "Current number of active event bus subscriptions",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labtasker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Redis metrics
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labtasker_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "labtasker_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labtasker_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskSubmission records a task submission onto a queue.
func RecordTaskSubmission(queueID string) {
	TasksSubmitted.WithLabelValues(queueID).Inc()
}

// RecordTaskRetry records a failed report that re-queued a task.
func RecordTaskRetry(queueID string) {
	TaskRetries.WithLabelValues(queueID).Inc()
}

// SetTasksByState sets the gauge for one (queue, status) pair.
func SetTasksByState(queueID, status string, count float64) {
	TasksByState.WithLabelValues(queueID, status).Set(count)
}

// RecordFetchLatency records how long a FetchNext call took.
func RecordFetchLatency(queueID string, seconds float64) {
	FetchLatency.WithLabelValues(queueID).Observe(seconds)
}

// RecordFetchEmpty records a FetchNext call that leased nothing.
func RecordFetchEmpty(queueID string) {
	FetchEmpty.WithLabelValues(queueID).Inc()
}

// SetActiveWorkers sets the active-worker gauge for a queue.
func SetActiveWorkers(queueID string, count float64) {
	ActiveWorkers.WithLabelValues(queueID).Set(count)
}

// RecordWorkerSuspended records a worker crossing its retry threshold.
func RecordWorkerSuspended(queueID string) {
	WorkersSuspended.WithLabelValues(queueID).Inc()
}

// RecordWorkerCrashed records the reaper marking a worker CRASHED.
func RecordWorkerCrashed(queueID string) {
	WorkersCrashed.WithLabelValues(queueID).Inc()
}

// RecordReaperSweep records one sweep pass's wall-clock duration.
func RecordReaperSweep(seconds float64) {
	ReaperSweepDuration.Observe(seconds)
}

// RecordReaperExpired records a lease reclaimed for the given reason.
func RecordReaperExpired(reason string) {
	ReaperExpired.WithLabelValues(reason).Inc()
}

// RecordEventBusDrop records a subscriber buffer overflow for a queue.
func RecordEventBusDrop(queueID string) {
	EventBusDrops.WithLabelValues(queueID).Inc()
}

// SetEventBusSubscribers sets the current subscriber count gauge.
func SetEventBusSubscribers(count float64) {
	EventBusSubscribers.Set(count)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRedisOperation records a Redis operation's duration.
func RecordRedisOperation(operation string, duration float64) {
	RedisOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRedisError records a Redis operation failure.
func RecordRedisError(operation string) {
	RedisErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message sent.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
