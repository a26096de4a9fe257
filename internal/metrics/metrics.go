// Package metrics exposes the Prometheus collectors the engine and its
// admin API report through, plus a small adapter that satisfies
// worker.Metrics so the scheduling loop can report without importing
// Prometheus directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task lifecycle metrics
	TasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macrocore_tasks_started_total",
			Help: "Total number of controller runs started",
		},
		[]string{"task"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macrocore_tasks_completed_total",
			Help: "Total number of controller steps completed, by outcome",
		},
		[]string{"status"},
	)

	TaskPauseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "macrocore_task_pause_duration_seconds",
			Help:    "Time a controller spent paused before resuming",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"kind"}, // soft | interrupt | stop
	)

	// Scheduler metrics
	ActiveControllers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "macrocore_active_controllers",
			Help: "Current number of controllers registered with the engine",
		},
	)

	PausedControllers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "macrocore_paused_controllers",
			Help: "Current number of controllers sitting in the paused set",
		},
	)

	HeapDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "macrocore_heap_depth",
			Help: "Current number of entries in the scheduling heap",
		},
	)

	WatchdogTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "macrocore_watchdog_triggers_total",
			Help: "Total number of times the deadlock watchdog fired a soft pause",
		},
	)

	WorkerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "macrocore_worker_restarts_total",
			Help: "Total number of times a deadlocked worker was torn down and rebuilt",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "macrocore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macrocore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Redis metrics (event bus only, post-queue-removal)
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "macrocore_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macrocore_redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "macrocore_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macrocore_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskStarted records a controller run starting.
func RecordTaskStarted(name string) {
	TasksStarted.WithLabelValues(name).Inc()
}

// RecordTaskCompletion records a controller step finishing, by outcome
// (the worker reports finished, looped, or crashed).
func RecordTaskCompletion(status string) {
	TasksCompleted.WithLabelValues(status).Inc()
}

// RecordPauseDuration records how long a controller sat paused.
func RecordPauseDuration(kind string, seconds float64) {
	TaskPauseDuration.WithLabelValues(kind).Observe(seconds)
}

// SetActiveControllers sets the active-controller gauge.
func SetActiveControllers(count float64) {
	ActiveControllers.Set(count)
}

// RecordWatchdogTrigger increments the watchdog-fired counter.
func RecordWatchdogTrigger() {
	WatchdogTriggers.Inc()
}

// RecordWorkerRestart increments the worker-rebuild counter.
func RecordWorkerRestart() {
	WorkerRestarts.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRedisOperation records a Redis operation.
func RecordRedisOperation(operation string, duration float64) {
	RedisOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRedisError records a Redis error.
func RecordRedisError(operation string) {
	RedisErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}

// WorkerMetrics adapts the package-level collectors to worker.Metrics so
// the scheduling loop can report without importing Prometheus.
type WorkerMetrics struct{}

func (WorkerMetrics) TaskCompleted(status string)    { RecordTaskCompletion(status) }
func (WorkerMetrics) SetHeapDepth(n int)              { HeapDepth.Set(float64(n)) }
func (WorkerMetrics) SetPausedControllers(n int) {
	PausedControllers.Set(float64(n))
}
