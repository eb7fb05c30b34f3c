// Package metrics provides Prometheus metrics for monitoring the
// orchestrator.
package metrics

import (
	"time"

	"github.com/OLJE901753/farmhand/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_tasks_submitted_total",
			Help: "Total number of tasks accepted for scheduling",
		},
		[]string{"type", "priority"},
	)
	TasksDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_tasks_deduplicated_total",
			Help: "Total number of submissions collapsed onto an existing idempotency key",
		},
		[]string{"type"},
	)
	RunsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_runs_dispatched_total",
			Help: "Total number of runs handed to agents",
		},
		[]string{"capability"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
		[]string{"type"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_tasks_failed_total",
			Help: "Total number of tasks that failed terminally",
		},
		[]string{"type"},
	)
	TasksRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_tasks_retried_total",
			Help: "Total number of run retries scheduled",
		},
		[]string{"type"},
	)
	RunsTimedOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_runs_timed_out_total",
			Help: "Total number of runs that exceeded their timeout",
		},
		[]string{"capability"},
	)
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmhand_run_duration_seconds",
			Help:    "Run execution duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type", "status"},
	)
	TaskWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmhand_task_wait_time_seconds",
			Help:    "Time tasks spend queued before their first dispatch",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"type", "priority"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmhand_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	PendingDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farmhand_pending_queue_depth",
			Help: "Current depth of the pending task queue",
		},
	)
	DelayedDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farmhand_delayed_queue_depth",
			Help: "Current depth of the delayed (retry/scheduled) queue",
		},
	)
	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farmhand_runs_in_flight",
			Help: "Number of runs currently dispatched to agents",
		},
	)
	AgentsAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "farmhand_agents_available",
			Help: "Number of active agents with effective health below unhealthy",
		},
	)
	HeartbeatsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmhand_heartbeats_received_total",
			Help: "Total number of agent heartbeats ingested",
		},
		[]string{"agent_id"},
	)
)

func RecordTaskSubmitted(taskType string, priority task.Priority) {
	TasksSubmitted.WithLabelValues(taskType, priority.String()).Inc()
}

func RecordTaskDeduplicated(taskType string) {
	TasksDeduplicated.WithLabelValues(taskType).Inc()
}

func RecordRunDispatched(capability string) {
	RunsDispatched.WithLabelValues(capability).Inc()
}

func RecordTaskCompleted(taskType string, duration time.Duration) {
	TasksCompleted.WithLabelValues(taskType).Inc()
	RunDuration.WithLabelValues(taskType, "completed").Observe(duration.Seconds())
}

func RecordTaskFailed(taskType string, duration time.Duration) {
	TasksFailed.WithLabelValues(taskType).Inc()
	RunDuration.WithLabelValues(taskType, "failed").Observe(duration.Seconds())
}

func RecordTaskRetried(taskType string) {
	TasksRetried.WithLabelValues(taskType).Inc()
}

func RecordRunTimedOut(capability string) {
	RunsTimedOut.WithLabelValues(capability).Inc()
}

func RecordTaskWaitTime(taskType string, priority task.Priority, waitTime time.Duration) {
	TaskWaitTime.WithLabelValues(taskType, priority.String()).Observe(waitTime.Seconds())
}

func RecordHeartbeat(agentID string) {
	HeartbeatsReceived.WithLabelValues(agentID).Inc()
}

func UpdateQueueDepths(pending, delayed int64) {
	PendingDepth.Set(float64(pending))
	DelayedDepth.Set(float64(delayed))
}

func UpdateRunsInFlight(count int) {
	RunsInFlight.Set(float64(count))
}

func UpdateAgentsAvailable(count int) {
	AgentsAvailable.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
