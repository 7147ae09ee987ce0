// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_submissions_total",
			Help: "Funding application submissions by outcome",
		},
		[]string{"outcome"},
	)

	LenderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lender_calls_total",
			Help: "Outbound lender calls by lender type, operation and result",
		},
		[]string{"lender_type", "operation", "result"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lender_webhook_events_total",
			Help: "Inbound lender webhook events by event type and disposition",
		},
		[]string{"event", "disposition"},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lender_application_transitions_total",
			Help: "Applied lender application status transitions",
		},
		[]string{"status", "source"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "task_queue_depth",
			Help: "Tasks waiting in the async task queue",
		},
	)

	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Async tasks that returned an error, by task kind",
		},
		[]string{"kind"},
	)
)
