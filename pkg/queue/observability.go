package queue

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmill_jobs_created_total",
			Help: "Total number of jobs created",
		},
		[]string{"type"},
	)

	jobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmill_jobs_claimed_total",
			Help: "Total number of successful job claims",
		},
		[]string{"type"},
	)

	jobsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmill_jobs_resolved_total",
			Help: "Total number of job resolutions by outcome",
		},
		[]string{"type", "outcome"},
	)

	jobsRetryScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmill_jobs_retry_scheduled_total",
			Help: "Total number of retries scheduled with backoff",
		},
		[]string{"type"},
	)

	notificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmill_notifications_failed_total",
			Help: "Total number of notification publishes that failed",
		},
		[]string{"event"},
	)
)

func recordJobCreated(jobType string) {
	jobsCreatedTotal.WithLabelValues(normalizeMetricLabel(jobType)).Inc()
}

func recordJobClaimed(jobType string) {
	jobsClaimedTotal.WithLabelValues(normalizeMetricLabel(jobType)).Inc()
}

func recordJobResolved(jobType, outcome string) {
	jobsResolvedTotal.WithLabelValues(normalizeMetricLabel(jobType), normalizeMetricLabel(outcome)).Inc()
}

func recordRetryScheduled(jobType string) {
	jobsRetryScheduledTotal.WithLabelValues(normalizeMetricLabel(jobType)).Inc()
}

func recordNotificationFailed(event string) {
	notificationsFailedTotal.WithLabelValues(normalizeMetricLabel(event)).Inc()
}

func normalizeMetricLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
