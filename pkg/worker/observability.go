package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmill_worker_jobs_executed_total",
			Help: "Total number of jobs executed by this worker, by outcome",
		},
		[]string{"worker_id", "outcome"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobmill_worker_jobs_inflight",
			Help: "Current number of in-flight jobs for this worker",
		},
		[]string{"worker_id"},
	)
)

func recordJobExecuted(workerID, outcome string) {
	jobsExecutedTotal.WithLabelValues(workerID, outcome).Inc()
}

func setJobsInFlight(workerID string, count int) {
	jobsInFlight.WithLabelValues(workerID).Set(float64(count))
}
