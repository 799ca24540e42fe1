// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_jobs_started_total",
		Help: "Total number of stream job start requests by fan-out mode and result",
	}, []string{"mode", "result"})

	JobStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_job_status_total",
		Help: "Total number of job status transitions by target status",
	}, []string{"status"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_active_jobs",
		Help: "Number of jobs currently held in the job registry",
	})

	ClassifiedErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_classified_errors_total",
		Help: "Total number of job errors by kind",
	}, []string{"kind"})
)

// IncJobStart records the outcome of a start request.
func IncJobStart(mode, result string) {
	JobsStartedTotal.WithLabelValues(mode, result).Inc()
}

// IncJobStatus records a status transition.
func IncJobStatus(status string) {
	JobStatusTotal.WithLabelValues(status).Inc()
}

// IncJobError records an appended job error.
func IncJobError(kind string) {
	ClassifiedErrorsTotal.WithLabelValues(kind).Inc()
}

// SetActiveJobs publishes the registry size.
func SetActiveJobs(n int) {
	ActiveJobs.Set(float64(n))
}
