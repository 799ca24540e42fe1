// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScheduleActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_schedule_activations_total",
		Help: "Schedule activation attempts by result (started, failed, lost_claim)",
	}, []string{"result"})

	SchedulePollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stream_schedule_poll_duration_seconds",
		Help:    "Duration of one schedule poll including callbacks",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// IncScheduleActivation records one activation outcome.
func IncScheduleActivation(result string) {
	ScheduleActivationsTotal.WithLabelValues(result).Inc()
}
