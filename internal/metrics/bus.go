// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_published_total",
		Help: "Total number of job events handed to the event transport",
	}, []string{"transport", "kind"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_dropped_total",
		Help: "Total number of job events dropped by transport and reason",
	}, []string{"transport", "reason"})
)

// IncEventPublished records an event accepted by a transport.
func IncEventPublished(transport, kind string) {
	EventsPublishedTotal.WithLabelValues(transport, kind).Inc()
}

// IncEventDrop records a dropped event with a concrete reason.
func IncEventDrop(transport, reason string) {
	if transport == "" {
		transport = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(transport, reason).Inc()
}
