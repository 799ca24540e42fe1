// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EncoderStartTotal counts encoder subprocess spawn attempts.
	EncoderStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_encoder_start_total",
		Help: "Total number of encoder process spawn attempts",
	}, []string{"mode", "result"})

	// EncoderExitTotal counts encoder subprocess exits by classified reason.
	EncoderExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_encoder_exit_total",
		Help: "Total number of encoder process exits",
	}, []string{"reason"})

	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_proc_terminate_total",
		Help: "Signals sent to encoder process groups",
	}, []string{"signal", "result"})
)

// IncEncoderStart records a spawn attempt outcome ("ok" or "error").
func IncEncoderStart(mode, result string) {
	EncoderStartTotal.WithLabelValues(mode, result).Inc()
}

// IncEncoderExit records an exit reason ("clean", "stopped", "crash").
func IncEncoderExit(reason string) {
	EncoderExitTotal.WithLabelValues(reason).Inc()
}

// IncProcTerminate records a termination signal delivery.
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}
