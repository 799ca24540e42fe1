// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/metnitcs/stream-webui/internal/metrics"
)

// Terminate stops a process group gracefully: it sends sig, waits for done to
// be closed, and sends SIGKILL if the process is still alive after grace.
// It returns ErrKillFailed if the process survives SIGKILL for another grace
// period. Safe to call on nil or never-started commands.
func Terminate(cmd *exec.Cmd, done <-chan struct{}, sig syscall.Signal, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}

	if err := Kill(cmd, sig); err != nil {
		metrics.IncProcTerminate(sig.String(), "error")
	} else {
		metrics.IncProcTerminate(sig.String(), "sent")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	if err := Kill(cmd, syscall.SIGKILL); err != nil {
		metrics.IncProcTerminate("SIGKILL", "error")
	} else {
		metrics.IncProcTerminate("SIGKILL", "sent")
	}

	timer.Reset(grace)
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrKillFailed
	}
}
