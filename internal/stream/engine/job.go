// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/metnitcs/stream-webui/internal/events"
	"github.com/metnitcs/stream-webui/internal/metrics"
	"github.com/metnitcs/stream-webui/internal/stream/ffmpeg"
	"github.com/metnitcs/stream-webui/internal/stream/input"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

const (
	maxErrorLog     = 256
	maxErrorMessage = 512
)

type process struct {
	index int
	cmd   *exec.Cmd
	pid   int
	ring  *ffmpeg.LineRing
	done  chan struct{}

	// guarded by job.mu
	state    model.ProcessState
	exitCode int
	signal   string
	stopping bool
}

type job struct {
	id        string
	owner     string
	mode      model.FanoutMode
	dests     int
	startedAt time.Time
	resolved  *input.Resolved
	quit      chan struct{}

	mu      sync.Mutex
	status  model.JobStatus
	errs    []model.JobError
	procs   []*process
	removed bool
}

// setStatusLocked applies a transition if it is legal and returns the
// status event to publish.
func (j *job) setStatusLocked(to model.JobStatus, message string, now time.Time) (events.Event, bool) {
	if j.status == to || !model.CanTransition(j.status, to) {
		return events.Event{}, false
	}
	j.status = to
	metrics.IncJobStatus(string(to))
	return events.StatusEvent(j.id, to, message, now), true
}

func (j *job) appendErrorLocked(kind model.ErrorKind, idx int, message string, now time.Time) model.JobError {
	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage]
	}
	e := model.JobError{Timestamp: now.UTC(), Message: message, Kind: kind, ProcessIndex: idx}
	j.errs = append(j.errs, e)
	if len(j.errs) > maxErrorLog {
		j.errs = append(j.errs[:0:0], j.errs[len(j.errs)-maxErrorLog:]...)
	}
	metrics.IncJobError(string(kind))
	return e
}

func (j *job) runningLocked() []*process {
	var out []*process
	for _, p := range j.procs {
		if p.state == model.ProcRunning {
			out = append(out, p)
		}
	}
	return out
}

func (j *job) viewLocked(now time.Time) model.JobView {
	v := model.JobView{
		JobID:            j.id,
		OwnerID:          j.owner,
		Status:           j.status,
		Mode:             j.mode,
		StartedAt:        j.startedAt,
		UptimeMs:         now.Sub(j.startedAt).Milliseconds(),
		Errors:           append([]model.JobError{}, j.errs...),
		DestinationCount: j.dests,
	}
	for _, p := range j.procs {
		v.Processes = append(v.Processes, model.ProcessInfo{
			Index:    p.index,
			PID:      p.pid,
			State:    p.state,
			ExitCode: p.exitCode,
			Signal:   p.signal,
		})
	}
	return v
}

func (j *job) snapshotLocked(now time.Time, recent int) model.HealthSnapshot {
	errs := j.errs
	if len(errs) > recent {
		errs = errs[len(errs)-recent:]
	}
	return model.HealthSnapshot{
		Status:           j.status,
		UptimeMs:         now.Sub(j.startedAt).Milliseconds(),
		RecentErrors:     append([]model.JobError{}, errs...),
		DestinationCount: j.dests,
	}
}

// crashMessage describes an unexpected exit with the process's last diagnostic lines.
func crashMessage(p *process, code int, sig string) string {
	var b strings.Builder
	b.WriteString("encoder exited unexpectedly (code=")
	b.WriteString(strconv.Itoa(code))
	if sig != "" {
		b.WriteString(", signal=")
		b.WriteString(sig)
	}
	b.WriteString(")")
	if tail := p.ring.LastN(3); len(tail) > 0 {
		b.WriteString(": ")
		b.WriteString(ffmpeg.RedactText(strings.Join(tail, " | ")))
	}
	return b.String()
}
