// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine supervises encoder subprocesses that push one input to a
// set of live destinations. It owns the in-memory job table; job records
// that must survive a restart live in the persistence layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metnitcs/stream-webui/internal/events"
	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/metrics"
	"github.com/metnitcs/stream-webui/internal/procgroup"
	"github.com/metnitcs/stream-webui/internal/stream/classify"
	"github.com/metnitcs/stream-webui/internal/stream/ffmpeg"
	"github.com/metnitcs/stream-webui/internal/stream/input"
	"github.com/metnitcs/stream-webui/internal/stream/model"
	"github.com/metnitcs/stream-webui/internal/telemetry"
)

// stopSignal is sent to encoder process groups on a requested stop.
const stopSignal = syscall.SIGINT

// JobSpec describes a job to start.
type JobSpec struct {
	ID      string
	OwnerID string
	Input   model.InputSpec
	Mode    model.FanoutMode
	// Destinations are resolved sink URLs. They are never logged.
	Destinations []string
}

// Engine is the process supervisor.
type Engine struct {
	cfg      Config
	reg      *Registry
	resolver *input.Resolver
	pub      events.Publisher

	// wg tracks process watchers, health loops and terminations.
	wg sync.WaitGroup
}

// New creates an engine.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		reg:      newRegistry(),
		resolver: input.NewResolver(cfg.WorkDir),
		pub:      cfg.Publisher,
	}
}

// Registry exposes the job table for inspection.
func (e *Engine) Registry() *Registry { return e.reg }

// Resolver returns the input resolver used for manifests.
func (e *Engine) Resolver() *input.Resolver { return e.resolver }

// Start validates spec and starts its processes. Resolution and spawn
// failures are returned synchronously and leave nothing registered.
func (e *Engine) Start(ctx context.Context, spec JobSpec) error {
	_, err := e.start(ctx, spec)
	return err
}

// StartPerChannel starts one independent encoder per destination.
func (e *Engine) StartPerChannel(ctx context.Context, jobID, ownerID string, in model.InputSpec, dests []string) error {
	_, err := e.start(ctx, JobSpec{ID: jobID, OwnerID: ownerID, Input: in, Mode: model.ModePerChannel, Destinations: dests})
	return err
}

// StartTee starts a single encoder feeding every destination and returns its pid.
func (e *Engine) StartTee(ctx context.Context, jobID, ownerID string, in model.InputSpec, dests []string) (int, error) {
	pids, err := e.start(ctx, JobSpec{ID: jobID, OwnerID: ownerID, Input: in, Mode: model.ModeTee, Destinations: dests})
	if err != nil {
		return 0, err
	}
	return pids[0], nil
}

func (e *Engine) start(ctx context.Context, spec JobSpec) ([]int, error) {
	ctx, span := telemetry.Tracer("engine").Start(ctx, "engine.start",
		trace.WithAttributes(telemetry.JobAttributes(spec.ID, spec.OwnerID, string(spec.Mode), string(spec.Input.Kind), len(spec.Destinations))...))
	defer span.End()

	pids, err := e.launch(ctx, spec)
	if err != nil {
		span.SetStatus(codes.Error, ffmpeg.RedactText(err.Error()))
		return nil, err
	}
	span.SetAttributes(attribute.Int("stream.processes", len(pids)))
	return pids, nil
}

func (e *Engine) launch(ctx context.Context, spec JobSpec) ([]int, error) {
	logger := log.WithContext(log.ContextWithJobID(ctx, spec.ID), log.WithComponent("engine"))
	spec.Mode = model.ParseFanoutMode(string(spec.Mode))
	mode := string(spec.Mode)

	if spec.ID == "" {
		return nil, fmt.Errorf("%w: empty job id", model.ErrInvalidInput)
	}
	if len(spec.Destinations) == 0 {
		metrics.IncJobStart(mode, "no_destinations")
		return nil, ErrNoDestinations
	}
	if err := e.reg.reserve(spec.ID); err != nil {
		metrics.IncJobStart(mode, "already_exists")
		return nil, err
	}

	resolved, err := e.resolver.Resolve(spec.Input, spec.ID)
	if err != nil {
		e.reg.cancel(spec.ID)
		metrics.IncJobStart(mode, "resolution_error")
		logger.Warn().Err(err).Msg("input resolution failed")
		return nil, err
	}

	var argsets [][]string
	if spec.Mode == model.ModeTee {
		var args []string
		args, err = ffmpeg.BuildTeeArgs(resolved, e.cfg.Encode, spec.Destinations)
		argsets = [][]string{args}
	} else {
		argsets, err = ffmpeg.BuildPerChannelArgs(resolved, e.cfg.Encode, spec.Destinations)
	}
	if err != nil {
		_ = resolved.Release()
		e.reg.cancel(spec.ID)
		metrics.IncJobStart(mode, "args_error")
		return nil, err
	}

	now := e.cfg.Now()
	j := &job{
		id:        spec.ID,
		owner:     spec.OwnerID,
		mode:      spec.Mode,
		dests:     len(spec.Destinations),
		startedAt: now,
		resolved:  resolved,
		quit:      make(chan struct{}),
		status:    model.StatusStarting,
	}

	// Hold the job lock until the job is registered so that output observed
	// from a fast process is applied to a complete job.
	j.mu.Lock()
	pids := make([]int, 0, len(argsets))
	for i, args := range argsets {
		p, stderr, err := e.spawn(i, args)
		if err != nil {
			e.abortLocked(j)
			j.mu.Unlock()
			_ = resolved.Release()
			e.reg.cancel(spec.ID)
			metrics.IncEncoderStart(mode, "error")
			metrics.IncJobStart(mode, "spawn_error")
			logger.Error().Err(err).Int(log.FieldProcessIndex, i).Msg("failed to spawn encoder")
			return nil, &SpawnError{Index: i, Err: err}
		}
		metrics.IncEncoderStart(mode, "ok")
		logger.Debug().
			Int(log.FieldProcessIndex, i).
			Int(log.FieldPID, p.pid).
			Strs("args", ffmpeg.RedactArgs(args)).
			Msg("encoder spawned")
		j.procs = append(j.procs, p)
		pids = append(pids, p.pid)

		e.wg.Add(1)
		go e.watch(j, p, stderr)
	}
	e.reg.commit(j)
	metrics.IncJobStatus(string(model.StatusStarting))
	e.publish(j, events.StatusEvent(j.id, model.StatusStarting, "starting", now))
	j.mu.Unlock()

	metrics.SetActiveJobs(e.reg.Len())
	metrics.IncJobStart(mode, "ok")

	e.wg.Add(1)
	go e.healthLoop(j)

	logger.Info().
		Str(log.FieldOwnerID, spec.OwnerID).
		Str(log.FieldMode, mode).
		Str(log.FieldKind, string(spec.Input.Kind)).
		Int("destinations", len(spec.Destinations)).
		Ints("pids", pids).
		Msg("job started")
	return pids, nil
}

func (e *Engine) spawn(idx int, args []string) (*process, io.ReadCloser, error) {
	cmd := exec.Command(e.cfg.FFmpegBin, args...) // #nosec G204 -- args are built, not shell-interpreted
	procgroup.Set(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return &process{
		index: idx,
		cmd:   cmd,
		pid:   cmd.Process.Pid,
		ring:  ffmpeg.NewLineRing(e.cfg.StderrLines),
		done:  make(chan struct{}),
		state: model.ProcRunning,
	}, stderr, nil
}

// abortLocked kills the processes spawned so far for a job that failed to start.
func (e *Engine) abortLocked(j *job) {
	j.removed = true
	for _, p := range j.procs {
		p.stopping = true
		_ = procgroup.Kill(p.cmd, syscall.SIGKILL)
	}
}

// watch forwards diagnostic output of p and handles its exit.
func (e *Engine) watch(j *job, p *process, stderr io.Reader) {
	defer e.wg.Done()

	var asm classify.LineAssembler
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			e.publish(j, events.LogEvent(j.id, p.index, string(chunk)))
			for _, line := range asm.Feed(chunk) {
				p.ring.Add(line)
				e.observe(j, p.index, line)
			}
		}
		if err != nil {
			break
		}
	}
	if line, ok := asm.Flush(); ok {
		p.ring.Add(line)
		e.observe(j, p.index, line)
	}

	waitErr := p.cmd.Wait()
	close(p.done)
	e.onExit(j, p, waitErr)
}

// observe applies one diagnostic line to the job state.
func (e *Engine) observe(j *job, idx int, line string) {
	f := classify.Classify(line)
	if f.Empty() {
		return
	}
	now := e.cfg.Now()
	var evs []events.Event

	j.mu.Lock()
	if j.removed {
		j.mu.Unlock()
		return
	}
	if f.Started && j.status == model.StatusStarting {
		if ev, ok := j.setStatusLocked(model.StatusStreaming, "streaming", now); ok {
			evs = append(evs, ev)
		}
	}
	if f.Kind.IsAdvisory() {
		entry := j.appendErrorLocked(f.Kind, idx, ffmpeg.RedactText(line), now)
		if ev, ok := j.setStatusLocked(model.StatusError, entry.Message, now); ok {
			evs = append(evs, ev)
		} else {
			evs = append(evs, events.StatusEvent(j.id, j.status, entry.Message, now))
		}
	}
	j.mu.Unlock()

	for _, ev := range evs {
		e.publish(j, ev)
	}
}

// onExit records a process exit. A crash fails the job; a job whose
// processes all ended cleanly leaves the registry.
func (e *Engine) onExit(j *job, p *process, waitErr error) {
	logger := log.WithComponent("engine").With().
		Str(log.FieldJobID, j.id).
		Int(log.FieldProcessIndex, p.index).
		Int(log.FieldPID, p.pid).
		Logger()
	now := e.cfg.Now()

	state := p.cmd.ProcessState
	code := -1
	var sigName string
	signaled := false
	var sig syscall.Signal
	if state != nil {
		code = state.ExitCode()
		sig, signaled = procgroup.ExitSignal(state)
		if signaled {
			sigName = sig.String()
		}
	}

	var evs []events.Event
	ended := false

	j.mu.Lock()
	p.exitCode = code
	p.signal = sigName
	if j.removed {
		p.state = model.ProcStopped
		j.mu.Unlock()
		metrics.IncEncoderExit("stopped")
		return
	}

	clean := code == 0 || (signaled && sig == stopSignal) || p.stopping
	var exitErr *exec.ExitError
	switch {
	case p.stopping:
		p.state = model.ProcStopped
		metrics.IncEncoderExit("stopped")
	case state == nil && waitErr != nil && !errors.As(waitErr, &exitErr):
		p.state = model.ProcCrashed
		entry := j.appendErrorLocked(model.KindSystem, p.index, "wait for encoder: "+waitErr.Error(), now)
		if ev, ok := j.setStatusLocked(model.StatusFailed, entry.Message, now); ok {
			evs = append(evs, ev)
		}
		metrics.IncEncoderExit("system")
	case clean:
		p.state = model.ProcExited
		metrics.IncEncoderExit("exit")
	default:
		p.state = model.ProcCrashed
		entry := j.appendErrorLocked(model.KindCrash, p.index, crashMessage(p, code, sigName), now)
		if ev, ok := j.setStatusLocked(model.StatusFailed, entry.Message, now); ok {
			evs = append(evs, ev)
		}
		metrics.IncEncoderExit("crash")
	}

	if j.status == model.StatusFailed {
		_ = j.resolved.Release()
	}

	if len(j.runningLocked()) == 0 && !j.status.IsTerminal() {
		if ev, ok := j.setStatusLocked(model.StatusStopped, "ended", now); ok {
			evs = append(evs, ev)
		}
		if e.reg.removeIf(j.id, j) {
			j.removed = true
			close(j.quit)
			ended = true
		}
		_ = j.resolved.Release()
	}
	j.mu.Unlock()

	if p.state == model.ProcCrashed {
		logger.Warn().Int(log.FieldExitCode, code).Str(log.FieldSignal, sigName).Msg("encoder crashed")
	} else {
		logger.Debug().Int(log.FieldExitCode, code).Str(log.FieldSignal, sigName).Msg("encoder exited")
	}
	for _, ev := range evs {
		e.publish(j, ev)
	}
	if ended {
		metrics.SetActiveJobs(e.reg.Len())
		logger.Info().Msg("job ended")
		if e.cfg.OnJobEnded != nil {
			e.cfg.OnJobEnded(j.id, j.owner)
		}
	}
}

// healthLoop publishes periodic snapshots and enforces the startup budget.
func (e *Engine) healthLoop(j *job) {
	defer e.wg.Done()
	t := time.NewTicker(e.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-j.quit:
			return
		case <-t.C:
		}

		now := e.cfg.Now()
		var evs []events.Event
		var terminate []*process

		j.mu.Lock()
		if j.removed {
			j.mu.Unlock()
			return
		}
		if j.status == model.StatusStarting && now.Sub(j.startedAt) >= e.cfg.StartupTimeout {
			msg := fmt.Sprintf("no output negotiated within %s", e.cfg.StartupTimeout)
			j.appendErrorLocked(model.KindTimeout, -1, msg, now)
			if ev, ok := j.setStatusLocked(model.StatusTimeout, msg, now); ok {
				evs = append(evs, ev)
			}
			terminate = j.runningLocked()
			for _, p := range terminate {
				p.stopping = true
			}
			_ = j.resolved.Release()
		}
		evs = append(evs, events.HealthEvent(j.id, j.snapshotLocked(now, e.cfg.RecentErrors), now))
		j.mu.Unlock()

		if len(terminate) > 0 {
			logger := log.WithComponent("engine")
			logger.Warn().Str(log.FieldJobID, j.id).Dur("budget", e.cfg.StartupTimeout).Msg("job startup timed out")
			e.terminate(terminate)
		}
		for _, ev := range evs {
			e.publish(j, ev)
		}
	}
}

// terminate stops processes asynchronously: SIGINT, then SIGKILL after the grace period.
func (e *Engine) terminate(procs []*process) {
	for _, p := range procs {
		e.wg.Add(1)
		go func(p *process) {
			defer e.wg.Done()
			if err := procgroup.Terminate(p.cmd, p.done, stopSignal, e.cfg.StopGrace); err != nil {
				logger := log.WithComponent("engine")
				logger.Error().Err(err).Int(log.FieldPID, p.pid).Msg("encoder did not exit")
			}
		}(p)
	}
}

// Stop interrupts every process of the job, removes it from the registry and
// deletes its manifests. It does not wait for the processes to exit and
// returns false for unknown ids.
func (e *Engine) Stop(ctx context.Context, jobID string) bool {
	j := e.reg.remove(jobID)
	if j == nil {
		return false
	}
	now := e.cfg.Now()

	j.mu.Lock()
	prev := j.status
	ev, changed := j.setStatusLocked(model.StatusStopped, "stopped", now)
	if !changed {
		ev = events.StatusEvent(j.id, j.status, "stopped", now)
	}
	j.removed = true
	close(j.quit)
	running := j.runningLocked()
	for _, p := range running {
		p.stopping = true
	}
	j.mu.Unlock()

	if err := j.resolved.Release(); err != nil {
		logger := log.WithComponent("engine")
		logger.Warn().Err(err).Str(log.FieldJobID, jobID).Msg("failed to remove manifests")
	}
	e.terminate(running)
	e.publish(j, ev)
	metrics.SetActiveJobs(e.reg.Len())

	logger := log.WithContext(log.ContextWithJobID(ctx, jobID), log.WithComponent("engine"))
	logger.Info().
		Str(log.FieldOldState, string(prev)).
		Str(log.FieldNewState, string(model.StatusStopped)).
		Int("processes", len(running)).
		Msg("job stopped")
	return true
}

// StopAll stops every job and waits for the supervisor goroutines to finish
// or ctx to end.
func (e *Engine) StopAll(ctx context.Context) error {
	for _, j := range e.reg.list() {
		e.Stop(ctx, j.id)
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current view of a job.
func (e *Engine) Status(jobID string) (model.JobView, error) {
	j := e.reg.get(jobID)
	if j == nil {
		return model.JobView{}, ErrNotFound
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.viewLocked(e.cfg.Now()), nil
}

// Health returns the snapshot published by the health timer.
func (e *Engine) Health(jobID string) (model.HealthSnapshot, error) {
	j := e.reg.get(jobID)
	if j == nil {
		return model.HealthSnapshot{}, ErrNotFound
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked(e.cfg.Now(), e.cfg.RecentErrors), nil
}

// List returns every registered job, oldest first.
func (e *Engine) List() []model.JobView {
	now := e.cfg.Now()
	jobs := e.reg.list()
	out := make([]model.JobView, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, j.viewLocked(now))
		j.mu.Unlock()
	}
	return out
}

func (e *Engine) publish(j *job, ev events.Event) {
	e.pub.Publish(context.Background(), j.owner, ev)
}
