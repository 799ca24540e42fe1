// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schedule activates due schedule records exactly once.
package schedule

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/metrics"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/telemetry"
)

const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 5
)

// StartFunc materializes a schedule into a running job and returns its id.
type StartFunc func(ctx context.Context, s persistence.Schedule) (string, error)

// Store is the slice of persistence the activator drives.
type Store interface {
	DuePending(ctx context.Context, now time.Time, limit int) ([]persistence.Schedule, error)
	ClaimSchedule(ctx context.Context, id int64) (bool, error)
	MarkSchedule(ctx context.Context, id int64, status persistence.ScheduleStatus, jobID string) error
	SetScheduleJob(ctx context.Context, id int64, jobID string) error
}

// Activator polls for due schedules. Every record is claimed (pending to
// running) before Start sees it, so a record is never started twice. A
// failed start marks the record failed and is not retried.
type Activator struct {
	Store     Store
	Start     StartFunc
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (a *Activator) Run(ctx context.Context) error {
	if a.Store == nil || a.Start == nil {
		return errors.New("schedule: store and start func are required")
	}
	interval := a.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger := log.WithComponent("scheduler")
	logger.Info().Dur("interval", interval).Int("batch", a.batch()).Msg("schedule activator started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			a.Tick(ctx)
		case <-ctx.Done():
			logger.Info().Msg("schedule activator stopped")
			return ctx.Err()
		}
	}
}

// Tick runs one poll and returns how many schedules were started.
func (a *Activator) Tick(ctx context.Context) int {
	started := time.Now()
	defer func() { metrics.SchedulePollDuration.Observe(time.Since(started).Seconds()) }()

	logger := log.WithComponent("scheduler")
	due, err := a.Store.DuePending(ctx, a.now(), a.batch())
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("failed to query due schedules")
		}
		return 0
	}
	if len(due) > 0 {
		logger.Debug().Int("due", len(due)).Msg("found due schedules")
	}

	n := 0
	for _, s := range due {
		if ctx.Err() != nil {
			break
		}
		if a.activate(ctx, s) {
			n++
		}
	}
	return n
}

func (a *Activator) activate(ctx context.Context, s persistence.Schedule) bool {
	logger := log.WithComponent("scheduler").With().
		Int64(log.FieldScheduleID, s.ID).
		Str(log.FieldOwnerID, s.OwnerID).
		Logger()

	ctx, span := telemetry.Tracer("scheduler").Start(ctx, "schedule.activate",
		trace.WithAttributes(telemetry.ScheduleAttributes(s.ID, s.OwnerID)...))
	defer span.End()
	outcome := func(o string) {
		metrics.IncScheduleActivation(o)
		span.SetAttributes(attribute.String(telemetry.OutcomeKey, o))
	}

	won, err := a.Store.ClaimSchedule(ctx, s.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim schedule")
		outcome("claim_error")
		return false
	}
	if !won {
		logger.Debug().Msg("schedule already claimed")
		outcome("lost_claim")
		return false
	}

	jobID, err := a.Start(ctx, s)
	if err != nil {
		logger.Warn().Err(err).Msg("scheduled stream failed to start")
		outcome("failed")
		span.SetStatus(codes.Error, "start failed")
		// The claim already happened; record the failure even if ctx is gone.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if merr := a.Store.MarkSchedule(markCtx, s.ID, persistence.ScheduleFailed, ""); merr != nil {
			logger.Error().Err(merr).Msg("failed to mark schedule failed")
		}
		return false
	}

	// The claim already set running. A job that ended before this point has
	// moved the record to done and must stay there.
	if err := a.Store.SetScheduleJob(ctx, s.ID, jobID); err != nil {
		logger.Warn().Err(err).Str(log.FieldJobID, jobID).Msg("failed to record job on schedule")
	}
	logger.Info().Str(log.FieldJobID, jobID).Time("start_at", s.StartAt).Msg("scheduled stream started")
	outcome("started")
	return true
}

func (a *Activator) batch() int {
	if a.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return a.BatchSize
}

func (a *Activator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
