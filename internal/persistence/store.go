// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package persistence defines the durable records of the stream service and
// the store contract implemented by the memory, sqlite and postgres backends.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// ErrNotFound is returned when a record does not exist or belongs to another owner.
var ErrNotFound = errors.New("record not found")

// ScheduleStatus is the lifecycle of a schedule record.
type ScheduleStatus string

const (
	SchedulePending ScheduleStatus = "pending"
	ScheduleRunning ScheduleStatus = "running"
	ScheduleDone    ScheduleStatus = "done"
	ScheduleFailed  ScheduleStatus = "failed"
)

// Schedule is a stream planned to start at StartAt.
type Schedule struct {
	ID         int64             `json:"id"`
	OwnerID    string            `json:"ownerId"`
	Title      string            `json:"title,omitempty"`
	Input      model.StoredInput `json:"input"`
	ChannelIDs []int64           `json:"channelIds"`
	Mode       model.FanoutMode  `json:"mode"`
	StartAt    time.Time         `json:"startAt"`
	Status     ScheduleStatus    `json:"status"`
	JobID      string            `json:"jobId,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Job is the durable audit record of a started stream.
type Job struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"ownerId"`
	Mode       model.FanoutMode  `json:"mode"`
	Input      model.StoredInput `json:"input"`
	ChannelIDs []int64           `json:"channelIds"`
	ScheduleID int64             `json:"scheduleId,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	StoppedAt  *time.Time        `json:"stoppedAt,omitempty"`
}

// Channel is a destination owned by one principal. The stream key is kept
// encrypted and never leaves the service in clear text.
type Channel struct {
	ID                 int64     `json:"id"`
	OwnerID            string    `json:"ownerId"`
	Name               string    `json:"name"`
	Platform           string    `json:"platform"`
	RTMPURL            string    `json:"rtmpUrl"`
	StreamKeyEncrypted string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
}

// ScheduleStore persists schedules.
type ScheduleStore interface {
	// CreateSchedule assigns ID and CreatedAt. An empty status becomes pending.
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id int64) (Schedule, error)
	// ListSchedules returns the owner's schedules ordered by StartAt.
	ListSchedules(ctx context.Context, ownerID string) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, ownerID string, id int64) error
	// DuePending returns up to limit pending schedules with StartAt <= now, oldest first.
	DuePending(ctx context.Context, now time.Time, limit int) ([]Schedule, error)
	// ClaimSchedule moves a schedule from pending to running. It reports
	// false when the schedule was no longer pending.
	ClaimSchedule(ctx context.Context, id int64) (bool, error)
	// MarkSchedule sets the status and, when non-empty, the started job id.
	MarkSchedule(ctx context.Context, id int64, status ScheduleStatus, jobID string) error
	// SetScheduleJob records the job started for a schedule and leaves its
	// status alone.
	SetScheduleJob(ctx context.Context, id int64, jobID string) error
	// CompleteRunningForOwner marks every running schedule of the owner done.
	CompleteRunningForOwner(ctx context.Context, ownerID string) (int64, error)
}

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	DeleteJob(ctx context.Context, id string) error
	MarkJobStopped(ctx context.Context, id string, at time.Time) error
	// ActiveJobs lists the owner's jobs without a stop time, newest first.
	// An empty ownerID lists every owner.
	ActiveJobs(ctx context.Context, ownerID string) ([]Job, error)
	// StopOrphanedJobs stamps every unstopped job, used on boot when no
	// process of a previous run can still be alive.
	StopOrphanedJobs(ctx context.Context, at time.Time) (int64, error)
}

// ChannelStore persists destinations.
type ChannelStore interface {
	CreateChannel(ctx context.Context, c *Channel) error
	ListChannels(ctx context.Context, ownerID string) ([]Channel, error)
	CountChannels(ctx context.Context, ownerID string) (int, error)
	DeleteChannel(ctx context.Context, ownerID string, id int64) error
}

// Store is the full persistence contract.
type Store interface {
	ScheduleStore
	JobStore
	ChannelStore
	Close() error
}
