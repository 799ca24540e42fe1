// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package service is the facade the HTTP layer and the schedule activator
// drive: it ties persistence, credentials and the stream engine together.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metnitcs/stream-webui/internal/credentials"
	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/stream/engine"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// MaxChannelsPerOwner bounds how many destinations one principal may keep.
const MaxChannelsPerOwner = 10

var (
	ErrNoChannels      = credentials.ErrNoChannels
	ErrInvalidInput    = model.ErrInvalidInput
	ErrNotFound        = persistence.ErrNotFound
	ErrForbidden       = errors.New("forbidden")
	ErrScheduleRunning = errors.New("cannot delete running schedule")
	ErrChannelLimit    = fmt.Errorf("channel limit reached (%d)", MaxChannelsPerOwner)
)

// Engine is the slice of the stream engine the service uses.
type Engine interface {
	Start(ctx context.Context, spec engine.JobSpec) error
	Stop(ctx context.Context, jobID string) bool
	Status(jobID string) (model.JobView, error)
}

// DestinationResolver turns channel ids into sink URLs.
type DestinationResolver interface {
	Resolve(ctx context.Context, ownerID string, refs []int64) ([]string, error)
}

// Sealer encrypts stream keys for storage.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// Deps wires a Service.
type Deps struct {
	Store        persistence.Store
	Engine       Engine
	Destinations DestinationResolver
	Sealer       Sealer
	// UploadsDir holds one user_<ownerId> directory per principal.
	UploadsDir     string
	DefaultRTMPURL string
	Now            func() time.Time
	NewID          func() string
}

// Service implements the stream operations.
type Service struct {
	store      persistence.Store
	engine     Engine
	dests      DestinationResolver
	sealer     Sealer
	uploads    string
	defaultURL string
	now        func() time.Time
	newID      func() string
}

func New(d Deps) *Service {
	s := &Service{
		store:      d.Store,
		engine:     d.Engine,
		dests:      d.Destinations,
		sealer:     d.Sealer,
		uploads:    d.UploadsDir,
		defaultURL: d.DefaultRTMPURL,
		now:        d.Now,
		newID:      d.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// StartRequest is a request to go live now.
type StartRequest struct {
	Input      model.StoredInput `json:"input"`
	ChannelIDs []int64           `json:"channelIds"`
	Mode       model.FanoutMode  `json:"mode"`
}

// ActiveStream is a persisted, unstopped job joined with its live status.
type ActiveStream struct {
	persistence.Job
	Health model.JobView `json:"health"`
}

// StartStream starts a job for ownerID and returns its id.
func (s *Service) StartStream(ctx context.Context, ownerID string, req StartRequest) (string, error) {
	if err := requireOwner(ownerID); err != nil {
		return "", err
	}
	return s.launch(ctx, ownerID, req, 0)
}

// StartScheduled is the schedule activation callback.
func (s *Service) StartScheduled(ctx context.Context, sc persistence.Schedule) (string, error) {
	return s.launch(ctx, sc.OwnerID, StartRequest{
		Input:      sc.Input,
		ChannelIDs: sc.ChannelIDs,
		Mode:       sc.Mode,
	}, sc.ID)
}

func (s *Service) launch(ctx context.Context, ownerID string, req StartRequest, scheduleID int64) (string, error) {
	if req.Input.IsEmpty() || len(req.ChannelIDs) == 0 {
		return "", fmt.Errorf("%w: input and channelIds are required", ErrInvalidInput)
	}
	spec, err := req.Input.Normalize(model.UploadResolver(s.uploads, ownerID))
	if err != nil {
		return "", err
	}
	dests, err := s.dests.Resolve(ctx, ownerID, req.ChannelIDs)
	if err != nil {
		return "", err
	}

	mode := model.ParseFanoutMode(string(req.Mode))
	rec := &persistence.Job{
		ID:         s.newID(),
		OwnerID:    ownerID,
		Mode:       mode,
		Input:      req.Input,
		ChannelIDs: req.ChannelIDs,
		ScheduleID: scheduleID,
		StartedAt:  s.now().UTC(),
	}
	if err := s.store.CreateJob(ctx, rec); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	err = s.engine.Start(ctx, engine.JobSpec{
		ID:           rec.ID,
		OwnerID:      ownerID,
		Input:        spec,
		Mode:         mode,
		Destinations: dests,
	})
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if derr := s.store.DeleteJob(cleanupCtx, rec.ID); derr != nil {
			logger := log.WithComponent("service")
			logger.Warn().Err(derr).Str(log.FieldJobID, rec.ID).Msg("failed to remove job record after start failure")
		}
		return "", err
	}
	return rec.ID, nil
}

// StopStream stops one of ownerID's jobs. Every running schedule of the
// owner is marked done afterwards.
func (s *Service) StopStream(ctx context.Context, ownerID, jobID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	rec, err := s.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}

	wasActive := s.engine.Stop(ctx, rec.ID)
	if err := s.store.MarkJobStopped(ctx, rec.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark job stopped: %w", err)
	}
	n, err := s.store.CompleteRunningForOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("complete schedules: %w", err)
	}

	logger := log.WithComponent("service")
	logger.Info().
		Str(log.FieldJobID, rec.ID).
		Str(log.FieldOwnerID, ownerID).
		Bool("was_active", wasActive).
		Int64("schedules_done", n).
		Msg("stream stopped")
	return nil
}

// JobEnded is the engine hook for jobs whose processes all exited cleanly.
func (s *Service) JobEnded(jobID, ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := log.WithComponent("service").With().
		Str(log.FieldJobID, jobID).
		Str(log.FieldOwnerID, ownerID).
		Logger()

	if err := s.store.MarkJobStopped(ctx, jobID, s.now().UTC()); err != nil {
		logger.Warn().Err(err).Msg("failed to mark ended job stopped")
		return
	}
	rec, err := s.store.GetJob(ctx, jobID)
	if err != nil || rec.ScheduleID == 0 {
		return
	}
	if err := s.store.MarkSchedule(ctx, rec.ScheduleID, persistence.ScheduleDone, ""); err != nil {
		logger.Warn().Err(err).Int64(log.FieldScheduleID, rec.ScheduleID).Msg("failed to complete schedule of ended job")
	}
}

// ActiveStreams lists ownerID's unstopped jobs with their live status.
func (s *Service) ActiveStreams(ctx context.Context, ownerID string) ([]ActiveStream, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	jobs, err := s.store.ActiveJobs(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveStream, 0, len(jobs))
	for _, j := range jobs {
		view, err := s.engine.Status(j.ID)
		if err != nil {
			view = model.JobView{JobID: j.ID, OwnerID: j.OwnerID, Status: model.StatusUnknown, Mode: j.Mode, Errors: []model.JobError{}}
		}
		out = append(out, ActiveStream{Job: j, Health: view})
	}
	return out, nil
}

// StreamHealth returns the live status of one of ownerID's jobs.
func (s *Service) StreamHealth(ctx context.Context, ownerID, jobID string) (model.JobView, error) {
	if err := requireOwner(ownerID); err != nil {
		return model.JobView{}, err
	}
	if _, err := s.ownedJob(ctx, ownerID, jobID); err != nil {
		return model.JobView{}, err
	}
	view, err := s.engine.Status(jobID)
	if err != nil {
		return model.JobView{}, fmt.Errorf("stream not active: %w", ErrNotFound)
	}
	return view, nil
}

// RecoverOrphans stamps job records a previous process left unstopped.
func (s *Service) RecoverOrphans(ctx context.Context) (int64, error) {
	n, err := s.store.StopOrphanedJobs(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger := log.WithComponent("service")
		logger.Warn().Int64("count", n).Msg("marked orphaned stream records stopped")
	}
	return n, nil
}

func (s *Service) ownedJob(ctx context.Context, ownerID, jobID string) (persistence.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return persistence.Job{}, fmt.Errorf("%w: job id required", ErrInvalidInput)
	}
	rec, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return persistence.Job{}, err
	}
	if rec.OwnerID != ownerID {
		return persistence.Job{}, ErrNotFound
	}
	return rec, nil
}

// checkUploads verifies that every stored name exists in the owner's upload directory.
func (s *Service) checkUploads(ownerID string, in model.StoredInput) error {
	resolve := model.UploadResolver(s.uploads, ownerID)
	for _, name := range in.Names() {
		p, err := resolve(name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			return &engine.ResolutionError{Path: name, Err: err}
		}
	}
	return nil
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrForbidden
	}
	return nil
}
