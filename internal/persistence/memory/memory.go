// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package memory is a process-local persistence.Store for tests and
// single-run deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/metnitcs/stream-webui/internal/persistence"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	schedules map[int64]persistence.Schedule
	jobs      map[string]persistence.Job
	channels  map[int64]persistence.Channel
}

// New creates an empty store.
func New() *Store {
	return &Store{
		schedules: make(map[int64]persistence.Schedule),
		jobs:      make(map[string]persistence.Job),
		channels:  make(map[int64]persistence.Channel),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateSchedule(_ context.Context, sc *persistence.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.ID = s.id()
	if sc.Status == "" {
		sc.Status = persistence.SchedulePending
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	s.schedules[sc.ID] = cloneSchedule(*sc)
	return nil
}

func (s *Store) GetSchedule(_ context.Context, id int64) (persistence.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	return cloneSchedule(sc), nil
}

func (s *Store) ListSchedules(_ context.Context, ownerID string) ([]persistence.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.Schedule
	for _, sc := range s.schedules {
		if sc.OwnerID == ownerID {
			out = append(out, cloneSchedule(sc))
		}
	}
	sortSchedules(out)
	return out, nil
}

func (s *Store) DeleteSchedule(_ context.Context, ownerID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok || sc.OwnerID != ownerID {
		return persistence.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *Store) DuePending(_ context.Context, now time.Time, limit int) ([]persistence.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.Schedule
	for _, sc := range s.schedules {
		if sc.Status == persistence.SchedulePending && !sc.StartAt.After(now) {
			out = append(out, cloneSchedule(sc))
		}
	}
	sortSchedules(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimSchedule(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok || sc.Status != persistence.SchedulePending {
		return false, nil
	}
	sc.Status = persistence.ScheduleRunning
	s.schedules[id] = sc
	return true, nil
}

func (s *Store) MarkSchedule(_ context.Context, id int64, status persistence.ScheduleStatus, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return persistence.ErrNotFound
	}
	sc.Status = status
	if jobID != "" {
		sc.JobID = jobID
	}
	s.schedules[id] = sc
	return nil
}

func (s *Store) SetScheduleJob(_ context.Context, id int64, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return persistence.ErrNotFound
	}
	sc.JobID = jobID
	s.schedules[id] = sc
	return nil
}

func (s *Store) CompleteRunningForOwner(_ context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sc := range s.schedules {
		if sc.OwnerID == ownerID && sc.Status == persistence.ScheduleRunning {
			sc.Status = persistence.ScheduleDone
			s.schedules[id] = sc
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateJob(_ context.Context, j *persistence.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now().UTC()
	}
	s.jobs[j.ID] = cloneJob(*j)
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (persistence.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return persistence.Job{}, persistence.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *Store) MarkJobStopped(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if j.StoppedAt == nil {
		at = at.UTC()
		j.StoppedAt = &at
		s.jobs[id] = j
	}
	return nil
}

func (s *Store) ActiveJobs(_ context.Context, ownerID string) ([]persistence.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.Job
	for _, j := range s.jobs {
		if j.StoppedAt == nil && (ownerID == "" || j.OwnerID == ownerID) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	return out, nil
}

func (s *Store) StopOrphanedJobs(_ context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at = at.UTC()
	var n int64
	for id, j := range s.jobs {
		if j.StoppedAt == nil {
			stopped := at
			j.StoppedAt = &stopped
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateChannel(_ context.Context, c *persistence.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.channels[c.ID] = *c
	return nil
}

func (s *Store) ListChannels(_ context.Context, ownerID string) ([]persistence.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.Channel
	for _, c := range s.channels {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) CountChannels(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.channels {
		if c.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteChannel(_ context.Context, ownerID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok || c.OwnerID != ownerID {
		return persistence.ErrNotFound
	}
	delete(s.channels, id)
	return nil
}

func (s *Store) Close() error { return nil }

func sortSchedules(out []persistence.Schedule) {
	sort.Slice(out, func(a, b int) bool {
		if out[a].StartAt.Equal(out[b].StartAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].StartAt.Before(out[b].StartAt)
	})
}

func cloneSchedule(s persistence.Schedule) persistence.Schedule {
	s.ChannelIDs = append([]int64(nil), s.ChannelIDs...)
	return s
}

func cloneJob(j persistence.Job) persistence.Job {
	j.ChannelIDs = append([]int64(nil), j.ChannelIDs...)
	if j.StoppedAt != nil {
		t := *j.StoppedAt
		j.StoppedAt = &t
	}
	return j
}

var _ persistence.Store = (*Store)(nil)
