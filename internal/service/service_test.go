// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/credentials"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/persistence/memory"
	"github.com/metnitcs/stream-webui/internal/stream/engine"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

type fakeEngine struct {
	mu       sync.Mutex
	started  []engine.JobSpec
	stopped  []string
	active   map[string]model.JobView
	failNext error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{active: map[string]model.JobView{}}
}

func (f *fakeEngine) Start(_ context.Context, spec engine.JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	f.started = append(f.started, spec)
	f.active[spec.ID] = model.JobView{JobID: spec.ID, OwnerID: spec.OwnerID, Status: model.StatusStarting, Mode: spec.Mode, DestinationCount: len(spec.Destinations)}
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	_, ok := f.active[id]
	delete(f.active, id)
	return ok
}

func (f *fakeEngine) Status(id string) (model.JobView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.active[id]
	if !ok {
		return model.JobView{}, engine.ErrNotFound
	}
	return v, nil
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	eng     *fakeEngine
	uploads string
	now     time.Time
}

var secret = []byte("0123456789abcdef0123456789abcdef")

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := credentials.NewCipher(secret)
	require.NoError(t, err)

	f := &fixture{
		store:   memory.New(),
		eng:     newFakeEngine(),
		uploads: t.TempDir(),
		now:     time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	ids := 0
	f.svc = New(Deps{
		Store:          f.store,
		Engine:         f.eng,
		Destinations:   credentials.NewResolver(f.store, c),
		Sealer:         c,
		UploadsDir:     f.uploads,
		DefaultRTMPURL: "rtmp://a.rtmp.youtube.com/live2",
		Now:            func() time.Time { return f.now },
		NewID: func() string {
			ids++
			return fmt.Sprintf("job-%d", ids)
		},
	})
	return f
}

func (f *fixture) upload(t *testing.T, owner string, names ...string) {
	t.Helper()
	dir := filepath.Join(f.uploads, "user_"+owner)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func (f *fixture) channel(t *testing.T, owner, key string) int64 {
	t.Helper()
	c, err := f.svc.CreateChannel(context.Background(), owner, ChannelRequest{Name: key, StreamKey: key})
	require.NoError(t, err)
	return c.ID
}

func TestStartStream_PersistsAndStarts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.channel(t, "u1", "key-a")
	b := f.channel(t, "u1", "key-b")

	id, err := f.svc.StartStream(ctx, "u1", StartRequest{
		Input:      model.StoredInput{Files: []string{"a.mp4", "b.mp4"}},
		ChannelIDs: []int64{a, b},
		Mode:       model.ModeTee,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.Len(t, f.eng.started, 1)
	spec := f.eng.started[0]
	assert.Equal(t, model.ModeTee, spec.Mode)
	assert.Equal(t, model.InputPlaylist, spec.Input.Kind)
	assert.Equal(t, filepath.Join(f.uploads, "user_u1", "a.mp4"), spec.Input.Paths[0])
	assert.Equal(t, []string{
		"rtmp://a.rtmp.youtube.com/live2/key-a",
		"rtmp://a.rtmp.youtube.com/live2/key-b",
	}, spec.Destinations)

	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.OwnerID)
	assert.Nil(t, rec.StoppedAt)
}

func TestStartStream_EngineFailureRemovesRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.channel(t, "u1", "key-a")
	f.eng.failNext = &engine.ResolutionError{Path: "/missing.mp4", Err: os.ErrNotExist}

	_, err := f.svc.StartStream(ctx, "u1", StartRequest{Input: model.StoredInput{File: "missing.mp4"}, ChannelIDs: []int64{a}})
	var rerr *engine.ResolutionError
	require.ErrorAs(t, err, &rerr)

	jobs, err := f.store.ActiveJobs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStartStream_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	foreign := f.channel(t, "u2", "key-x")
	own := f.channel(t, "u1", "key-a")

	_, err := f.svc.StartStream(ctx, "", StartRequest{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.StartStream(ctx, "u1", StartRequest{ChannelIDs: []int64{own}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.StartStream(ctx, "u1", StartRequest{Input: model.StoredInput{File: "../etc/passwd"}, ChannelIDs: []int64{own}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.StartStream(ctx, "u1", StartRequest{Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{foreign}})
	assert.ErrorIs(t, err, ErrNoChannels)

	assert.Empty(t, f.eng.started)
}

func TestStopStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.channel(t, "u1", "key-a")

	sc := &persistence.Schedule{OwnerID: "u1", Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{a}, StartAt: f.now, Status: persistence.ScheduleRunning}
	require.NoError(t, f.store.CreateSchedule(ctx, sc))

	id, err := f.svc.StartStream(ctx, "u1", StartRequest{Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{a}})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.StopStream(ctx, "u2", id), ErrNotFound)
	assert.ErrorIs(t, f.svc.StopStream(ctx, "u1", "nope"), ErrNotFound)

	require.NoError(t, f.svc.StopStream(ctx, "u1", id))
	assert.Equal(t, []string{id}, f.eng.stopped)

	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.StoppedAt)
	assert.True(t, rec.StoppedAt.Equal(f.now))

	got, err := f.store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ScheduleDone, got.Status)
}

func TestActiveStreamsAndHealth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.channel(t, "u1", "key-a")

	live, err := f.svc.StartStream(ctx, "u1", StartRequest{Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{a}})
	require.NoError(t, err)
	ghost := &persistence.Job{ID: "ghost", OwnerID: "u1", Mode: model.ModePerChannel, Input: model.StoredInput{File: "b.mp4"}, StartedAt: f.now.Add(-time.Hour)}
	require.NoError(t, f.store.CreateJob(ctx, ghost))

	list, err := f.svc.ActiveStreams(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	byID := map[string]model.JobStatus{}
	for _, s := range list {
		byID[s.ID] = s.Health.Status
	}
	assert.Equal(t, model.StatusStarting, byID[live])
	assert.Equal(t, model.StatusUnknown, byID["ghost"])

	view, err := f.svc.StreamHealth(ctx, "u1", live)
	require.NoError(t, err)
	assert.Equal(t, 1, view.DestinationCount)

	_, err = f.svc.StreamHealth(ctx, "u1", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.StreamHealth(ctx, "u2", live)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartScheduledAndJobEnded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.channel(t, "u1", "key-a")
	sc := &persistence.Schedule{OwnerID: "u1", Input: model.StoredInput{Files: []string{"a.mp4"}}, ChannelIDs: []int64{a}, Mode: model.ModeTee, StartAt: f.now}
	require.NoError(t, f.store.CreateSchedule(ctx, sc))
	claimed, err := f.store.ClaimSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	id, err := f.svc.StartScheduled(ctx, *sc)
	require.NoError(t, err)
	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, rec.ScheduleID)
	assert.Equal(t, model.ModeTee, rec.Mode)

	f.svc.JobEnded(id, "u1")
	rec, err = f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, rec.StoppedAt)
	got, err := f.store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ScheduleDone, got.Status)
}

func TestRecoverOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateJob(ctx, &persistence.Job{ID: "old", OwnerID: "u1", StartedAt: f.now.Add(-time.Hour)}))

	n, err := f.svc.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	jobs, err := f.store.ActiveJobs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.svc.CreateChannel(ctx, "u1", ChannelRequest{Name: "main", StreamKey: "abcd"})
	require.NoError(t, err)
	assert.Equal(t, "rtmp://a.rtmp.youtube.com/live2", c.RTMPURL)
	assert.Equal(t, "youtube", c.Platform)
	assert.NotContains(t, c.StreamKeyEncrypted, "abcd")

	_, err = f.svc.CreateChannel(ctx, "u1", ChannelRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	for i := 1; i < MaxChannelsPerOwner; i++ {
		_, err := f.svc.CreateChannel(ctx, "u1", ChannelRequest{Name: "c", StreamKey: "k"})
		require.NoError(t, err)
	}
	_, err = f.svc.CreateChannel(ctx, "u1", ChannelRequest{Name: "c", StreamKey: "k"})
	assert.ErrorIs(t, err, ErrChannelLimit)

	assert.ErrorIs(t, f.svc.DeleteChannel(ctx, "u2", c.ID), ErrNotFound)
	require.NoError(t, f.svc.DeleteChannel(ctx, "u1", c.ID))
}

func TestSchedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.upload(t, "u1", "a.mp4")
	a := f.channel(t, "u1", "key-a")

	_, err := f.svc.CreateSchedule(ctx, "u1", ScheduleRequest{Input: model.StoredInput{File: "missing.mp4"}, ChannelIDs: []int64{a}, StartAt: f.now})
	var rerr *engine.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "missing.mp4", rerr.Path)

	_, err = f.svc.CreateSchedule(ctx, "u1", ScheduleRequest{Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{a}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	sc, err := f.svc.CreateSchedule(ctx, "u1", ScheduleRequest{Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{a}, Mode: "tee", StartAt: f.now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, persistence.SchedulePending, sc.Status)
	assert.Equal(t, model.ModeTee, sc.Mode)

	list, err := f.svc.ListSchedules(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, f.svc.DeleteSchedule(ctx, "u2", sc.ID), ErrNotFound)

	require.NoError(t, f.store.MarkSchedule(ctx, sc.ID, persistence.ScheduleRunning, ""))
	assert.ErrorIs(t, f.svc.DeleteSchedule(ctx, "u1", sc.ID), ErrScheduleRunning)

	require.NoError(t, f.store.MarkSchedule(ctx, sc.ID, persistence.ScheduleFailed, ""))
	require.NoError(t, f.svc.DeleteSchedule(ctx, "u1", sc.ID))
	_, err = f.store.GetSchedule(ctx, sc.ID)
	assert.True(t, errors.Is(err, persistence.ErrNotFound))
}
