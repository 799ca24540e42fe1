// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storetest is the behavioural suite shared by every
// persistence.Store backend.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) persistence.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s persistence.Store)
	}{
		{"ScheduleRoundTrip", testScheduleRoundTrip},
		{"DuePendingOrderAndLimit", testDuePending},
		{"ClaimIsExclusive", testClaimExclusive},
		{"MarkAndComplete", testMarkAndComplete},
		{"DeleteScheduleOwnership", testDeleteSchedule},
		{"JobLifecycle", testJobLifecycle},
		{"StopOrphanedJobs", testStopOrphaned},
		{"Channels", testChannels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func schedule(owner string, startAt time.Time) *persistence.Schedule {
	return &persistence.Schedule{
		OwnerID:    owner,
		Title:      "show",
		Input:      model.StoredInput{Files: []string{"a.mp4", "b.mp4"}},
		ChannelIDs: []int64{1, 2},
		Mode:       model.ModeTee,
		StartAt:    startAt,
	}
}

func testScheduleRoundTrip(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	sc := schedule("u1", base)
	require.NoError(t, s.CreateSchedule(ctx, sc))
	require.NotZero(t, sc.ID)
	assert.Equal(t, persistence.SchedulePending, sc.Status)

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, "show", got.Title)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, got.Input.Files)
	assert.Equal(t, []int64{1, 2}, got.ChannelIDs)
	assert.Equal(t, model.ModeTee, got.Mode)
	assert.True(t, base.Equal(got.StartAt), "start_at %s", got.StartAt)
	assert.Equal(t, persistence.SchedulePending, got.Status)

	_, err = s.GetSchedule(ctx, sc.ID+1000)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	mt := schedule("u1", base.Add(time.Hour))
	mt.Input = model.StoredInput{VideoFiles: []string{"v.mp4"}, AudioFiles: []string{"a1.mp3", "a2.mp3"}}
	require.NoError(t, s.CreateSchedule(ctx, mt))
	list, err := s.ListSchedules(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, sc.ID, list[0].ID)
	assert.Equal(t, []string{"a1.mp3", "a2.mp3"}, list[1].Input.AudioFiles)

	other, err := s.ListSchedules(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testDuePending(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	var ids []int64
	// Created newest first to prove ordering is by start time.
	for i := 6; i >= 0; i-- {
		sc := schedule("u", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateSchedule(ctx, sc))
		ids = append([]int64{sc.ID}, ids...)
	}
	future := schedule("u", base.Add(24*time.Hour))
	require.NoError(t, s.CreateSchedule(ctx, future))

	due, err := s.DuePending(ctx, base.Add(10*time.Minute), 5)
	require.NoError(t, err)
	require.Len(t, due, 5)
	for i, sc := range due {
		assert.Equal(t, ids[i], sc.ID)
	}

	ok, err := s.ClaimSchedule(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	due, err = s.DuePending(ctx, base.Add(10*time.Minute), 5)
	require.NoError(t, err)
	assert.Equal(t, ids[1], due[0].ID)

	due, err = s.DuePending(ctx, base.Add(-time.Minute), 5)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func testClaimExclusive(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	sc := schedule("u", base)
	require.NoError(t, s.CreateSchedule(ctx, sc))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimSchedule(ctx, sc.ID)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ScheduleRunning, got.Status)

	ok, err := s.ClaimSchedule(ctx, sc.ID+1000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testMarkAndComplete(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	a, b, c := schedule("u", base), schedule("u", base), schedule("other", base)
	for _, sc := range []*persistence.Schedule{a, b, c} {
		require.NoError(t, s.CreateSchedule(ctx, sc))
		ok, err := s.ClaimSchedule(ctx, sc.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.MarkSchedule(ctx, a.ID, persistence.ScheduleRunning, "job-a"))
	require.NoError(t, s.MarkSchedule(ctx, b.ID, persistence.ScheduleFailed, ""))
	assert.ErrorIs(t, s.MarkSchedule(ctx, a.ID+1000, persistence.ScheduleDone, ""), persistence.ErrNotFound)

	n, err := s.CompleteRunningForOwner(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetSchedule(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ScheduleDone, got.Status)
	assert.Equal(t, "job-a", got.JobID)

	got, err = s.GetSchedule(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ScheduleFailed, got.Status)

	got, err = s.GetSchedule(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ScheduleRunning, got.Status)

	// Recording the job keeps a completed schedule completed.
	require.NoError(t, s.SetScheduleJob(ctx, a.ID, "job-a2"))
	got, err = s.GetSchedule(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.ScheduleDone, got.Status)
	assert.Equal(t, "job-a2", got.JobID)
	assert.ErrorIs(t, s.SetScheduleJob(ctx, a.ID+1000, "x"), persistence.ErrNotFound)
}

func testDeleteSchedule(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	sc := schedule("u", base)
	require.NoError(t, s.CreateSchedule(ctx, sc))

	assert.ErrorIs(t, s.DeleteSchedule(ctx, "intruder", sc.ID), persistence.ErrNotFound)
	require.NoError(t, s.DeleteSchedule(ctx, "u", sc.ID))
	_, err := s.GetSchedule(ctx, sc.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func testJobLifecycle(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	j1 := &persistence.Job{ID: "job-1", OwnerID: "u", Mode: model.ModePerChannel, Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{3}, StartedAt: base}
	j2 := &persistence.Job{ID: "job-2", OwnerID: "u", Mode: model.ModeTee, Input: model.StoredInput{Files: []string{"a.mp4"}}, ChannelIDs: []int64{3, 4}, ScheduleID: 9, StartedAt: base.Add(time.Minute)}
	j3 := &persistence.Job{ID: "job-3", OwnerID: "v", Mode: model.ModeTee, Input: model.StoredInput{File: "x.mp4"}, ChannelIDs: []int64{5}, StartedAt: base}
	for _, j := range []*persistence.Job{j1, j2, j3} {
		require.NoError(t, s.CreateJob(ctx, j))
	}

	got, err := s.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ScheduleID)
	assert.Equal(t, []int64{3, 4}, got.ChannelIDs)
	assert.Nil(t, got.StoppedAt)

	active, err := s.ActiveJobs(ctx, "u")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "job-2", active[0].ID)

	require.NoError(t, s.MarkJobStopped(ctx, "job-2", base.Add(time.Hour)))
	got, err = s.GetJob(ctx, "job-2")
	require.NoError(t, err)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, base.Add(time.Hour).Equal(*got.StoppedAt))
	assert.ErrorIs(t, s.MarkJobStopped(ctx, "nope", base), persistence.ErrNotFound)

	active, err = s.ActiveJobs(ctx, "u")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "job-1", active[0].ID)

	all, err := s.ActiveJobs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteJob(ctx, "job-1"))
	_, err = s.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func testStopOrphaned(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.CreateJob(ctx, &persistence.Job{ID: id, OwnerID: "u", Mode: model.ModeTee, Input: model.StoredInput{File: "f"}, ChannelIDs: []int64{1}, StartedAt: base}))
	}
	require.NoError(t, s.MarkJobStopped(ctx, "a", base.Add(time.Minute)))

	n, err := s.StopOrphanedJobs(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := s.ActiveJobs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, active)

	a, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.True(t, base.Add(time.Minute).Equal(*a.StoppedAt), "earlier stop time is kept")
}

func testChannels(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	c1 := &persistence.Channel{OwnerID: "u", Name: "yt", Platform: "youtube", RTMPURL: "rtmp://a.rtmp.youtube.com/live2", StreamKeyEncrypted: "00:11"}
	c2 := &persistence.Channel{OwnerID: "u", Name: "tw", Platform: "twitch", RTMPURL: "rtmp://live.twitch.tv/app", StreamKeyEncrypted: "22:33"}
	c3 := &persistence.Channel{OwnerID: "v", Name: "fb", Platform: "facebook", RTMPURL: "rtmps://live-api-s.facebook.com:443/rtmp", StreamKeyEncrypted: "44:55"}
	for _, c := range []*persistence.Channel{c1, c2, c3} {
		require.NoError(t, s.CreateChannel(ctx, c))
		require.NotZero(t, c.ID)
	}

	list, err := s.ListChannels(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c1.ID, list[0].ID)
	assert.Equal(t, "00:11", list[0].StreamKeyEncrypted)
	assert.Equal(t, "rtmp://live.twitch.tv/app", list[1].RTMPURL)

	n, err := s.CountChannels(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, s.DeleteChannel(ctx, "u", c3.ID), persistence.ErrNotFound)
	require.NoError(t, s.DeleteChannel(ctx, "u", c1.ID))
	n, err = s.CountChannels(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
