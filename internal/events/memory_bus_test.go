// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/metnitcs/stream-webui/internal/metrics"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func recv(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryBus_RoutesByOwner(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewMemoryBus()
	defer b.Close()

	alice, err := b.Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	bob, err := b.Subscribe(context.Background(), "bob")
	require.NoError(t, err)

	b.Publish(context.Background(), "alice", StatusEvent("job-1", model.StatusStreaming, "streaming", time.Now()))

	ev := recv(t, alice)
	assert.Equal(t, KindStatus, ev.Kind)
	assert.Equal(t, "job-1", ev.JobID)
	assert.Equal(t, model.StatusStreaming, ev.Status)

	select {
	case ev := <-bob.C():
		t.Fatalf("bob received %+v", ev)
	default:
	}
}

func TestMemoryBus_DropsWhenFull(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "u")
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer; i++ {
		b.Publish(context.Background(), "u", LogEvent("j", 0, "line"))
	}
	before := counterValue(t, metrics.EventsDroppedTotal.WithLabelValues("memory", "buffer_full"))

	done := make(chan struct{})
	go func() {
		b.Publish(context.Background(), "u", LogEvent("j", 0, "overflow"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	after := counterValue(t, metrics.EventsDroppedTotal.WithLabelValues("memory", "buffer_full"))
	assert.Equal(t, before+1, after)
	assert.Len(t, sub.C(), subscriberBuffer)
}

func TestMemoryBus_ContextCancelClosesSubscription(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("u"))

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers("u") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-sub.C()
	assert.False(t, ok)

	require.NoError(t, sub.Close())
	require.NoError(t, b.Close())
}

func TestMemoryBus_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "u")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.NoError(t, sub.Close())

	b.Publish(context.Background(), "u", LogEvent("j", 1, "ignored"))
	late, err := b.Subscribe(context.Background(), "u")
	require.NoError(t, err)
	_, ok := <-late.C()
	assert.False(t, ok)
}

func TestLogEvent_CarriesProcessIndex(t *testing.T) {
	ev := LogEvent("j", 2, "frame=1\r")
	require.NotNil(t, ev.ProcessIndex)
	assert.Equal(t, 2, *ev.ProcessIndex)
	assert.Equal(t, "frame=1\r", ev.Line)
}
