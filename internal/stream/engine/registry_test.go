// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ReserveCommitRemove(t *testing.T) {
	r := newRegistry()

	require.NoError(t, r.reserve("a"))
	assert.ErrorIs(t, r.reserve("a"), ErrAlreadyExists)
	assert.Nil(t, r.get("a"), "pending ids are not visible")

	j := &job{id: "a", startedAt: time.Now()}
	r.commit(j)
	assert.Same(t, j, r.get("a"))
	assert.ErrorIs(t, r.reserve("a"), ErrAlreadyExists)
	assert.Equal(t, 1, r.Len())

	other := &job{id: "a"}
	assert.False(t, r.removeIf("a", other))
	assert.True(t, r.removeIf("a", j))
	assert.Nil(t, r.remove("a"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemovedIDsAreNotReused(t *testing.T) {
	r := newRegistry()
	for _, id := range []string{"stopped", "ended"} {
		require.NoError(t, r.reserve(id))
		r.commit(&job{id: id})
	}
	require.NotNil(t, r.remove("stopped"))
	j := r.get("ended")
	require.True(t, r.removeIf("ended", j))

	assert.ErrorIs(t, r.reserve("stopped"), ErrAlreadyExists)
	assert.ErrorIs(t, r.reserve("ended"), ErrAlreadyExists)
	assert.Nil(t, r.remove("never"))
	assert.NoError(t, r.reserve("never"), "removing an unknown id retires nothing")
}

func TestRegistry_CancelFreesID(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.reserve("a"))
	r.cancel("a")
	assert.NoError(t, r.reserve("a"))
}

func TestRegistry_ConcurrentReserve(t *testing.T) {
	r := newRegistry()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.reserve("same") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRegistry_ListOrdersByStart(t *testing.T) {
	r := newRegistry()
	now := time.Now()
	r.commit(&job{id: "late", startedAt: now.Add(time.Second)})
	r.commit(&job{id: "early", startedAt: now})

	jobs := r.list()
	require.Len(t, jobs, 2)
	assert.Equal(t, "early", jobs[0].id)
	assert.Equal(t, "late", jobs[1].id)
}
