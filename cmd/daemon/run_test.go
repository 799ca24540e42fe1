// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/config"
	"github.com/metnitcs/stream-webui/internal/events"
	"github.com/metnitcs/stream-webui/internal/persistence/memory"
	"github.com/metnitcs/stream-webui/internal/persistence/sqlite"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()

	cfg.Storage.Backend = config.StorageMemory
	s, err := openStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
	assert.Nil(t, readiness(s))

	cfg.Storage.Backend = config.StorageSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "stream.db")
	s, err = openStore(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &sqlite.Store{}, s)
	ready := readiness(s)
	require.NotNil(t, ready)
	assert.NoError(t, ready(ctx))
}

func TestOpenBus(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()

	b, err := openBus(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &events.MemoryBus{}, b)
	require.NoError(t, b.Close())

	mr := miniredis.RunT(t)
	cfg.Events = config.EventsConfig{Backend: config.EventsRedis, RedisAddr: mr.Addr()}
	b, err = openBus(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &events.RedisBus{}, b)
	require.NoError(t, b.Close())
}
