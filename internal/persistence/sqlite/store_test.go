// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/persistence/storetest"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

func TestSqliteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.Store {
		s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "stream.db"))
		require.NoError(t, err)
		return s
	})
}

func TestSqliteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stream.db")

	s, err := NewStore(ctx, path)
	require.NoError(t, err)
	sc := &persistence.Schedule{OwnerID: "u", Input: model.StoredInput{File: "a.mp4"}, ChannelIDs: []int64{1}, Mode: model.ModePerChannel, StartAt: time.Now()}
	require.NoError(t, s.CreateSchedule(ctx, sc))
	require.NoError(t, s.Close())

	s, err = NewStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.DB.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", got.Input.File)
}

func TestDecodeLegacyInput(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "stream.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB.Exec(`INSERT INTO schedules (owner_id, input, channel_ids, mode, start_at_ms, created_at_ms)
		VALUES ('u', 'clip.mp4', '[7]', 'per_channel', 0, 0)`)
	require.NoError(t, err)

	list, err := s.ListSchedules(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "clip.mp4", list[0].Input.File)
	assert.Equal(t, persistence.SchedulePending, list[0].Status)
}

func TestVerifyIntegrity(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "corruptible.sqlite")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, data TEXT);")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err = db.Exec("INSERT INTO test (data) VALUES (printf('%.100c', 'A'));")
		require.NoError(t, err)
	}
	_, err = db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	issues, err := VerifyIntegrity(ctx, dbPath, "quick")
	require.NoError(t, err)
	assert.Nil(t, issues)

	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	garbage := make([]byte, 100)
	_, _ = rand.Read(garbage)
	_, err = f.WriteAt(garbage, 4096)
	require.NoError(t, f.Close())
	require.NoError(t, err)

	issues, err = VerifyIntegrity(ctx, dbPath, "full")
	if err == nil {
		assert.NotEmpty(t, issues)
	}
}
