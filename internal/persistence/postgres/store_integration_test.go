// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/persistence/storetest"
)

// Set STREAM_TEST_POSTGRES_DSN to a disposable database to run this suite.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("STREAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STREAM_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) persistence.Store {
		ctx := context.Background()
		s, err := New(ctx, Config{DSN: dsn, ApplicationName: "stream-webui-test"})
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE channels, schedules, jobs RESTART IDENTITY`)
		require.NoError(t, err)
		return s
	})
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
