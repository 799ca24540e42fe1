// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package postgres is the persistence.Store backend for shared deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id BIGSERIAL PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	rtmp_url TEXT NOT NULL,
	stream_key_enc TEXT NOT NULL,
	created_at_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_channels_owner ON channels(owner_id);

CREATE TABLE IF NOT EXISTS schedules (
	id BIGSERIAL PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	input TEXT NOT NULL,
	channel_ids TEXT NOT NULL,
	mode TEXT NOT NULL,
	start_at_ms BIGINT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	job_id TEXT NOT NULL DEFAULT '',
	created_at_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(status, start_at_ms);
CREATE INDEX IF NOT EXISTS idx_schedules_owner ON schedules(owner_id);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	input TEXT NOT NULL,
	channel_ids TEXT NOT NULL,
	schedule_id BIGINT NOT NULL DEFAULT 0,
	started_at_ms BIGINT NOT NULL,
	stopped_at_ms BIGINT
);
CREATE INDEX IF NOT EXISTS idx_jobs_active ON jobs(owner_id, stopped_at_ms);
`

// Config tunes the connection pool.
type Config struct {
	DSN             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	ApplicationName string
}

// Store implements persistence.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	logger := log.WithComponent("store")
	logger.Info().Str("backend", "postgres").Msg("postgres store ready")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const scheduleColumns = `id, owner_id, title, input, channel_ids, mode, start_at_ms, status, job_id, created_at_ms`

func scanSchedule(r pgx.Row) (persistence.Schedule, error) {
	var (
		sc                   persistence.Schedule
		input, ids, mode     string
		status               string
		startAtMs, createdMs int64
	)
	if err := r.Scan(&sc.ID, &sc.OwnerID, &sc.Title, &input, &ids, &mode, &startAtMs, &status, &sc.JobID, &createdMs); err != nil {
		return sc, err
	}
	var err error
	if sc.Input, err = persistence.DecodeInput(input); err != nil {
		return sc, err
	}
	if sc.ChannelIDs, err = persistence.DecodeIDs(ids); err != nil {
		return sc, err
	}
	sc.Mode = model.ParseFanoutMode(mode)
	sc.Status = persistence.ScheduleStatus(status)
	sc.StartAt = persistence.FromMillis(startAtMs)
	sc.CreatedAt = persistence.FromMillis(createdMs)
	return sc, nil
}

func collectSchedules(rows pgx.Rows) ([]persistence.Schedule, error) {
	defer rows.Close()
	var out []persistence.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) CreateSchedule(ctx context.Context, sc *persistence.Schedule) error {
	input, err := persistence.EncodeInput(sc.Input)
	if err != nil {
		return err
	}
	ids, err := persistence.EncodeIDs(sc.ChannelIDs)
	if err != nil {
		return err
	}
	if sc.Status == "" {
		sc.Status = persistence.SchedulePending
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	err = s.pool.QueryRow(ctx, `
	INSERT INTO schedules (owner_id, title, input, channel_ids, mode, start_at_ms, status, job_id, created_at_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		sc.OwnerID, sc.Title, input, ids, string(sc.Mode), persistence.Millis(sc.StartAt), string(sc.Status), sc.JobID, persistence.Millis(sc.CreatedAt),
	).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (persistence.Schedule, error) {
	sc, err := scanSchedule(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return sc, persistence.ErrNotFound
	}
	return sc, err
}

func (s *Store) ListSchedules(ctx context.Context, ownerID string) ([]persistence.Schedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE owner_id = $1 ORDER BY start_at_ms, id`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) DeleteSchedule(ctx context.Context, ownerID string, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return expectOne(tag, err)
}

func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]persistence.Schedule, error) {
	query := `
	SELECT ` + scheduleColumns + ` FROM schedules
	WHERE status = 'pending' AND start_at_ms <= $1
	ORDER BY start_at_ms, id`
	args := []any{persistence.Millis(now)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) ClaimSchedule(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE schedules SET status = 'running' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkSchedule(ctx context.Context, id int64, status persistence.ScheduleStatus, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
	UPDATE schedules SET status = $1, job_id = CASE WHEN $2 = '' THEN job_id ELSE $2 END
	WHERE id = $3`, string(status), jobID, id)
	return expectOne(tag, err)
}

func (s *Store) SetScheduleJob(ctx context.Context, id int64, jobID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE schedules SET job_id = $1 WHERE id = $2`, jobID, id)
	return expectOne(tag, err)
}

func (s *Store) CompleteRunningForOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE schedules SET status = 'done' WHERE owner_id = $1 AND status = 'running'`, ownerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const jobColumns = `id, owner_id, mode, input, channel_ids, schedule_id, started_at_ms, stopped_at_ms`

func scanJob(r pgx.Row) (persistence.Job, error) {
	var (
		j                persistence.Job
		mode, input, ids string
		startedMs        int64
		stoppedMs        *int64
	)
	if err := r.Scan(&j.ID, &j.OwnerID, &mode, &input, &ids, &j.ScheduleID, &startedMs, &stoppedMs); err != nil {
		return j, err
	}
	var err error
	if j.Input, err = persistence.DecodeInput(input); err != nil {
		return j, err
	}
	if j.ChannelIDs, err = persistence.DecodeIDs(ids); err != nil {
		return j, err
	}
	j.Mode = model.ParseFanoutMode(mode)
	j.StartedAt = persistence.FromMillis(startedMs)
	if stoppedMs != nil {
		t := persistence.FromMillis(*stoppedMs)
		j.StoppedAt = &t
	}
	return j, nil
}

func (s *Store) CreateJob(ctx context.Context, j *persistence.Job) error {
	input, err := persistence.EncodeInput(j.Input)
	if err != nil {
		return err
	}
	ids, err := persistence.EncodeIDs(j.ChannelIDs)
	if err != nil {
		return err
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
	INSERT INTO jobs (id, owner_id, mode, input, channel_ids, schedule_id, started_at_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.OwnerID, string(j.Mode), input, ids, j.ScheduleID, persistence.Millis(j.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (persistence.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return j, persistence.ErrNotFound
	}
	return j, err
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

func (s *Store) MarkJobStopped(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET stopped_at_ms = COALESCE(stopped_at_ms, $1) WHERE id = $2`, persistence.Millis(at), id)
	return expectOne(tag, err)
}

func (s *Store) ActiveJobs(ctx context.Context, ownerID string) ([]persistence.Job, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT `+jobColumns+` FROM jobs
	WHERE stopped_at_ms IS NULL AND ($1 = '' OR owner_id = $1)
	ORDER BY started_at_ms DESC, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []persistence.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) StopOrphanedJobs(ctx context.Context, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET stopped_at_ms = $1 WHERE stopped_at_ms IS NULL`, persistence.Millis(at))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CreateChannel(ctx context.Context, c *persistence.Channel) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
	INSERT INTO channels (owner_id, name, platform, rtmp_url, stream_key_enc, created_at_ms)
	VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.OwnerID, c.Name, c.Platform, c.RTMPURL, c.StreamKeyEncrypted, persistence.Millis(c.CreatedAt),
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *Store) ListChannels(ctx context.Context, ownerID string) ([]persistence.Channel, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT id, owner_id, name, platform, rtmp_url, stream_key_enc, created_at_ms
	FROM channels WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []persistence.Channel
	for rows.Next() {
		var c persistence.Channel
		var createdMs int64
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Platform, &c.RTMPURL, &c.StreamKeyEncrypted, &createdMs); err != nil {
			return nil, err
		}
		c.CreatedAt = persistence.FromMillis(createdMs)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountChannels(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, err
}

func (s *Store) DeleteChannel(ctx context.Context, ownerID string, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return expectOne(tag, err)
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

var _ persistence.Store = (*Store)(nil)
