// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite is the default persistence.Store backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/persistence"
	"github.com/metnitcs/stream-webui/internal/stream/model"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	rtmp_url TEXT NOT NULL,
	stream_key_enc TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_channels_owner ON channels(owner_id);

CREATE TABLE IF NOT EXISTS schedules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	input TEXT NOT NULL,
	channel_ids TEXT NOT NULL,
	mode TEXT NOT NULL,
	start_at_ms INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	job_id TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(status, start_at_ms);
CREATE INDEX IF NOT EXISTS idx_schedules_owner ON schedules(owner_id);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	input TEXT NOT NULL,
	channel_ids TEXT NOT NULL,
	schedule_id INTEGER NOT NULL DEFAULT 0,
	started_at_ms INTEGER NOT NULL,
	stopped_at_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_active ON jobs(owner_id, stopped_at_ms);
`

// Store implements persistence.Store on SQLite.
type Store struct {
	DB *sql.DB
}

// NewStore opens (creating if needed) the database at dbPath and applies
// the schema. An existing file is integrity checked first; problems are
// logged and do not prevent startup.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	logger := log.WithComponent("store")
	if _, err := os.Stat(dbPath); err == nil {
		issues, err := VerifyIntegrity(ctx, dbPath, "quick")
		switch {
		case err != nil:
			logger.Warn().Err(err).Str(log.FieldPath, dbPath).Msg("sqlite integrity check failed to run")
		case len(issues) > 0:
			logger.Error().Strs("issues", issues).Str(log.FieldPath, dbPath).Msg("sqlite integrity check reported problems")
		}
	}

	db, err := Open(dbPath, DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("stream store: migration failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, dbPath).Int("schema_version", schemaVersion).Msg("sqlite store ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const scheduleColumns = `id, owner_id, title, input, channel_ids, mode, start_at_ms, status, job_id, created_at_ms`

func scanSchedule(r rowScanner) (persistence.Schedule, error) {
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

func collectSchedules(rows *sql.Rows) ([]persistence.Schedule, error) {
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
	res, err := s.DB.ExecContext(ctx, `
	INSERT INTO schedules (owner_id, title, input, channel_ids, mode, start_at_ms, status, job_id, created_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.OwnerID, sc.Title, input, ids, string(sc.Mode), persistence.Millis(sc.StartAt), string(sc.Status), sc.JobID, persistence.Millis(sc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	sc.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (persistence.Schedule, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, persistence.ErrNotFound
	}
	return sc, err
}

func (s *Store) ListSchedules(ctx context.Context, ownerID string) ([]persistence.Schedule, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE owner_id = ? ORDER BY start_at_ms, id`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) DeleteSchedule(ctx context.Context, ownerID string, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]persistence.Schedule, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+scheduleColumns+` FROM schedules
	WHERE status = 'pending' AND start_at_ms <= ?
	ORDER BY start_at_ms, id
	LIMIT ?`, persistence.Millis(now), limit)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) ClaimSchedule(ctx context.Context, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE schedules SET status = 'running' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) MarkSchedule(ctx context.Context, id int64, status persistence.ScheduleStatus, jobID string) error {
	var (
		res sql.Result
		err error
	)
	if jobID == "" {
		res, err = s.DB.ExecContext(ctx, `UPDATE schedules SET status = ? WHERE id = ?`, string(status), id)
	} else {
		res, err = s.DB.ExecContext(ctx, `UPDATE schedules SET status = ?, job_id = ? WHERE id = ?`, string(status), jobID, id)
	}
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) SetScheduleJob(ctx context.Context, id int64, jobID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE schedules SET job_id = ? WHERE id = ?`, jobID, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) CompleteRunningForOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE schedules SET status = 'done' WHERE owner_id = ? AND status = 'running'`, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const jobColumns = `id, owner_id, mode, input, channel_ids, schedule_id, started_at_ms, stopped_at_ms`

func scanJob(r rowScanner) (persistence.Job, error) {
	var (
		j                persistence.Job
		mode, input, ids string
		startedMs        int64
		stoppedMs        sql.NullInt64
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
	if stoppedMs.Valid {
		t := persistence.FromMillis(stoppedMs.Int64)
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
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO jobs (id, owner_id, mode, input, channel_ids, schedule_id, started_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OwnerID, string(j.Mode), input, ids, j.ScheduleID, persistence.Millis(j.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (persistence.Job, error) {
	j, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return j, persistence.ErrNotFound
	}
	return j, err
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *Store) MarkJobStopped(ctx context.Context, id string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE jobs SET stopped_at_ms = COALESCE(stopped_at_ms, ?) WHERE id = ?`, persistence.Millis(at), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) ActiveJobs(ctx context.Context, ownerID string) ([]persistence.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+jobColumns+` FROM jobs
	WHERE stopped_at_ms IS NULL AND (? = '' OR owner_id = ?)
	ORDER BY started_at_ms DESC, id`, ownerID, ownerID)
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
	res, err := s.DB.ExecContext(ctx, `UPDATE jobs SET stopped_at_ms = ? WHERE stopped_at_ms IS NULL`, persistence.Millis(at))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CreateChannel(ctx context.Context, c *persistence.Channel) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
	INSERT INTO channels (owner_id, name, platform, rtmp_url, stream_key_enc, created_at_ms)
	VALUES (?, ?, ?, ?, ?, ?)`,
		c.OwnerID, c.Name, c.Platform, c.RTMPURL, c.StreamKeyEncrypted, persistence.Millis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListChannels(ctx context.Context, ownerID string) ([]persistence.Channel, error) {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT id, owner_id, name, platform, rtmp_url, stream_key_enc, created_at_ms
	FROM channels WHERE owner_id = ? ORDER BY id`, ownerID)
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
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}

func (s *Store) DeleteChannel(ctx context.Context, ownerID string, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM channels WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

var _ persistence.Store = (*Store)(nil)
