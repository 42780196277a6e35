// Package execlog is the append-only record of every scheduled job run,
// the crypto-core analog of the teacher's per-trade audit trail in
// internal/storage — here the unit of record is a job execution
// instead of a closed position.
package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

// Status is the terminal or in-flight state of one job execution.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped" // e.g. coalesced away by max_instances
)

// Entry is one row of the job execution log.
type Entry struct {
	ID         string
	JobID      string
	Handler    string
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	Records    int
	ErrorMsg   string
	Metadata   map[string]any
}

// Duration is FinishedAt - StartedAt, zero while Status is StatusRunning.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store persists execution log entries in sqlite.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the execution-log database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "execlog: create db dir", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "execlog: open db", err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "execlog: ping db", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_execution_log (
			id          TEXT PRIMARY KEY,
			job_id      TEXT NOT NULL,
			handler     TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			records     INTEGER NOT NULL DEFAULT 0,
			error_msg   TEXT NOT NULL DEFAULT '',
			metadata    TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_job_execution_log_job_id ON job_execution_log(job_id, started_at);
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "execlog: migrate", err)
	}
	return nil
}

// Start inserts a new running entry and returns its ID.
func (s *Store) Start(ctx context.Context, jobID, handler string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_execution_log (id, job_id, handler, status, started_at, metadata)
		VALUES (?, ?, ?, ?, ?, '{}')`,
		id, jobID, handler, StatusRunning, time.Now().UTC().Unix())
	if err != nil {
		return "", apperrors.Wrap(apperrors.Internal, "execlog: start entry", err)
	}
	return id, nil
}

// Finish marks an entry terminal with its outcome.
func (s *Store) Finish(ctx context.Context, id string, status Status, records int, errMsg string, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE job_execution_log
		SET status = ?, finished_at = ?, records = ?, error_msg = ?, metadata = ?
		WHERE id = ?`,
		status, time.Now().UTC().Unix(), records, errMsg, string(metaJSON), id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "execlog: finish entry", err)
	}
	return nil
}

// RecentForJob returns up to limit most-recent entries for one job, newest first.
func (s *Store) RecentForJob(ctx context.Context, jobID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, handler, status, started_at, finished_at, records, error_msg, metadata
		FROM job_execution_log WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "execlog: query recent", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Stats aggregates run counts and average duration for a job over its
// logged history — a single-pass aggregation in the style of the
// teacher's internal/analytics.Analyze, scoped to job runs instead of trades.
type Stats struct {
	TotalRuns     int
	SuccessCount  int
	FailureCount  int
	AvgDuration   time.Duration
	LastRunAt     time.Time
	LastStatus    Status
}

// Stats computes aggregate run statistics for one job from its logged history.
func (s *Store) Stats(ctx context.Context, jobID string) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, handler, status, started_at, finished_at, records, error_msg, metadata
		FROM job_execution_log WHERE job_id = ? ORDER BY started_at ASC`, jobID)
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.Internal, "execlog: query stats", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	var totalDuration time.Duration
	for _, e := range entries {
		if e.Status == StatusRunning {
			continue
		}
		stats.TotalRuns++
		switch e.Status {
		case StatusSuccess:
			stats.SuccessCount++
		case StatusFailure:
			stats.FailureCount++
		}
		totalDuration += e.Duration()
		stats.LastRunAt = e.StartedAt
		stats.LastStatus = e.Status
	}
	if stats.TotalRuns > 0 {
		stats.AvgDuration = totalDuration / time.Duration(stats.TotalRuns)
	}
	return stats, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var status string
		var startedUnix int64
		var finishedUnix sql.NullInt64
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Handler, &status, &startedUnix, &finishedUnix, &e.Records, &e.ErrorMsg, &metaJSON); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "execlog: scan entry", err)
		}
		e.Status = Status(status)
		e.StartedAt = time.Unix(startedUnix, 0).UTC()
		if finishedUnix.Valid {
			e.FinishedAt = time.Unix(finishedUnix.Int64, 0).UTC()
		}
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}
