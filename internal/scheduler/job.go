package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

// Status is the lifecycle state of a persisted job.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPaused    Status = "paused"
	StatusError     Status = "error" // error-budget breach; still scheduled, flagged
	StatusOrphaned  Status = "orphaned" // handler name not registered at load time
)

const (
	DefaultMaxInstances   = 3
	DefaultMisfireGraceS  = 60
)

// Job is a durable, named unit of scheduled work: a handler name plus
// the arguments it's invoked with, a trigger describing when it fires,
// and the re-entrancy/misfire policy the executor enforces.
type Job struct {
	ID             string
	Name           string
	Handler        string
	Args           map[string]any
	Trigger        Trigger
	NextFireAt     time.Time
	MaxInstances   int
	Coalesce       bool
	MisfireGraceS  int
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MisfireStatus classifies a persisted job's NextFireAt against the
// current time when it is (re)armed from storage (restart reload,
// Resume, or a fresh AddJob).
type MisfireStatus int

const (
	// MisfireNone means NextFireAt is unset or still due in the future:
	// nothing missed, arm the timer as usual.
	MisfireNone MisfireStatus = iota
	// MisfireCatchUp means NextFireAt has passed but is still inside
	// the job's MisfireGraceS window: one coalesced catch-up run is
	// due before the next timer is armed.
	MisfireCatchUp
	// MisfireDropped means NextFireAt is further in the past than the
	// job's grace window allows: the missed fire is dropped.
	MisfireDropped
)

// CheckMisfire compares job.NextFireAt to now, honoring MisfireGraceS
// (falling back to DefaultMisfireGraceS when unset).
func CheckMisfire(job Job, now time.Time) MisfireStatus {
	if job.NextFireAt.IsZero() || !job.NextFireAt.Before(now) {
		return MisfireNone
	}
	grace := job.MisfireGraceS
	if grace <= 0 {
		grace = DefaultMisfireGraceS
	}
	if now.Sub(job.NextFireAt) <= time.Duration(grace)*time.Second {
		return MisfireCatchUp
	}
	return MisfireDropped
}

// triggerEnvelope is how a Trigger round-trips through JSON: a kind tag
// plus the kind-specific fields flattened into one object.
type triggerEnvelope struct {
	Kind  string `json:"kind"`
	Days  int    `json:"days,omitempty"`
	Hours int    `json:"hours,omitempty"`
	Mins  int    `json:"mins,omitempty"`
	Secs  int    `json:"secs,omitempty"`
	Expr  string `json:"expr,omitempty"`
	At    string `json:"at,omitempty"`
}

func encodeTrigger(t Trigger) (string, error) {
	var env triggerEnvelope
	switch v := t.(type) {
	case IntervalTrigger:
		env = triggerEnvelope{Kind: "interval", Days: v.Days, Hours: v.Hours, Mins: v.Mins, Secs: v.Secs}
	case CronTrigger:
		env = triggerEnvelope{Kind: "cron", Expr: v.Expr}
	case OneShotTrigger:
		env = triggerEnvelope{Kind: "oneshot", At: v.At.UTC().Format(time.RFC3339)}
	default:
		return "", fmt.Errorf("scheduler: unknown trigger type %T", t)
	}
	data, err := json.Marshal(env)
	return string(data), err
}

func decodeTrigger(raw string) (Trigger, error) {
	var env triggerEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("scheduler: decode trigger: %w", err)
	}
	switch env.Kind {
	case "interval":
		return IntervalTrigger{Days: env.Days, Hours: env.Hours, Mins: env.Mins, Secs: env.Secs}, nil
	case "cron":
		return ParseCronTrigger(env.Expr)
	case "oneshot":
		at, err := time.Parse(time.RFC3339, env.At)
		if err != nil {
			return nil, fmt.Errorf("scheduler: decode oneshot trigger: %w", err)
		}
		return OneShotTrigger{At: at}, nil
	default:
		return nil, fmt.Errorf("scheduler: unknown trigger kind %q", env.Kind)
	}
}

// Repository persists jobs in sqlite so the scheduler survives restarts
// without losing next_fire_at, status (paused, error), or policy. The
// error budget's failure counts live in the Executor's memory and are
// not persisted.
type Repository struct {
	db *sql.DB
}

// OpenRepository opens (creating if needed) the scheduler's sqlite store.
func OpenRepository(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "scheduler: create db dir", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "scheduler: open db", err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "scheduler: ping db", err)
	}
	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduler_jobs (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			handler         TEXT NOT NULL,
			args            TEXT NOT NULL DEFAULT '{}',
			trigger         TEXT NOT NULL,
			next_fire_at    INTEGER,
			max_instances   INTEGER NOT NULL DEFAULT 3,
			coalesce_overlaps INTEGER NOT NULL DEFAULT 1,
			misfire_grace_s INTEGER NOT NULL DEFAULT 60,
			status          TEXT NOT NULL DEFAULT 'scheduled',
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "scheduler: migrate", err)
	}
	return nil
}

// Upsert inserts a new job (assigning an ID if empty) or replaces an
// existing one by ID.
func (r *Repository) Upsert(ctx context.Context, j Job) (Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.MaxInstances <= 0 {
		j.MaxInstances = DefaultMaxInstances
	}
	if j.MisfireGraceS <= 0 {
		j.MisfireGraceS = DefaultMisfireGraceS
	}
	if j.Status == "" {
		j.Status = StatusScheduled
	}

	argsJSON, err := json.Marshal(j.Args)
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.BadRequest, "scheduler: encode args", err)
	}
	triggerJSON, err := encodeTrigger(j.Trigger)
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.BadRequest, "scheduler: encode trigger", err)
	}

	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	var nextFire sql.NullInt64
	if !j.NextFireAt.IsZero() {
		nextFire = sql.NullInt64{Int64: j.NextFireAt.Unix(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs
		(id, name, handler, args, trigger, next_fire_at, max_instances, coalesce_overlaps, misfire_grace_s, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, handler = excluded.handler, args = excluded.args,
			trigger = excluded.trigger, next_fire_at = excluded.next_fire_at,
			max_instances = excluded.max_instances, coalesce_overlaps = excluded.coalesce_overlaps,
			misfire_grace_s = excluded.misfire_grace_s, status = excluded.status,
			updated_at = excluded.updated_at`,
		j.ID, j.Name, j.Handler, string(argsJSON), triggerJSON, nextFire,
		j.MaxInstances, boolToInt(j.Coalesce), j.MisfireGraceS, j.Status,
		j.CreatedAt.Unix(), j.UpdatedAt.Unix())
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.Internal, "scheduler: upsert job", err)
	}
	return j, nil
}

// UpdateNextFireAndStatus persists the executor's post-run bookkeeping
// without requiring a full Job round-trip.
func (r *Repository) UpdateNextFireAndStatus(ctx context.Context, id string, next time.Time, status Status) error {
	var nextFire sql.NullInt64
	if !next.IsZero() {
		nextFire = sql.NullInt64{Int64: next.Unix(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduler_jobs SET next_fire_at = ?, status = ?, updated_at = ? WHERE id = ?`,
		nextFire, status, time.Now().UTC().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "scheduler: update next fire", err)
	}
	return nil
}

// Delete removes a job permanently.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "scheduler: delete job", err)
	}
	return nil
}

// Get returns one job by ID.
func (r *Repository) Get(ctx context.Context, id string) (Job, error) {
	row := r.db.QueryRowContext(ctx, jobSelectColumns+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, apperrors.New(apperrors.NotFound, fmt.Sprintf("scheduler: job %q not found", id))
	}
	if err != nil {
		return Job{}, apperrors.Wrap(apperrors.Internal, "scheduler: scan job", err)
	}
	return j, nil
}

// ListAll returns every persisted job, scheduled and paused alike —
// used to rebuild in-memory backend state on Start.
func (r *Repository) ListAll(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, jobSelectColumns)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "scheduler: list jobs", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "scheduler: scan job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const jobSelectColumns = `
	SELECT id, name, handler, args, trigger, next_fire_at, max_instances, coalesce_overlaps, misfire_grace_s, status, created_at, updated_at
	FROM scheduler_jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var argsJSON, triggerJSON string
	var nextFire sql.NullInt64
	var coalesceInt int
	var createdUnix, updatedUnix int64

	err := row.Scan(&j.ID, &j.Name, &j.Handler, &argsJSON, &triggerJSON, &nextFire,
		&j.MaxInstances, &coalesceInt, &j.MisfireGraceS, &j.Status, &createdUnix, &updatedUnix)
	if err != nil {
		return Job{}, err
	}

	_ = json.Unmarshal([]byte(argsJSON), &j.Args)
	trigger, err := decodeTrigger(triggerJSON)
	if err != nil {
		return Job{}, err
	}
	j.Trigger = trigger
	if nextFire.Valid {
		j.NextFireAt = time.Unix(nextFire.Int64, 0).UTC()
	}
	j.Coalesce = coalesceInt != 0
	j.CreatedAt = time.Unix(createdUnix, 0).UTC()
	j.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return j, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
