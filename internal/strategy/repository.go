package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Repository persists Strategy rows. It owns its own sqlite file,
// separate from candles/signals/execution log, mirroring the split
// storage-per-concern style C5's ConfigRepository already established.
type Repository struct {
	db *sql.DB
}

// OpenRepository opens (creating if needed) the sqlite-backed strategy
// config store at path.
func OpenRepository(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "strategy: create db dir", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "strategy: open db", err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "strategy: ping db", err)
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
		CREATE TABLE IF NOT EXISTS strategies (
			id               TEXT PRIMARY KEY,
			owner            TEXT NOT NULL,
			type             TEXT NOT NULL,
			parameters       TEXT NOT NULL DEFAULT '{}',
			symbol           TEXT NOT NULL,
			timeframe        TEXT NOT NULL,
			mode             TEXT NOT NULL DEFAULT 'advisory',
			portfolio_id     TEXT NOT NULL DEFAULT '',
			job_id           TEXT NOT NULL DEFAULT '',
			initial_balance  TEXT NOT NULL DEFAULT '0',
			commission_rate  TEXT NOT NULL DEFAULT '0',
			status           TEXT NOT NULL DEFAULT 'inactive',
			total_signals    INTEGER NOT NULL DEFAULT 0,
			total_errors     INTEGER NOT NULL DEFAULT 0,
			last_signal_at   INTEGER,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		);
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "strategy: migrate", err)
	}
	return nil
}

// Create validates and inserts a new strategy, assigning it an ID.
func (r *Repository) Create(ctx context.Context, s Strategy) (Strategy, error) {
	if s.Type == "" {
		return Strategy{}, apperrors.New(apperrors.BadRequest, "strategy: type is required")
	}
	if s.Symbol == "" {
		return Strategy{}, apperrors.New(apperrors.BadRequest, "strategy: symbol is required")
	}
	if s.Timeframe == "" {
		return Strategy{}, apperrors.New(apperrors.BadRequest, "strategy: timeframe is required")
	}
	if s.Mode == "" {
		s.Mode = ModeAdvisory
	}
	if s.Status == "" {
		s.Status = StatusInactive
	}

	s.ID = uuid.NewString()
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	paramsJSON, err := json.Marshal(s.Parameters)
	if err != nil {
		return Strategy{}, apperrors.Wrap(apperrors.BadRequest, "strategy: encode parameters", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO strategies
		(id, owner, type, parameters, symbol, timeframe, mode, portfolio_id, job_id, initial_balance, commission_rate, status, total_signals, total_errors, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		s.ID, s.Owner, s.Type, string(paramsJSON), s.Symbol, string(s.Timeframe), string(s.Mode), s.PortfolioID, s.JobID,
		s.InitialBalance.String(), s.CommissionRate.String(), string(s.Status), s.CreatedAt.Unix(), s.UpdatedAt.Unix())
	if err != nil {
		return Strategy{}, apperrors.Wrap(apperrors.Internal, "strategy: insert", err)
	}
	return s, nil
}

// UpdateStatus transitions a strategy's status, per the §4.8 state
// machine. The caller (Manager) is responsible for enforcing which
// transitions are legal; this is a plain write.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := r.db.ExecContext(ctx, `UPDATE strategies SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "strategy: update status", err)
	}
	return nil
}

// SetJobID records which C6 scheduler job backs this strategy, set by
// Manager.Start right after the job is created and cleared by
// Manager.Stop once the job is removed.
func (r *Repository) SetJobID(ctx context.Context, id, jobID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE strategies SET job_id = ?, updated_at = ? WHERE id = ?`,
		jobID, time.Now().UTC().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "strategy: set job id", err)
	}
	return nil
}

// RecordTick updates the post-evaluation counters after each Tick.
func (r *Repository) RecordTick(ctx context.Context, id string, signaled bool, failed bool) error {
	now := time.Now().UTC()
	if failed {
		_, err := r.db.ExecContext(ctx, `UPDATE strategies SET total_errors = total_errors + 1, updated_at = ? WHERE id = ?`, now.Unix(), id)
		return apperrors.Wrap(apperrors.Internal, "strategy: record tick error", err)
	}
	if signaled {
		_, err := r.db.ExecContext(ctx, `UPDATE strategies SET total_signals = total_signals + 1, last_signal_at = ?, updated_at = ? WHERE id = ?`,
			now.Unix(), now.Unix(), id)
		if err != nil {
			return apperrors.Wrap(apperrors.Internal, "strategy: record tick signal", err)
		}
	}
	return nil
}

// Delete permanently removes a strategy row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "strategy: delete", err)
	}
	return nil
}

// Get returns one strategy by ID.
func (r *Repository) Get(ctx context.Context, id string) (Strategy, error) {
	row := r.db.QueryRowContext(ctx, strategySelectColumns+` WHERE id = ?`, id)
	s, err := scanStrategy(row)
	if err == sql.ErrNoRows {
		return Strategy{}, apperrors.New(apperrors.NotFound, fmt.Sprintf("strategy: %q not found", id))
	}
	if err != nil {
		return Strategy{}, apperrors.Wrap(apperrors.Internal, "strategy: scan", err)
	}
	return s, nil
}

// ListActive returns every strategy whose status is active (i.e.
// should have a running scheduler job), used to rebuild scheduler
// state after a restart.
func (r *Repository) ListActive(ctx context.Context) ([]Strategy, error) {
	return r.list(ctx, `WHERE status = ?`, string(StatusActive))
}

// ListAll returns every persisted strategy.
func (r *Repository) ListAll(ctx context.Context) ([]Strategy, error) {
	return r.list(ctx, "")
}

func (r *Repository) list(ctx context.Context, where string, args ...any) ([]Strategy, error) {
	rows, err := r.db.QueryContext(ctx, strategySelectColumns+" "+where, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "strategy: list", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "strategy: scan", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const strategySelectColumns = `
	SELECT id, owner, type, parameters, symbol, timeframe, mode, portfolio_id, job_id, initial_balance, commission_rate,
	       status, total_signals, total_errors, last_signal_at, created_at, updated_at
	FROM strategies`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (Strategy, error) {
	var s Strategy
	var paramsJSON, timeframe, mode, initialBalance, commissionRate, status string
	var lastSignalAt sql.NullInt64
	var createdUnix, updatedUnix int64

	err := row.Scan(&s.ID, &s.Owner, &s.Type, &paramsJSON, &s.Symbol, &timeframe, &mode, &s.PortfolioID, &s.JobID,
		&initialBalance, &commissionRate, &status, &s.TotalSignals, &s.TotalErrors, &lastSignalAt,
		&createdUnix, &updatedUnix)
	if err != nil {
		return Strategy{}, err
	}

	_ = json.Unmarshal([]byte(paramsJSON), &s.Parameters)
	s.Timeframe = candlestore.Timeframe(timeframe)
	s.Mode = Mode(mode)
	s.Status = Status(status)

	s.InitialBalance, err = decimalFromString(initialBalance)
	if err != nil {
		return Strategy{}, err
	}
	s.CommissionRate, err = decimalFromString(commissionRate)
	if err != nil {
		return Strategy{}, err
	}
	if lastSignalAt.Valid {
		s.LastSignalAt = time.Unix(lastSignalAt.Int64, 0).UTC()
	}
	s.CreatedAt = time.Unix(createdUnix, 0).UTC()
	s.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return s, nil
}
