package collector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
)

// DataCollectionConfig names one symbol whose candles the scheduler keeps
// fresh: which timeframes to pull, how often, and whether it's active.
type DataCollectionConfig struct {
	ID              string
	Symbol          string
	Timeframes      []candlestore.Timeframe
	IntervalSeconds int
	CandleLimit     int // how many recent candles to pull per cycle, 0 = default
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConfigRepository persists DataCollectionConfig rows. It owns its own
// sqlite file, separate from the candle/indicator store, the same way
// the teacher keeps strategy config and trade history in distinct
// storage concerns rather than one do-everything schema.
type ConfigRepository struct {
	db *sql.DB
}

// OpenConfigRepository opens (creating if needed) the sqlite-backed
// collection-config store at path.
func OpenConfigRepository(path string) (*ConfigRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "collector: create db dir", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "collector: open db", err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "collector: ping db", err)
	}
	r := &ConfigRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *ConfigRepository) Close() error { return r.db.Close() }

func (r *ConfigRepository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS data_collection_configs (
			id               TEXT PRIMARY KEY,
			symbol           TEXT NOT NULL,
			timeframes       TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			candle_limit     INTEGER NOT NULL DEFAULT 0,
			enabled          INTEGER NOT NULL DEFAULT 1,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		);
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "collector: migrate", err)
	}
	return nil
}

// Create inserts a new config, assigning it a fresh ID.
func (r *ConfigRepository) Create(ctx context.Context, cfg DataCollectionConfig) (DataCollectionConfig, error) {
	if cfg.Symbol == "" {
		return DataCollectionConfig{}, apperrors.New(apperrors.BadRequest, "collector: symbol is required")
	}
	if len(cfg.Timeframes) == 0 {
		return DataCollectionConfig{}, apperrors.New(apperrors.BadRequest, "collector: at least one timeframe is required")
	}
	if cfg.IntervalSeconds <= 0 {
		return DataCollectionConfig{}, apperrors.New(apperrors.BadRequest, "collector: interval_seconds must be positive")
	}

	cfg.ID = uuid.NewString()
	now := time.Now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_collection_configs
		(id, symbol, timeframes, interval_seconds, candle_limit, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Symbol, encodeTimeframes(cfg.Timeframes), cfg.IntervalSeconds,
		cfg.CandleLimit, boolToInt(cfg.Enabled), now.Unix(), now.Unix())
	if err != nil {
		return DataCollectionConfig{}, apperrors.Wrap(apperrors.Internal, "collector: insert config", err)
	}
	return cfg, nil
}

// Update replaces the mutable fields of an existing config by ID.
func (r *ConfigRepository) Update(ctx context.Context, cfg DataCollectionConfig) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE data_collection_configs
		SET symbol = ?, timeframes = ?, interval_seconds = ?, candle_limit = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		cfg.Symbol, encodeTimeframes(cfg.Timeframes), cfg.IntervalSeconds,
		cfg.CandleLimit, boolToInt(cfg.Enabled), now.Unix(), cfg.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "collector: update config", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.New(apperrors.NotFound, fmt.Sprintf("collector: config %q not found", cfg.ID))
	}
	return nil
}

// Delete removes a config by ID.
func (r *ConfigRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM data_collection_configs WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "collector: delete config", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.New(apperrors.NotFound, fmt.Sprintf("collector: config %q not found", id))
	}
	return nil
}

// Get returns one config by ID.
func (r *ConfigRepository) Get(ctx context.Context, id string) (DataCollectionConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, symbol, timeframes, interval_seconds, candle_limit, enabled, created_at, updated_at
		FROM data_collection_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return DataCollectionConfig{}, apperrors.New(apperrors.NotFound, fmt.Sprintf("collector: config %q not found", id))
	}
	if err != nil {
		return DataCollectionConfig{}, apperrors.Wrap(apperrors.Internal, "collector: scan config", err)
	}
	return cfg, nil
}

// ListEnabled returns every config with enabled = true, the set the
// scheduler bootstraps jobs from on startup.
func (r *ConfigRepository) ListEnabled(ctx context.Context) ([]DataCollectionConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, timeframes, interval_seconds, candle_limit, enabled, created_at, updated_at
		FROM data_collection_configs WHERE enabled = 1 ORDER BY symbol`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "collector: list configs", err)
	}
	defer rows.Close()

	var out []DataCollectionConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "collector: scan config", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (DataCollectionConfig, error) {
	var cfg DataCollectionConfig
	var timeframesRaw string
	var enabledInt int
	var createdUnix, updatedUnix int64
	err := row.Scan(&cfg.ID, &cfg.Symbol, &timeframesRaw, &cfg.IntervalSeconds,
		&cfg.CandleLimit, &enabledInt, &createdUnix, &updatedUnix)
	if err != nil {
		return DataCollectionConfig{}, err
	}
	cfg.Timeframes = decodeTimeframes(timeframesRaw)
	cfg.Enabled = enabledInt != 0
	cfg.CreatedAt = time.Unix(createdUnix, 0).UTC()
	cfg.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return cfg, nil
}

func encodeTimeframes(tfs []candlestore.Timeframe) string {
	parts := make([]string, len(tfs))
	for i, tf := range tfs {
		parts[i] = string(tf)
	}
	return strings.Join(parts, ",")
}

func decodeTimeframes(raw string) []candlestore.Timeframe {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]candlestore.Timeframe, len(parts))
	for i, p := range parts {
		out[i] = candlestore.Timeframe(p)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
