package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

// SignalStore appends Signal rows. Signals are immutable once written,
// grounded on the same append-only-audit-row discipline as execlog and
// the teacher's storage.TradeLog.
type SignalStore struct {
	db *sql.DB
}

// signal rows live in the same database as Repository's strategies
// table — one scheduler-adjacent concern, two tables — so OpenSignalStore
// takes an already-open *sql.DB rather than its own path.
func OpenSignalStore(db *sql.DB) (*SignalStore, error) {
	s := &SignalStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SignalStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS strategy_signals (
			id                  TEXT PRIMARY KEY,
			strategy_id         TEXT NOT NULL,
			symbol              TEXT NOT NULL,
			ts                  INTEGER NOT NULL,
			action              TEXT NOT NULL,
			strength            TEXT NOT NULL DEFAULT '0',
			confidence          TEXT NOT NULL DEFAULT '0',
			price               TEXT NOT NULL DEFAULT '0',
			quantity            TEXT,
			indicators_snapshot TEXT NOT NULL DEFAULT '{}',
			reasoning           TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_strategy_signals_strategy_ts ON strategy_signals(strategy_id, ts);
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "strategy: migrate signals", err)
	}
	return nil
}

// Append inserts a new signal, assigning it an ID and timestamp if unset.
func (s *SignalStore) Append(ctx context.Context, sig Signal) (Signal, error) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Ts.IsZero() {
		sig.Ts = time.Now().UTC()
	}

	snapshotJSON, err := json.Marshal(sig.IndicatorsSnapshot)
	if err != nil {
		return Signal{}, apperrors.Wrap(apperrors.BadRequest, "strategy: encode indicators snapshot", err)
	}

	var qty sql.NullString
	if sig.Quantity != nil {
		qty = sql.NullString{String: sig.Quantity.String(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategy_signals
		(id, strategy_id, symbol, ts, action, strength, confidence, price, quantity, indicators_snapshot, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.StrategyID, sig.Symbol, sig.Ts.Unix(), string(sig.Action),
		sig.Strength.String(), sig.Confidence.String(), sig.Price.String(), qty,
		string(snapshotJSON), sig.Reasoning)
	if err != nil {
		return Signal{}, apperrors.Wrap(apperrors.Internal, "strategy: append signal", err)
	}
	return sig, nil
}

// RecentForStrategy returns the most recent signals for a strategy,
// newest first, capped at limit.
func (s *SignalStore) RecentForStrategy(ctx context.Context, strategyID string, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_id, symbol, ts, action, strength, confidence, price, quantity, indicators_snapshot, reasoning
		FROM strategy_signals WHERE strategy_id = ? ORDER BY ts DESC LIMIT ?`, strategyID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "strategy: query signals", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "strategy: scan signal", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func scanSignal(row rowScanner) (Signal, error) {
	var sig Signal
	var tsUnix int64
	var action, strength, confidence, price, snapshotJSON string
	var qty sql.NullString

	if err := row.Scan(&sig.ID, &sig.StrategyID, &sig.Symbol, &tsUnix, &action, &strength, &confidence, &price, &qty, &snapshotJSON, &sig.Reasoning); err != nil {
		return Signal{}, err
	}

	sig.Ts = time.Unix(tsUnix, 0).UTC()
	sig.Action = Action(action)

	var err error
	if sig.Strength, err = decimal.NewFromString(strength); err != nil {
		return Signal{}, err
	}
	if sig.Confidence, err = decimal.NewFromString(confidence); err != nil {
		return Signal{}, err
	}
	if sig.Price, err = decimal.NewFromString(price); err != nil {
		return Signal{}, err
	}
	if qty.Valid {
		q, err := decimal.NewFromString(qty.String)
		if err != nil {
			return Signal{}, err
		}
		sig.Quantity = &q
	}
	_ = json.Unmarshal([]byte(snapshotJSON), &sig.IndicatorsSnapshot)
	return sig, nil
}
