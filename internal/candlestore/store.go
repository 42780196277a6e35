package candlestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

// Store is the sqlite-backed implementation of the candle and indicator
// time-series. It never overwrites an existing (symbol,timeframe,ts) key
// on the ingestion hot path; Overwrite is the one deliberate exception.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) the sqlite-backed candle store at path,
// enabling WAL mode for concurrent readers alongside the ingestion
// writer.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("candlestore: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("candlestore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("candlestore: ping: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("candlestore: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	ts_open INTEGER NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	volume TEXT NOT NULL,
	quote_volume TEXT NOT NULL,
	trades INTEGER NOT NULL DEFAULT 0,
	taker_buy_volume TEXT NOT NULL DEFAULT '0',
	taker_buy_quote_volume TEXT NOT NULL DEFAULT '0',
	PRIMARY KEY (symbol, timeframe, ts_open)
);
CREATE INDEX IF NOT EXISTS idx_candles_ts ON candles(ts_open);

CREATE TABLE IF NOT EXISTS indicators (
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	name TEXT NOT NULL,
	ts INTEGER NOT NULL,
	value TEXT NOT NULL,
	values_json TEXT NOT NULL DEFAULT '{}',
	signal TEXT NOT NULL DEFAULT '',
	signal_strength TEXT NOT NULL DEFAULT '0',
	overbought INTEGER NOT NULL DEFAULT 0,
	oversold INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe, name, ts)
);
CREATE INDEX IF NOT EXISTS idx_indicators_ts ON indicators(ts);
`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertCandle inserts a candle, reporting inserted=false if the key
// already existed. The candle must pass Validate before this is called.
func (s *Store) UpsertCandle(ctx context.Context, c Candle) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, apperrors.Wrap(apperrors.BadRequest, "invalid candle", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO candles
			(symbol, timeframe, ts_open, open, high, low, close, volume,
			 quote_volume, trades, taker_buy_volume, taker_buy_quote_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Symbol, string(c.Timeframe), c.TsOpen.UTC().Unix(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
		c.Volume.String(), c.QuoteVolume.String(), c.Trades,
		c.TakerBuyVolume.String(), c.TakerBuyQuoteVolume.String(),
	)
	if err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "upsert candle", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "rows affected", err)
	}
	return n > 0, nil
}

// Overwrite replaces an existing candle row regardless of whether the
// key already exists. Reserved for admin-initiated corrections; the
// ingestion hot path must always go through UpsertCandle.
func (s *Store) Overwrite(ctx context.Context, c Candle) error {
	if err := c.Validate(); err != nil {
		return apperrors.Wrap(apperrors.BadRequest, "invalid candle", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candles
			(symbol, timeframe, ts_open, open, high, low, close, volume,
			 quote_volume, trades, taker_buy_volume, taker_buy_quote_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, ts_open) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume,
			quote_volume=excluded.quote_volume, trades=excluded.trades,
			taker_buy_volume=excluded.taker_buy_volume,
			taker_buy_quote_volume=excluded.taker_buy_quote_volume`,
		c.Symbol, string(c.Timeframe), c.TsOpen.UTC().Unix(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
		c.Volume.String(), c.QuoteVolume.String(), c.Trades,
		c.TakerBuyVolume.String(), c.TakerBuyQuoteVolume.String(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "overwrite candle", err)
	}
	return nil
}

// RangeCandles returns candles for (symbol, timeframe) within [from, to],
// in the given order, capped at limit (0 means unlimited). Ascending and
// descending reads share this one primitive so both paths can never
// diverge in what they consider "the" range.
func (s *Store) RangeCandles(ctx context.Context, symbol string, tf Timeframe, from, to time.Time, limit int, order Order) ([]Candle, error) {
	dir := "ASC"
	if order == Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT symbol, timeframe, ts_open, open, high, low, close, volume,
		       quote_volume, trades, taker_buy_volume, taker_buy_quote_volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts_open >= ? AND ts_open <= ?
		ORDER BY ts_open %s`, dir)
	args := []any{symbol, string(tf), from.UTC().Unix(), to.UTC().Unix()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "range candles", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "scan candle", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestCandle returns the most recent candle for (symbol, timeframe),
// or apperrors.NoMarketData if none has been ingested yet.
func (s *Store) LatestCandle(ctx context.Context, symbol string, tf Timeframe) (*Candle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, timeframe, ts_open, open, high, low, close, volume,
		       quote_volume, trades, taker_buy_volume, taker_buy_quote_volume
		FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY ts_open DESC LIMIT 1`, symbol, string(tf))

	c, err := scanCandle(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NoMarketData, fmt.Sprintf("no candles for %s %s", symbol, tf))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "latest candle", err)
	}
	return &c, nil
}

// DeleteBefore removes rows from table ("candles" or "indicators") with
// a timestamp strictly before ts, returning the number of rows removed.
// Used by the retention housekeeping job.
func (s *Store) DeleteBefore(ctx context.Context, table string, ts time.Time) (int64, error) {
	col := "ts_open"
	switch table {
	case "candles":
		col = "ts_open"
	case "indicators":
		col = "ts"
	default:
		return 0, apperrors.New(apperrors.BadRequest, fmt.Sprintf("unknown table %q", table))
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, table, col), ts.UTC().Unix())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.Internal, "delete before", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandle(r rowScanner) (Candle, error) {
	var c Candle
	var tf string
	var tsOpen int64
	var open, high, low, cls, volume, quoteVolume, takerBuy, takerBuyQuote string

	err := r.Scan(&c.Symbol, &tf, &tsOpen, &open, &high, &low, &cls, &volume,
		&quoteVolume, &c.Trades, &takerBuy, &takerBuyQuote)
	if err != nil {
		return Candle{}, err
	}
	c.Timeframe = Timeframe(tf)
	c.TsOpen = time.Unix(tsOpen, 0).UTC()
	c.Open, _ = decimal.NewFromString(open)
	c.High, _ = decimal.NewFromString(high)
	c.Low, _ = decimal.NewFromString(low)
	c.Close, _ = decimal.NewFromString(cls)
	c.Volume, _ = decimal.NewFromString(volume)
	c.QuoteVolume, _ = decimal.NewFromString(quoteVolume)
	c.TakerBuyVolume, _ = decimal.NewFromString(takerBuy)
	c.TakerBuyQuoteVolume, _ = decimal.NewFromString(takerBuyQuote)
	return c, nil
}

// UpsertIndicator inserts an indicator sample, reporting inserted=false
// if the (symbol,timeframe,name,ts) key already existed.
func (s *Store) UpsertIndicator(ctx context.Context, sample IndicatorSample) (bool, error) {
	valuesJSON, err := json.Marshal(decimalMapToStrings(sample.Values))
	if err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "marshal indicator values", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO indicators
			(symbol, timeframe, name, ts, value, values_json, signal,
			 signal_strength, overbought, oversold)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.Symbol, string(sample.Timeframe), sample.Name, sample.Ts.UTC().Unix(),
		sample.Value.String(), string(valuesJSON), sample.Signal,
		sample.SignalStrength.String(), boolToInt(sample.Overbought), boolToInt(sample.Oversold),
	)
	if err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "upsert indicator", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(apperrors.Internal, "rows affected", err)
	}
	return n > 0, nil
}

// RangeIndicators returns indicator samples for (symbol, timeframe, name)
// within [from, to], ascending by timestamp.
func (s *Store) RangeIndicators(ctx context.Context, symbol string, tf Timeframe, name string, from, to time.Time) ([]IndicatorSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, name, ts, value, values_json, signal,
		       signal_strength, overbought, oversold
		FROM indicators
		WHERE symbol = ? AND timeframe = ? AND name = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`, symbol, string(tf), name, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "range indicators", err)
	}
	defer rows.Close()

	var out []IndicatorSample
	for rows.Next() {
		sample, err := scanIndicator(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "scan indicator", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func scanIndicator(rows *sql.Rows) (IndicatorSample, error) {
	var s IndicatorSample
	var tf string
	var ts int64
	var value, valuesJSON, signalStrength string
	var overbought, oversold int

	err := rows.Scan(&s.Symbol, &tf, &s.Name, &ts, &value, &valuesJSON,
		&s.Signal, &signalStrength, &overbought, &oversold)
	if err != nil {
		return IndicatorSample{}, err
	}
	s.Timeframe = Timeframe(tf)
	s.Ts = time.Unix(ts, 0).UTC()
	s.Value, _ = decimal.NewFromString(value)
	s.SignalStrength, _ = decimal.NewFromString(signalStrength)
	s.Overbought = overbought != 0
	s.Oversold = oversold != 0

	var raw map[string]string
	if err := json.Unmarshal([]byte(valuesJSON), &raw); err == nil && len(raw) > 0 {
		s.Values = make(map[string]decimal.Decimal, len(raw))
		for k, v := range raw {
			d, _ := decimal.NewFromString(v)
			s.Values[k] = d
		}
	}
	return s, nil
}

func decimalMapToStrings(m map[string]decimal.Decimal) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
