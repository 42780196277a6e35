// Package candlestore is the append-dedup time-series store for OHLCV
// candles and the technical indicator samples computed over them. Every
// row is keyed so that re-ingesting or re-computing the same point in
// time is a no-op, never a silent overwrite.
package candlestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a fixed candle aggregation window.
type Timeframe string

const (
	Tf1m  Timeframe = "1m"
	Tf5m  Timeframe = "5m"
	Tf15m Timeframe = "15m"
	Tf30m Timeframe = "30m"
	Tf1h  Timeframe = "1h"
	Tf4h  Timeframe = "4h"
	Tf1d  Timeframe = "1d"
	Tf1w  Timeframe = "1w"
)

var validTimeframes = map[Timeframe]bool{
	Tf1m: true, Tf5m: true, Tf15m: true, Tf30m: true,
	Tf1h: true, Tf4h: true, Tf1d: true, Tf1w: true,
}

// Order selects ascending (chronological, for indicator math) or
// descending (most-recent-first, for API consumers) reads. Both share
// the same SQL primitive in Store.RangeCandles.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Candle is one OHLCV bar, unique per (Symbol, Timeframe, TsOpen) and
// immutable once inserted through the ingestion hot path.
type Candle struct {
	Symbol             string
	Timeframe          Timeframe
	TsOpen             time.Time
	Open               decimal.Decimal
	High               decimal.Decimal
	Low                decimal.Decimal
	Close              decimal.Decimal
	Volume             decimal.Decimal
	QuoteVolume        decimal.Decimal
	Trades             int64
	TakerBuyVolume     decimal.Decimal
	TakerBuyQuoteVolume decimal.Decimal
}

// Validate enforces the OHLC ordering and non-negative-volume invariants
// spec §3 places on every candle before it reaches the store.
func (c Candle) Validate() error {
	if !validTimeframes[c.Timeframe] {
		return fmt.Errorf("candlestore: invalid timeframe %q", c.Timeframe)
	}
	if c.Symbol == "" {
		return fmt.Errorf("candlestore: symbol is required")
	}
	maxOC := decimal.Max(c.Open, c.Close)
	minOC := decimal.Min(c.Open, c.Close)
	if c.Low.GreaterThan(minOC) {
		return fmt.Errorf("candlestore: low %s exceeds min(open,close) %s", c.Low, minOC)
	}
	if maxOC.GreaterThan(c.High) {
		return fmt.Errorf("candlestore: max(open,close) %s exceeds high %s", maxOC, c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candlestore: volume must be non-negative, got %s", c.Volume)
	}
	return nil
}

// IndicatorSample is one technical-indicator reading, unique per
// (Symbol, Timeframe, Name, Ts) and immutable once inserted.
type IndicatorSample struct {
	Symbol         string
	Timeframe      Timeframe
	Name           string
	Ts             time.Time
	Value          decimal.Decimal
	Values         map[string]decimal.Decimal // multi-scalar indicators: MACD{macd,signal,histogram}, BB{upper,middle,lower}
	Signal         string                     // "buy", "sell", "" — indicator-local, not a strategy decision
	SignalStrength decimal.Decimal
	Overbought     bool
	Oversold       bool
}
