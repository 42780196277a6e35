// Package strategy is the per-strategy tick executor: load candles and
// indicators, evaluate a pluggable handler, persist the resulting
// signal, and dispatch an order when the strategy is live. Generalized
// from the teacher's internal/strategy package — same "pure decision
// engine" discipline and parameter-bag-struct-with-Evaluate idiom, but
// retargeted from an end-of-day AI-scored equities screener onto a
// periodic candle-close crypto tick with no AI scoring layer.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/candlestore"
)

// Status is the lifecycle state of a Strategy row.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusError    Status = "error"
)

// Action is what a handler decided to do at a candle close.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Mode controls whether a tick's signal is advisory-only or also
// dispatches a real (paper or live) order through the trading router.
type Mode string

const (
	ModeAdvisory Mode = "advisory"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
)

// Strategy is a configured, persisted instance of a handler: which
// handler runs, on what symbol/timeframe, with what parameters, and in
// what trading mode. Activation creates a scheduler job (C6);
// deactivation removes it — see Manager.
type Strategy struct {
	ID              string
	Owner           string
	Type            string // handler name, e.g. "rsi", "dca"
	Parameters      map[string]any
	Symbol          string
	Timeframe       candlestore.Timeframe
	Mode            Mode
	PortfolioID     string // which paper/live portfolio this strategy trades against
	JobID           string // C6 scheduler job backing this strategy while active/paused
	InitialBalance  decimal.Decimal
	CommissionRate  decimal.Decimal
	Status          Status
	TotalSignals    int
	TotalErrors     int
	LastSignalAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Signal is the append-only output of one handler evaluation. Unlike
// Strategy it is never updated after insert.
type Signal struct {
	ID                 string
	StrategyID         string
	Symbol             string
	Ts                 time.Time
	Action             Action
	Strength           decimal.Decimal // 0..1
	Confidence         decimal.Decimal // 0..1
	Price              decimal.Decimal
	Quantity           *decimal.Decimal
	IndicatorsSnapshot map[string]any
	Reasoning          string
}

// HandlerInput is the complete read-only bundle passed to a strategy
// handler. Handlers are pure: same input must produce the same
// output, no I/O, no mutable package state.
type HandlerInput struct {
	Symbol     string
	Timeframe  candlestore.Timeframe
	Parameters map[string]any

	// Candles, most recent last.
	Candles []candlestore.Candle

	// Indicators maps indicator family name ("rsi", "macd", ...) to its
	// computed series over the same candle window, most recent last.
	Indicators map[string][]candlestore.IndicatorSample

	// CurrentPosition is nil when the strategy's portfolio holds no
	// open position in Symbol.
	CurrentPosition *PositionSnapshot

	// AvailableCapital is the portfolio's free cash, for position sizing.
	AvailableCapital decimal.Decimal
}

// PositionSnapshot is the subset of paper.Position a handler needs to
// decide on exits, decoupled from the paper package to avoid handlers
// importing trade-execution machinery they only ever read from.
type PositionSnapshot struct {
	Quantity       decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	EntryTime      time.Time
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
}

// Handler is the contract every built-in and pluggable strategy
// implements. A nil *Signal means the handler has nothing to say this
// tick — it is not persisted at all, distinct from an explicit
// ActionHold signal which is persisted for the audit trail.
type Handler func(input HandlerInput) (*Signal, error)

func last(candles []candlestore.Candle) (candlestore.Candle, bool) {
	if len(candles) == 0 {
		return candlestore.Candle{}, false
	}
	return candles[len(candles)-1], true
}

func lastIndicator(series []candlestore.IndicatorSample) (candlestore.IndicatorSample, bool) {
	if len(series) == 0 {
		return candlestore.IndicatorSample{}, false
	}
	return series[len(series)-1], true
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func paramInt(params map[string]any, key string, def int) int {
	return int(paramFloat(params, key, float64(def)))
}
