// Package paper is the money-safe paper-trading engine: average-cost-
// basis position accounting, realized/unrealized P&L, and a monotonic
// drawdown tracker. Generalized from the teacher's broker.PaperBroker —
// same simulated-fill, in-memory-ledger, mutex-per-book design — from
// float64 equities holdings onto the spec's decimal-precise portfolio/
// position/trade/balance schema.
package paper

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode mirrors strategy.Mode's paper/live split at the portfolio level.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Side is which direction a trade moved.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType records how a fill price was sourced, carried through onto
// the trade row for the audit trail.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Portfolio is one simulated trading book. Invariants (enforced by
// Engine, never by the caller): total_value = cash + invested_value;
// total_pnl = realized_pnl + unrealized_pnl.
type Portfolio struct {
	ID             string
	Owner          string
	Mode           Mode
	InitialCapital decimal.Decimal
	Cash           decimal.Decimal
	InvestedValue  decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TotalPnL       decimal.Decimal
	MaxDrawdown    decimal.Decimal
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TotalValue returns cash + invested_value, the identity Engine keeps
// true after every mutation rather than storing it denormalized.
func (p Portfolio) TotalValue() decimal.Decimal {
	return p.Cash.Add(p.InvestedValue)
}

// Position is one symbol's open exposure within a portfolio. While
// active, Quantity > 0; the position closes (Active=false) exactly
// when Quantity reaches zero, never deleted so its trade history stays
// addressable.
type Position struct {
	ID            string
	PortfolioID   string
	Symbol        string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	TotalCost     decimal.Decimal // cumulative cash outlay, fees included
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	StopLoss      *decimal.Decimal
	TakeProfit    *decimal.Decimal
	Active        bool
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// Trade is an immutable fill record, append-only once inserted.
type Trade struct {
	ID              string
	PortfolioID     string
	PositionID      string
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	TotalValue      decimal.Decimal
	Fee             decimal.Decimal
	NetCost         decimal.Decimal // total_out on buy, proceeds on sell
	RealizedPnL     *decimal.Decimal
	RealizedPnLPct  *decimal.Decimal
	OrderType       OrderType
	Status          string
	Ts              time.Time
}

// Balance is one (portfolio, asset) ledger line. Total = Free + Locked,
// enforced by Repository.UpsertBalance, which is the only writer of
// balance rows; Engine's Buy and Sell do not update them.
type Balance struct {
	PortfolioID string
	Asset       string
	Free        decimal.Decimal
	Locked      decimal.Decimal
	Total       decimal.Decimal
	USDValue    decimal.Decimal
}
