// Package exchange defines the venue adapter abstraction layer.
//
// Design rules (adapted from the teacher's broker package):
//   - Only one adapter is active per configured exchange.
//   - No strategy or paper-engine logic inside an adapter.
//   - Adapters are stateless beyond their own rate limiter and circuit
//     breaker; all durable state lives in candlestore/paper/execlog.
//   - Adapters are the only place venue-specific errors get translated
//     into the shared apperrors kinds.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/candlestore"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Order is a trade order to submit to a venue.
type Order struct {
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal // limit orders only
	ClientID string          // idempotency / correlation tag
}

// OrderResponse is returned immediately after order submission.
type OrderResponse struct {
	OrderID   string
	Status    OrderStatus
	Message   string
	Timestamp time.Time
}

// Trade is one fill reported by the venue.
type Trade struct {
	OrderID   string
	Symbol    string
	Side      OrderSide
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Balance is the available/locked quantity of one asset.
type Balance struct {
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Ticker is the latest traded price and 24h stats for a symbol.
type Ticker struct {
	Symbol      string
	LastPrice   decimal.Decimal
	BidPrice    decimal.Decimal
	AskPrice    decimal.Decimal
	Volume24h   decimal.Decimal
	QuoteVolume decimal.Decimal
	Timestamp   time.Time
}

// SymbolInfo describes one tradable instrument on a venue.
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Status     string // "TRADING", "HALT", "BREAK", ...
	MinQty     decimal.Decimal
	StepSize   decimal.Decimal
	TickSize   decimal.Decimal
}

// Adapter is the contract between the trading core and any venue.
// Market-data methods are safe to call without credentials; trading
// methods require authenticated configuration and are only exercised
// in live mode.
type Adapter interface {
	Name() string

	// Market data (unauthenticated).
	FetchKlines(ctx context.Context, symbol string, tf candlestore.Timeframe, limit int) ([]candlestore.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchExchangeInfo(ctx context.Context) ([]SymbolInfo, error)
	Fetch24hTickers(ctx context.Context) ([]Ticker, error)

	// Trading (authenticated, live only).
	CreateOrder(ctx context.Context, order Order) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetBalances(ctx context.Context) ([]Balance, error)
	GetTrades(ctx context.Context, symbol string, since time.Time) ([]Trade, error)
}

// Registry maps venue names to adapter factory functions. New venues
// register themselves here the same way the teacher's broker package
// registered new brokers.
var Registry = map[string]func(configJSON []byte) (Adapter, error){}

// New constructs an adapter instance by venue name via the registry.
func New(name string, configJSON []byte) (Adapter, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("exchange: unknown venue %q, registered: %v", name, registeredNames())
	}
	return factory(configJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}
