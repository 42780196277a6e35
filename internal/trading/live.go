package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/exchange"
	"github.com/aristath/sentinel-core/internal/paper"
)

// ExchangeBalance is the router's live-mode balance shape, decoupled
// from exchange.Balance so callers of Router don't need to import C2
// directly for a type alias.
type ExchangeBalance struct {
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// LiveExecutor wraps C2's exchange.Adapter for real order placement.
// Mirrors C9's Engine method set so Router can treat both uniformly;
// operations this venue layer has no concrete implementation for fail
// loud with NotImplemented rather than silently degrading to paper —
// grounded on the teacher's validateLiveMode fail-loud discipline for
// anything touching real capital.
type LiveExecutor struct {
	Adapter exchange.Adapter
}

func (l *LiveExecutor) Buy(ctx context.Context, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType paper.OrderType, commissionRate decimal.Decimal) (paper.Trade, error) {
	if l == nil || l.Adapter == nil {
		return paper.Trade{}, apperrors.New(apperrors.NotImplemented, "trading: live buy not configured")
	}
	order := exchange.Order{Symbol: symbol, Side: exchange.SideBuy, Type: mapOrderType(orderType), Quantity: qty}
	if price != nil {
		order.Price = *price
	}
	resp, err := l.Adapter.CreateOrder(ctx, order)
	if err != nil {
		return paper.Trade{}, apperrors.Wrap(apperrors.VenueReject, "trading: live buy rejected", err)
	}
	return paper.Trade{
		PortfolioID: portfolioID, Symbol: symbol, Side: paper.SideBuy, Quantity: qty,
		Status: string(resp.Status), OrderType: orderType,
	}, nil
}

func (l *LiveExecutor) Sell(ctx context.Context, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType paper.OrderType, commissionRate decimal.Decimal) (paper.Trade, error) {
	if l == nil || l.Adapter == nil {
		return paper.Trade{}, apperrors.New(apperrors.NotImplemented, "trading: live sell not configured")
	}
	order := exchange.Order{Symbol: symbol, Side: exchange.SideSell, Type: mapOrderType(orderType), Quantity: qty}
	if price != nil {
		order.Price = *price
	}
	resp, err := l.Adapter.CreateOrder(ctx, order)
	if err != nil {
		return paper.Trade{}, apperrors.Wrap(apperrors.VenueReject, "trading: live sell rejected", err)
	}
	return paper.Trade{
		PortfolioID: portfolioID, Symbol: symbol, Side: paper.SideSell, Quantity: qty,
		Status: string(resp.Status), OrderType: orderType,
	}, nil
}

// ClosePosition, MarkToMarket, SetStopLoss, and SetTakeProfit have no
// live counterpart in C2's read/trade surface: a spot exchange adapter
// exposes balances and order placement, not a broker-side position
// book or server-managed stop orders, so these stay unimplemented
// until a venue that supports them is wired in.
func (l *LiveExecutor) ClosePosition(ctx context.Context, portfolioID, symbol string, commissionRate decimal.Decimal) (paper.Trade, error) {
	return paper.Trade{}, apperrors.New(apperrors.NotImplemented, "trading: live close_position not implemented")
}

func (l *LiveExecutor) MarkToMarket(ctx context.Context, portfolioID string, commissionRate decimal.Decimal) (paper.Portfolio, error) {
	return paper.Portfolio{}, apperrors.New(apperrors.NotImplemented, "trading: live mark_to_market not implemented")
}

func (l *LiveExecutor) SetStopLoss(ctx context.Context, portfolioID, symbol string, price *decimal.Decimal) error {
	return apperrors.New(apperrors.NotImplemented, "trading: live set_stop_loss not implemented")
}

func (l *LiveExecutor) SetTakeProfit(ctx context.Context, portfolioID, symbol string, price *decimal.Decimal) error {
	return apperrors.New(apperrors.NotImplemented, "trading: live set_take_profit not implemented")
}

// GetBalances is a genuine pass-through to C2 — the one live read
// operation with no paper/live ambiguity.
func (l *LiveExecutor) GetBalances(ctx context.Context) ([]ExchangeBalance, error) {
	if l == nil || l.Adapter == nil {
		return nil, apperrors.New(apperrors.NotImplemented, "trading: live executor not configured")
	}
	balances, err := l.Adapter.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ExchangeBalance, len(balances))
	for i, b := range balances {
		out[i] = ExchangeBalance{Asset: b.Asset, Available: b.Available, Locked: b.Locked}
	}
	return out, nil
}

func mapOrderType(t paper.OrderType) exchange.OrderType {
	if t == paper.OrderTypeLimit {
		return exchange.OrderTypeLimit
	}
	return exchange.OrderTypeMarket
}
