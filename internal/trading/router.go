// Package trading is the unified dispatcher between paper and live
// execution: one call surface, routed by mode, so strategy and
// operator code never branches on paper-vs-live itself. Grounded on
// the teacher's internal/broker.Registry/broker.New factory dispatch,
// repurposed from venue-name lookup to a two-way paper/live switch.
package trading

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/paper"
)

// Mode selects which execution path a call routes through.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// PaperEngine is the narrow slice of C9's Engine the router calls.
// Satisfied by *paper.Engine.
type PaperEngine interface {
	Buy(ctx context.Context, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType paper.OrderType, commissionRate decimal.Decimal) (paper.Trade, error)
	Sell(ctx context.Context, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType paper.OrderType, commissionRate decimal.Decimal) (paper.Trade, error)
	ClosePosition(ctx context.Context, portfolioID, symbol string, commissionRate decimal.Decimal) (paper.Trade, error)
	MarkToMarket(ctx context.Context, portfolioID string, commissionRate decimal.Decimal) (paper.Portfolio, error)
	SetStopLoss(ctx context.Context, portfolioID, symbol string, price *decimal.Decimal) error
	SetTakeProfit(ctx context.Context, portfolioID, symbol string, price *decimal.Decimal) error
}

// Router dispatches every trading operation to C9 (paper) or
// LiveExecutor (live) by mode, adapting both onto one call surface.
type Router struct {
	Paper PaperEngine
	Live  *LiveExecutor
}

func (r *Router) Buy(ctx context.Context, mode Mode, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType paper.OrderType, commissionRate decimal.Decimal) (paper.Trade, error) {
	switch mode {
	case ModePaper:
		return r.Paper.Buy(ctx, portfolioID, symbol, qty, price, orderType, commissionRate)
	case ModeLive:
		return r.Live.Buy(ctx, portfolioID, symbol, qty, price, orderType, commissionRate)
	default:
		return paper.Trade{}, apperrors.New(apperrors.BadRequest, fmt.Sprintf("trading: unknown mode %q", mode))
	}
}

func (r *Router) Sell(ctx context.Context, mode Mode, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType paper.OrderType, commissionRate decimal.Decimal) (paper.Trade, error) {
	switch mode {
	case ModePaper:
		return r.Paper.Sell(ctx, portfolioID, symbol, qty, price, orderType, commissionRate)
	case ModeLive:
		return r.Live.Sell(ctx, portfolioID, symbol, qty, price, orderType, commissionRate)
	default:
		return paper.Trade{}, apperrors.New(apperrors.BadRequest, fmt.Sprintf("trading: unknown mode %q", mode))
	}
}

func (r *Router) ClosePosition(ctx context.Context, mode Mode, portfolioID, symbol string, commissionRate decimal.Decimal) (paper.Trade, error) {
	switch mode {
	case ModePaper:
		return r.Paper.ClosePosition(ctx, portfolioID, symbol, commissionRate)
	case ModeLive:
		return r.Live.ClosePosition(ctx, portfolioID, symbol, commissionRate)
	default:
		return paper.Trade{}, apperrors.New(apperrors.BadRequest, fmt.Sprintf("trading: unknown mode %q", mode))
	}
}

func (r *Router) MarkToMarket(ctx context.Context, mode Mode, portfolioID string, commissionRate decimal.Decimal) (paper.Portfolio, error) {
	switch mode {
	case ModePaper:
		return r.Paper.MarkToMarket(ctx, portfolioID, commissionRate)
	case ModeLive:
		return r.Live.MarkToMarket(ctx, portfolioID, commissionRate)
	default:
		return paper.Portfolio{}, apperrors.New(apperrors.BadRequest, fmt.Sprintf("trading: unknown mode %q", mode))
	}
}

func (r *Router) SetStopLoss(ctx context.Context, mode Mode, portfolioID, symbol string, price *decimal.Decimal) error {
	switch mode {
	case ModePaper:
		return r.Paper.SetStopLoss(ctx, portfolioID, symbol, price)
	case ModeLive:
		return r.Live.SetStopLoss(ctx, portfolioID, symbol, price)
	default:
		return apperrors.New(apperrors.BadRequest, fmt.Sprintf("trading: unknown mode %q", mode))
	}
}

func (r *Router) SetTakeProfit(ctx context.Context, mode Mode, portfolioID, symbol string, price *decimal.Decimal) error {
	switch mode {
	case ModePaper:
		return r.Paper.SetTakeProfit(ctx, portfolioID, symbol, price)
	case ModeLive:
		return r.Live.SetTakeProfit(ctx, portfolioID, symbol, price)
	default:
		return apperrors.New(apperrors.BadRequest, fmt.Sprintf("trading: unknown mode %q", mode))
	}
}

// GetBalances always reads live venue balances regardless of mode —
// a paper portfolio's balances live in C9, fetched directly from
// there by callers that already hold a portfolio ID; this method
// exists for the live-account read path C2 exposes.
func (r *Router) GetBalances(ctx context.Context) ([]ExchangeBalance, error) {
	if r.Live == nil {
		return nil, apperrors.New(apperrors.NotImplemented, "trading: no live executor configured")
	}
	return r.Live.GetBalances(ctx)
}
