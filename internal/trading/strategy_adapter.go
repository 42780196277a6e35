package trading

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/paper"
	"github.com/aristath/sentinel-core/internal/risk"
	"github.com/aristath/sentinel-core/internal/strategy"
)

// PositionSource is the narrow slice of C9's Repository the risk gate
// needs to see a portfolio's current exposure. Satisfied by
// *paper.Repository.
type PositionSource interface {
	ListActivePositions(ctx context.Context, portfolioID string) ([]paper.Position, error)
	GetPortfolio(ctx context.Context, portfolioID string) (paper.Portfolio, error)
}

// StrategyOrderDispatcher adapts Router into C8's narrow
// strategy.OrderDispatcher seam: one instance per (mode, commission
// rate) pairing, since a signal alone doesn't carry either. Risk and
// Positions are optional; when either is nil the guardrail step is
// skipped entirely, matching C8's Portfolios-is-optional pattern for
// advisory-only deployments that have no portfolio at all.
type StrategyOrderDispatcher struct {
	Router         *Router
	Mode           Mode
	CommissionRate decimal.Decimal
	Risk           *risk.Manager
	Positions      PositionSource
}

func (d StrategyOrderDispatcher) Dispatch(ctx context.Context, portfolioID string, sig strategy.Signal) error {
	if sig.Quantity == nil {
		return apperrors.New(apperrors.BadRequest, "trading: signal has no quantity to dispatch")
	}
	switch sig.Action {
	case strategy.ActionBuy:
		if err := d.checkRisk(ctx, portfolioID, sig); err != nil {
			return err
		}
		_, err := d.Router.Buy(ctx, d.Mode, portfolioID, sig.Symbol, *sig.Quantity, &sig.Price, paper.OrderTypeMarket, d.CommissionRate)
		return err
	case strategy.ActionSell:
		_, err := d.Router.Sell(ctx, d.Mode, portfolioID, sig.Symbol, *sig.Quantity, &sig.Price, paper.OrderTypeMarket, d.CommissionRate)
		return err
	default:
		return nil
	}
}

// checkRisk runs the pre-trade guardrails (C8's signals carry no
// stop-loss of their own, so the stop-loss-distance rules sit out; the
// exposure, concentration, and daily-loss rules still apply).
func (d StrategyOrderDispatcher) checkRisk(ctx context.Context, portfolioID string, sig strategy.Signal) error {
	if d.Risk == nil || d.Positions == nil {
		return nil
	}
	positions, err := d.Positions.ListActivePositions(ctx, portfolioID)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "trading: load positions for risk check", err)
	}
	portfolio, err := d.Positions.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "trading: load portfolio for risk check", err)
	}

	intent := risk.Intent{Symbol: sig.Symbol, Price: sig.Price, Quantity: *sig.Quantity}
	result := d.Risk.Validate(intent, positions, portfolio.RealizedPnL, portfolio.UnrealizedPnL, portfolio.Cash)
	if result.Approved {
		return nil
	}

	reasons := make([]string, len(result.Rejections))
	for i, r := range result.Rejections {
		reasons[i] = r.Rule
	}
	return apperrors.New(apperrors.BadRequest, "trading: risk guardrail rejected order ["+strings.Join(reasons, ", ")+"]")
}
