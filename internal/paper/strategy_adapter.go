package paper

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/strategy"
)

// StrategyPortfolioReader adapts Repository into C8's narrow
// strategy.PortfolioReader seam, so a strategy's Executor can read
// position/cash state from a real paper portfolio without C8 importing
// this package directly.
type StrategyPortfolioReader struct {
	Repo *Repository
}

func (a StrategyPortfolioReader) PositionSnapshot(ctx context.Context, portfolioID, symbol string) (*strategy.PositionSnapshot, bool, error) {
	pos, err := a.Repo.GetActivePosition(ctx, portfolioID, symbol)
	if err != nil {
		return nil, false, err
	}
	if pos == nil {
		return nil, false, nil
	}
	return &strategy.PositionSnapshot{
		Quantity:      pos.Quantity,
		AvgEntryPrice: pos.AvgEntryPrice,
		EntryTime:     pos.OpenedAt,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
	}, true, nil
}

func (a StrategyPortfolioReader) AvailableCash(ctx context.Context, portfolioID string) (decimal.Decimal, error) {
	pf, err := a.Repo.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return decimal.Zero, err
	}
	return pf.Cash, nil
}
