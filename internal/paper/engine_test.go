package paper

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := OpenRepository(filepath.Join(t.TempDir(), "paper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func newPortfolio(t *testing.T, repo *Repository, capital float64) Portfolio {
	t.Helper()
	p, err := repo.CreatePortfolio(context.Background(), Portfolio{Owner: "u1", Mode: ModePaper, InitialCapital: dec(capital)})
	require.NoError(t, err)
	return p
}

func TestEngine_BuyThenSell_DCARoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	engine := &Engine{Repo: repo}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 10000)
	fee := dec(0.001)

	price := dec(50000)
	_, err := engine.Buy(ctx, pf.ID, "BTCUSDT", dec(0.1), &price, OrderTypeMarket, fee)
	require.NoError(t, err)

	after, err := repo.GetPortfolio(ctx, pf.ID)
	require.NoError(t, err)
	require.True(t, after.Cash.Equal(dec(4995.00)), "cash=%s", after.Cash)

	pos, err := repo.GetActivePosition(ctx, pf.ID, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.True(t, pos.Quantity.Equal(dec(0.1)))
	require.True(t, pos.AvgEntryPrice.Equal(dec(50000)))
	require.True(t, pos.TotalCost.Equal(dec(5005.00)))

	sellPrice := dec(55000)
	trade, err := engine.Sell(ctx, pf.ID, "BTCUSDT", dec(0.1), &sellPrice, OrderTypeMarket, fee)
	require.NoError(t, err)
	require.NotNil(t, trade.RealizedPnL)
	// gross=5500, cost_basis=qty*avg_entry_price=5000 (avg excludes fees,
	// only total_cost accumulates them), fee=5.5 -> 5500-5000-5.5=494.50.
	require.True(t, trade.RealizedPnL.Equal(dec(494.50)), "realized_pnl=%s", trade.RealizedPnL)

	final, err := repo.GetPortfolio(ctx, pf.ID)
	require.NoError(t, err)
	require.True(t, final.Cash.Equal(dec(10489.50)), "cash=%s", final.Cash)

	closedPos, err := repo.GetActivePosition(ctx, pf.ID, "BTCUSDT")
	require.NoError(t, err)
	require.Nil(t, closedPos, "position should be closed after full sell")
}

func TestEngine_PartialSellPreservesAvgEntryPrice(t *testing.T) {
	repo := newTestRepo(t)
	engine := &Engine{Repo: repo}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 100000)

	p1, p2 := dec(50000), dec(60000)
	_, err := engine.Buy(ctx, pf.ID, "BTCUSDT", dec(0.1), &p1, OrderTypeMarket, decimal.Zero)
	require.NoError(t, err)
	_, err = engine.Buy(ctx, pf.ID, "BTCUSDT", dec(0.1), &p2, OrderTypeMarket, decimal.Zero)
	require.NoError(t, err)

	pos, err := repo.GetActivePosition(ctx, pf.ID, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, pos.Quantity.Equal(dec(0.2)))
	require.True(t, pos.AvgEntryPrice.Equal(dec(55000)))
	require.True(t, pos.TotalCost.Equal(dec(11000)))

	sellPrice := dec(65000)
	trade, err := engine.Sell(ctx, pf.ID, "BTCUSDT", dec(0.1), &sellPrice, OrderTypeMarket, decimal.Zero)
	require.NoError(t, err)
	require.True(t, trade.RealizedPnL.Equal(dec(1000)))

	remaining, err := repo.GetActivePosition(ctx, pf.ID, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, remaining)
	require.True(t, remaining.Quantity.Equal(dec(0.1)))
	require.True(t, remaining.AvgEntryPrice.Equal(dec(55000)), "avg entry price preserved across partial sell")
	require.True(t, remaining.TotalCost.Equal(dec(5500)))
}

func TestEngine_Buy_RejectsInsufficientFunds(t *testing.T) {
	repo := newTestRepo(t)
	engine := &Engine{Repo: repo}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 100)

	price := dec(50000)
	_, err := engine.Buy(ctx, pf.ID, "BTCUSDT", dec(1), &price, OrderTypeMarket, decimal.Zero)
	require.Error(t, err)

	after, err := repo.GetPortfolio(ctx, pf.ID)
	require.NoError(t, err)
	require.True(t, after.Cash.Equal(dec(100)), "failed buy must not touch cash")
}

func TestEngine_Sell_RejectsWithoutPosition(t *testing.T) {
	repo := newTestRepo(t)
	engine := &Engine{Repo: repo}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 10000)

	price := dec(50000)
	_, err := engine.Sell(ctx, pf.ID, "BTCUSDT", dec(0.1), &price, OrderTypeMarket, decimal.Zero)
	require.Error(t, err)
}

type fakePriceSource struct{ prices map[string]decimal.Decimal }

func (f fakePriceSource) LatestClose(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, errNoPrice
	}
	return p, nil
}

var errNoPrice = errors.New("paper test: no price configured for symbol")

func TestEngine_MarkToMarket_RollsUpPortfolioAndTracksDrawdown(t *testing.T) {
	repo := newTestRepo(t)
	prices := fakePriceSource{prices: map[string]decimal.Decimal{"BTCUSDT": dec(55000)}}
	engine := &Engine{Repo: repo, Prices: prices}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 10000)

	price := dec(50000)
	_, err := engine.Buy(ctx, pf.ID, "BTCUSDT", dec(0.1), &price, OrderTypeMarket, dec(0.001))
	require.NoError(t, err)

	updated, err := engine.MarkToMarket(ctx, pf.ID, dec(0.001))
	require.NoError(t, err)
	require.True(t, updated.InvestedValue.Equal(dec(5500)), "invested_value=%s", updated.InvestedValue)
	require.True(t, updated.TotalValue().Equal(updated.Cash.Add(dec(5500))))

	expectedUnrealized := dec(5500).Sub(dec(5005.00))
	require.True(t, updated.UnrealizedPnL.Equal(expectedUnrealized), "unrealized_pnl=%s want=%s", updated.UnrealizedPnL, expectedUnrealized)
}

func TestEngine_MarkToMarket_AutoClosesOnStopLoss(t *testing.T) {
	repo := newTestRepo(t)
	prices := fakePriceSource{prices: map[string]decimal.Decimal{"BTCUSDT": dec(40000)}}
	engine := &Engine{Repo: repo, Prices: prices}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 10000)

	price := dec(50000)
	_, err := engine.Buy(ctx, pf.ID, "BTCUSDT", dec(0.1), &price, OrderTypeMarket, decimal.Zero)
	require.NoError(t, err)

	stop := dec(45000)
	require.NoError(t, engine.SetStopLoss(ctx, pf.ID, "BTCUSDT", &stop))

	_, err = engine.MarkToMarket(ctx, pf.ID, decimal.Zero)
	require.NoError(t, err)

	pos, err := repo.GetActivePosition(ctx, pf.ID, "BTCUSDT")
	require.NoError(t, err)
	require.Nil(t, pos, "stop-loss breach should auto-close the position")
}

func TestEngine_MarkToMarket_CarriesUnpricedPositionAtCost(t *testing.T) {
	repo := newTestRepo(t)
	prices := fakePriceSource{prices: map[string]decimal.Decimal{"BTCUSDT": dec(55000)}}
	engine := &Engine{Repo: repo, Prices: prices}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 20000)

	btcPrice := dec(50000)
	_, err := engine.Buy(ctx, pf.ID, "BTCUSDT", dec(0.1), &btcPrice, OrderTypeMarket, decimal.Zero)
	require.NoError(t, err)

	ethPrice := dec(3000)
	_, err = engine.Buy(ctx, pf.ID, "ETHUSDT", dec(1), &ethPrice, OrderTypeMarket, decimal.Zero)
	require.NoError(t, err)

	updated, err := engine.MarkToMarket(ctx, pf.ID, decimal.Zero)
	require.NoError(t, err)

	// BTCUSDT has a feed (market_value=5500), ETHUSDT doesn't (carried
	// at its 3000 cost basis with zero unrealized pnl) — both still
	// count toward invested/total_value so the unpriced leg isn't
	// silently dropped from the book.
	require.True(t, updated.InvestedValue.Equal(dec(8500)), "invested_value=%s", updated.InvestedValue)
	require.True(t, updated.UnrealizedPnL.Equal(dec(500)), "unrealized_pnl=%s", updated.UnrealizedPnL)
	require.True(t, updated.TotalValue().Equal(updated.Cash.Add(dec(8500))))

	ethPos, err := repo.GetActivePosition(ctx, pf.ID, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, ethPos)
	require.True(t, ethPos.MarketValue.Equal(dec(3000)), "unpriced position market_value should equal its cost")
	require.True(t, ethPos.UnrealizedPnL.Equal(decimal.Zero), "unpriced position unrealized_pnl should be zero")
}

func TestEngine_ClosePosition_SellsFullQuantity(t *testing.T) {
	repo := newTestRepo(t)
	prices := fakePriceSource{prices: map[string]decimal.Decimal{"BTCUSDT": dec(52000)}}
	engine := &Engine{Repo: repo, Prices: prices}
	ctx := context.Background()
	pf := newPortfolio(t, repo, 10000)

	price := dec(50000)
	_, err := engine.Buy(ctx, pf.ID, "BTCUSDT", dec(0.1), &price, OrderTypeMarket, decimal.Zero)
	require.NoError(t, err)

	trade, err := engine.ClosePosition(ctx, pf.ID, "BTCUSDT", decimal.Zero)
	require.NoError(t, err)
	require.True(t, trade.Quantity.Equal(dec(0.1)))

	pos, err := repo.GetActivePosition(ctx, pf.ID, "BTCUSDT")
	require.NoError(t, err)
	require.Nil(t, pos)
}
