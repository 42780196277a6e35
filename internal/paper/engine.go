package paper

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

// PriceSource resolves the price a buy/sell/mark-to-market uses when
// the caller doesn't supply one explicitly: the latest closed candle
// for symbol. Kept as a narrow local interface rather than a direct
// candlestore import, the same seam C8's PortfolioReader uses to stay
// decoupled from a concrete store.
type PriceSource interface {
	LatestClose(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Engine is the paper-trading accounting core: every mutating call is
// one sqlite transaction, serialized per portfolio by a keyed mutex —
// generalized from the teacher's single struct-wide sync.Mutex in
// PaperBroker to one lock per portfolio ID, since this engine serves
// many independent books rather than one broker connection.
type Engine struct {
	Repo   *Repository
	Prices PriceSource

	locks sync.Map // portfolioID -> *sync.Mutex
}

func (e *Engine) lockFor(portfolioID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(portfolioID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) resolvePrice(ctx context.Context, symbol string, price *decimal.Decimal) (decimal.Decimal, error) {
	if price != nil {
		return *price, nil
	}
	if e.Prices == nil {
		return decimal.Zero, apperrors.New(apperrors.NoMarketData, "paper: no price supplied and no price source configured")
	}
	p, err := e.Prices.LatestClose(ctx, symbol)
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.NoMarketData, "paper: resolve price", err)
	}
	return p, nil
}

// Buy resolves price via PriceSource if price is nil, computes
// gross/fee/total_out, requires sufficient cash, and either averages
// into an existing active position or opens a new one.
func (e *Engine) Buy(ctx context.Context, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType OrderType, commissionRate decimal.Decimal) (Trade, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return Trade{}, apperrors.New(apperrors.BadRequest, "paper: quantity must be positive")
	}
	lock := e.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	resolved, err := e.resolvePrice(ctx, symbol, price)
	if err != nil {
		return Trade{}, err
	}

	tx, err := e.Repo.db.BeginTx(ctx, nil)
	if err != nil {
		return Trade{}, apperrors.Wrap(apperrors.Internal, "paper: begin tx", err)
	}
	defer tx.Rollback()

	pf, err := getPortfolio(ctx, tx, portfolioID)
	if err != nil {
		return Trade{}, err
	}

	gross := qty.Mul(resolved)
	fee := gross.Mul(commissionRate)
	totalOut := gross.Add(fee)
	if pf.Cash.LessThan(totalOut) {
		return Trade{}, apperrors.New(apperrors.BadRequest, "paper: insufficient funds")
	}

	existing, err := getActivePosition(ctx, tx, portfolioID, symbol)
	if err != nil {
		return Trade{}, err
	}

	var pos Position
	if existing != nil {
		newQty := existing.Quantity.Add(qty)
		newCost := existing.TotalCost.Add(totalOut)
		newAvg := existing.Quantity.Mul(existing.AvgEntryPrice).Add(gross).Div(newQty)
		pos = *existing
		pos.Quantity, pos.TotalCost, pos.AvgEntryPrice = newQty, newCost, newAvg
	} else {
		pos = Position{
			PortfolioID: portfolioID, Symbol: symbol, Quantity: qty,
			AvgEntryPrice: resolved, TotalCost: totalOut, CurrentPrice: resolved,
			Active: true, OpenedAt: time.Now().UTC(),
		}
	}
	if err := savePosition(ctx, tx, pos); err != nil {
		return Trade{}, err
	}

	pf.Cash = pf.Cash.Sub(totalOut)
	if err := e.Repo.savePortfolio(ctx, tx, pf); err != nil {
		return Trade{}, err
	}

	trade, err := insertTrade(ctx, tx, Trade{
		PortfolioID: portfolioID, PositionID: pos.ID, Symbol: symbol, Side: SideBuy,
		Quantity: qty, Price: resolved, TotalValue: gross, Fee: fee, NetCost: totalOut,
		OrderType: orderType, Status: "filled",
	})
	if err != nil {
		return Trade{}, err
	}
	if err := tx.Commit(); err != nil {
		return Trade{}, apperrors.Wrap(apperrors.Internal, "paper: commit buy", err)
	}
	return trade, nil
}

// Sell requires an active position with quantity >= qty, computes
// realized P&L against the position's average entry price, and closes
// the position when it fully unwinds.
func (e *Engine) Sell(ctx context.Context, portfolioID, symbol string, qty decimal.Decimal, price *decimal.Decimal, orderType OrderType, commissionRate decimal.Decimal) (Trade, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return Trade{}, apperrors.New(apperrors.BadRequest, "paper: quantity must be positive")
	}
	lock := e.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	resolved, err := e.resolvePrice(ctx, symbol, price)
	if err != nil {
		return Trade{}, err
	}

	tx, err := e.Repo.db.BeginTx(ctx, nil)
	if err != nil {
		return Trade{}, apperrors.Wrap(apperrors.Internal, "paper: begin tx", err)
	}
	defer tx.Rollback()

	pf, err := getPortfolio(ctx, tx, portfolioID)
	if err != nil {
		return Trade{}, err
	}
	pos, err := getActivePosition(ctx, tx, portfolioID, symbol)
	if err != nil {
		return Trade{}, err
	}
	if pos == nil || pos.Quantity.LessThan(qty) {
		return Trade{}, apperrors.New(apperrors.BadRequest, "paper: insufficient position quantity")
	}

	gross := qty.Mul(resolved)
	fee := gross.Mul(commissionRate)
	proceeds := gross.Sub(fee)
	costBasis := qty.Mul(pos.AvgEntryPrice)
	realizedPnL := gross.Sub(costBasis).Sub(fee)
	var realizedPct decimal.Decimal
	if costBasis.GreaterThan(decimal.Zero) {
		realizedPct = realizedPnL.Div(costBasis).Mul(decimal.NewFromInt(100))
	}

	pos.Quantity = pos.Quantity.Sub(qty)
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		pos.Quantity = decimal.Zero
		pos.TotalCost = decimal.Zero
		pos.Active = false
	} else {
		pos.TotalCost = pos.Quantity.Mul(pos.AvgEntryPrice)
	}
	if err := savePosition(ctx, tx, *pos); err != nil {
		return Trade{}, err
	}

	pf.Cash = pf.Cash.Add(proceeds)
	pf.RealizedPnL = pf.RealizedPnL.Add(realizedPnL)
	pf.TotalTrades++
	if realizedPnL.GreaterThan(decimal.Zero) {
		pf.WinningTrades++
	} else if realizedPnL.LessThan(decimal.Zero) {
		pf.LosingTrades++
	}
	if pf.TotalTrades > 0 {
		pf.WinRate = decimal.NewFromInt(int64(pf.WinningTrades)).Div(decimal.NewFromInt(int64(pf.TotalTrades)))
	}
	if err := e.Repo.savePortfolio(ctx, tx, pf); err != nil {
		return Trade{}, err
	}

	trade, err := insertTrade(ctx, tx, Trade{
		PortfolioID: portfolioID, PositionID: pos.ID, Symbol: symbol, Side: SideSell,
		Quantity: qty, Price: resolved, TotalValue: gross, Fee: fee, NetCost: proceeds,
		RealizedPnL: &realizedPnL, RealizedPnLPct: &realizedPct,
		OrderType: orderType, Status: "filled",
	})
	if err != nil {
		return Trade{}, err
	}
	if err := tx.Commit(); err != nil {
		return Trade{}, apperrors.Wrap(apperrors.Internal, "paper: commit sell", err)
	}
	return trade, nil
}

// ClosePosition sells a symbol's entire active position at market.
func (e *Engine) ClosePosition(ctx context.Context, portfolioID, symbol string, commissionRate decimal.Decimal) (Trade, error) {
	pos, err := e.Repo.GetActivePosition(ctx, portfolioID, symbol)
	if err != nil {
		return Trade{}, err
	}
	if pos == nil {
		return Trade{}, apperrors.New(apperrors.NotFound, "paper: no active position to close")
	}
	return e.Sell(ctx, portfolioID, symbol, pos.Quantity, nil, OrderTypeMarket, commissionRate)
}

// MarkToMarket repriced every active position against PriceSource,
// rolls the portfolio's invested/unrealized/total values up, updates
// the monotonic max-drawdown, and auto-closes any position whose
// stop-loss or take-profit has been crossed.
func (e *Engine) MarkToMarket(ctx context.Context, portfolioID string, commissionRate decimal.Decimal) (Portfolio, error) {
	lock := e.lockFor(portfolioID)
	lock.Lock()

	tx, err := e.Repo.db.BeginTx(ctx, nil)
	if err != nil {
		lock.Unlock()
		return Portfolio{}, apperrors.Wrap(apperrors.Internal, "paper: begin tx", err)
	}

	pf, err := getPortfolio(ctx, tx, portfolioID)
	if err != nil {
		tx.Rollback()
		lock.Unlock()
		return Portfolio{}, err
	}
	positions, err := listActivePositions(ctx, tx, portfolioID)
	if err != nil {
		tx.Rollback()
		lock.Unlock()
		return Portfolio{}, err
	}

	invested := decimal.Zero
	unrealized := decimal.Zero
	var toClose []string
	for i := range positions {
		pos := &positions[i]
		current, err := e.resolvePrice(ctx, pos.Symbol, nil)
		if err != nil {
			// No market data for this symbol yet: carry it at cost rather
			// than dropping it from the roll-up, so total_value stays the
			// sum of every open position instead of silently excluding
			// whichever ones have no price feed.
			pos.MarketValue = pos.TotalCost
			pos.UnrealizedPnL = decimal.Zero
			if err := savePosition(ctx, tx, *pos); err != nil {
				tx.Rollback()
				lock.Unlock()
				return Portfolio{}, err
			}
			invested = invested.Add(pos.TotalCost)
			continue
		}
		pos.CurrentPrice = current
		pos.MarketValue = pos.Quantity.Mul(current)
		pos.UnrealizedPnL = pos.MarketValue.Sub(pos.TotalCost)
		if err := savePosition(ctx, tx, *pos); err != nil {
			tx.Rollback()
			lock.Unlock()
			return Portfolio{}, err
		}
		invested = invested.Add(pos.MarketValue)
		unrealized = unrealized.Add(pos.UnrealizedPnL)

		if pos.StopLoss != nil && current.LessThanOrEqual(*pos.StopLoss) {
			toClose = append(toClose, pos.Symbol)
		} else if pos.TakeProfit != nil && current.GreaterThanOrEqual(*pos.TakeProfit) {
			toClose = append(toClose, pos.Symbol)
		}
	}

	pf.InvestedValue = invested
	pf.UnrealizedPnL = unrealized
	pf.TotalPnL = pf.RealizedPnL.Add(unrealized)

	totalValue := pf.Cash.Add(invested)
	if pf.InitialCapital.GreaterThan(decimal.Zero) {
		drawdown := pf.InitialCapital.Sub(totalValue).Div(pf.InitialCapital)
		if drawdown.LessThan(decimal.Zero) {
			drawdown = decimal.Zero
		}
		if drawdown.GreaterThan(pf.MaxDrawdown) {
			pf.MaxDrawdown = drawdown
		}
	}

	if err := e.Repo.savePortfolio(ctx, tx, pf); err != nil {
		tx.Rollback()
		lock.Unlock()
		return Portfolio{}, err
	}
	if err := tx.Commit(); err != nil {
		lock.Unlock()
		return Portfolio{}, apperrors.Wrap(apperrors.Internal, "paper: commit mark-to-market", err)
	}
	lock.Unlock()

	for _, symbol := range toClose {
		if _, err := e.ClosePosition(ctx, portfolioID, symbol, commissionRate); err != nil {
			return Portfolio{}, apperrors.Wrap(apperrors.Internal, "paper: auto-close on trigger", err)
		}
	}
	return e.Repo.GetPortfolio(ctx, portfolioID)
}

// SetStopLoss attaches (or clears, with a nil price) a stop-loss
// trigger to a symbol's active position.
func (e *Engine) SetStopLoss(ctx context.Context, portfolioID, symbol string, price *decimal.Decimal) error {
	return e.setTrigger(ctx, portfolioID, symbol, func(p *Position) { p.StopLoss = price })
}

// SetTakeProfit attaches (or clears) a take-profit trigger.
func (e *Engine) SetTakeProfit(ctx context.Context, portfolioID, symbol string, price *decimal.Decimal) error {
	return e.setTrigger(ctx, portfolioID, symbol, func(p *Position) { p.TakeProfit = price })
}

func (e *Engine) setTrigger(ctx context.Context, portfolioID, symbol string, apply func(*Position)) error {
	lock := e.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := e.Repo.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "paper: begin tx", err)
	}
	defer tx.Rollback()

	pos, err := getActivePosition(ctx, tx, portfolioID, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return apperrors.New(apperrors.NotFound, "paper: no active position")
	}
	apply(pos)
	if err := savePosition(ctx, tx, *pos); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.Internal, "paper: commit trigger update", err)
	}
	return nil
}

