package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
	"github.com/aristath/sentinel-core/internal/indicators"
)

const defaultCandleWindow = 100

// PortfolioReader is the narrow slice of C9's Engine a tick needs:
// current position and available cash. Kept as a local interface, the
// same narrow-seam pattern C5's collector.Publisher uses, so this
// package never imports internal/paper directly and stays usable
// in advisory-only deployments that have no portfolio at all.
type PortfolioReader interface {
	PositionSnapshot(ctx context.Context, portfolioID, symbol string) (*PositionSnapshot, bool, error)
	AvailableCash(ctx context.Context, portfolioID string) (decimal.Decimal, error)
}

// OrderDispatcher is the narrow seam into C10's router, called only
// when a strategy's Mode is not advisory.
type OrderDispatcher interface {
	Dispatch(ctx context.Context, portfolioID string, sig Signal) error
}

// Notifier is the narrow seam into C12's realtime hub.
type Notifier interface {
	Publish(topic string, data any)
}

// Executor runs one strategy's tick: load candles, compute indicators,
// evaluate its handler, persist the signal, and (if live/paper mode)
// dispatch an order.
type Executor struct {
	Store      *candlestore.Store
	Repo       *Repository
	Signals    *SignalStore
	Handlers   *HandlerRegistry
	Portfolios PortfolioReader
	Orders     OrderDispatcher
	Notify     Notifier
	Log        zerolog.Logger
}

// Tick executes one evaluation cycle for a strategy. It never panics
// on handler failure; a handler error is counted in the strategy's
// total_errors via Repo.RecordTick and returned to the caller (the C6
// job wrapper feeds it to the scheduler's per-job error budget).
func (e *Executor) Tick(ctx context.Context, strategyID string) error {
	st, err := e.Repo.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	if st.Status != StatusActive {
		return nil
	}

	handler, ok := e.Handlers.Lookup(st.Type)
	if !ok {
		return apperrors.New(apperrors.NotFound, fmt.Sprintf("strategy: handler %q not registered", st.Type))
	}

	candles, err := e.Store.RangeCandles(ctx, st.Symbol, st.Timeframe, time.Unix(0, 0).UTC(), time.Now().UTC(), defaultCandleWindow, candlestore.Desc)
	if err != nil {
		_ = e.Repo.RecordTick(ctx, strategyID, false, true)
		return apperrors.Wrap(apperrors.Internal, "strategy: load candles", err)
	}
	reverse(candles)
	if len(candles) == 0 {
		return apperrors.New(apperrors.NoMarketData, fmt.Sprintf("strategy: no candles for %s %s", st.Symbol, st.Timeframe))
	}

	input := HandlerInput{
		Symbol:     st.Symbol,
		Timeframe:  st.Timeframe,
		Parameters: st.Parameters,
		Candles:    candles,
		Indicators: e.computeIndicators(candles),
	}

	if e.Portfolios != nil && st.PortfolioID != "" {
		pos, found, err := e.Portfolios.PositionSnapshot(ctx, st.PortfolioID, st.Symbol)
		if err != nil {
			_ = e.Repo.RecordTick(ctx, strategyID, false, true)
			return apperrors.Wrap(apperrors.Internal, "strategy: load position", err)
		}
		if found {
			input.CurrentPosition = pos
		}
		if cash, err := e.Portfolios.AvailableCash(ctx, st.PortfolioID); err == nil {
			input.AvailableCapital = cash
		}
	}

	sig, err := handler(input)
	if err != nil {
		_ = e.Repo.RecordTick(ctx, strategyID, false, true)
		return apperrors.Wrap(apperrors.Internal, "strategy: handler evaluation", err)
	}
	if sig == nil {
		return nil
	}

	sig.StrategyID = strategyID
	if sig.Symbol == "" {
		sig.Symbol = st.Symbol
	}
	saved, err := e.Signals.Append(ctx, *sig)
	if err != nil {
		_ = e.Repo.RecordTick(ctx, strategyID, false, true)
		return err
	}
	_ = e.Repo.RecordTick(ctx, strategyID, true, false)

	if e.Notify != nil {
		e.Notify.Publish("notifications", saved)
	}

	if st.Mode != ModeAdvisory && saved.Action != ActionHold && e.Orders != nil {
		if err := e.Orders.Dispatch(ctx, st.PortfolioID, saved); err != nil {
			e.Log.Error().Str("strategy", strategyID).Err(err).Msg("strategy: order dispatch failed")
			return apperrors.Wrap(apperrors.Internal, "strategy: dispatch order", err)
		}
	}

	return nil
}

// computeIndicators evaluates the default indicator family over the
// loaded candle window. Signals are generated at candle close, not
// intra-candle, so recomputing on the in-memory slice here (rather
// than reading back from the candlestore's persisted samples) is
// always safe — the last candle in the slice is always closed.
func (e *Executor) computeIndicators(candles []candlestore.Candle) map[string][]candlestore.IndicatorSample {
	out := make(map[string][]candlestore.IndicatorSample)
	for name, params := range indicators.DefaultConfigs() {
		samples, err := indicators.Compute(name, candles, params)
		if err != nil {
			continue
		}
		out[string(name)] = samples
	}
	return out
}

func reverse(candles []candlestore.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}
