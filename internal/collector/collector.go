// Package collector pulls recent candles from an exchange adapter into
// the candle store and keeps their indicators current, the crypto
// analog of the teacher's DataManager.SyncCandles fetch-missing loop.
package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
	"github.com/aristath/sentinel-core/internal/exchange"
	"github.com/aristath/sentinel-core/internal/indicators"
)

const (
	defaultCandleLimit = 100
	retryBase          = time.Second
	retryCap           = 30 * time.Second
	retryAttempts      = 3
)

// Publisher fans out a topic/payload pair to realtime subscribers. The
// collector only depends on this narrow interface so it doesn't import
// the websocket hub directly; internal/realtime.Hub satisfies it.
type Publisher interface {
	Publish(topic string, data any)
}

// Result summarizes one Collect cycle for logging and job-execution records.
type Result struct {
	Symbol            string
	TimeframesRun     []candlestore.Timeframe
	RecordsCollected  int
	IndicatorsUpdated int
}

// Collector wires an exchange adapter, the candle store, and the
// indicator engine into one ingestion cycle.
type Collector struct {
	Adapter    exchange.Adapter
	Store      *candlestore.Store
	Indicators map[indicators.Name]indicators.Params
	Publisher  Publisher // optional; nil disables market_data broadcast
	Log        zerolog.Logger
}

// New builds a Collector with the default indicator set.
func New(adapter exchange.Adapter, store *candlestore.Store, publisher Publisher, log zerolog.Logger) *Collector {
	return &Collector{
		Adapter:    adapter,
		Store:      store,
		Indicators: indicators.DefaultConfigs(),
		Publisher:  publisher,
		Log:        log,
	}
}

// Collect fetches the latest candles for every timeframe in cfg,
// upserts them, recomputes indicators, and publishes a market_data
// event per timeframe. A transient adapter failure is retried with
// exponential backoff before the whole cycle fails; the candles and
// indicators already written for earlier timeframes in this call are
// not rolled back.
func (c *Collector) Collect(ctx context.Context, cfg DataCollectionConfig) (Result, error) {
	limit := cfg.CandleLimit
	if limit <= 0 {
		limit = defaultCandleLimit
	}

	result := Result{Symbol: cfg.Symbol}
	for _, tf := range cfg.Timeframes {
		candles, err := fetchWithRetry(ctx, c.Adapter, cfg.Symbol, tf, limit)
		if err != nil {
			return result, apperrors.Wrap(apperrors.KindOf(err), "collector: fetch klines", err)
		}

		inserted := 0
		for _, candle := range candles {
			ok, err := c.Store.UpsertCandle(ctx, candle)
			if err != nil {
				return result, err
			}
			if ok {
				inserted++
			}
		}
		result.RecordsCollected += inserted
		result.TimeframesRun = append(result.TimeframesRun, tf)

		if err := indicators.Recompute(ctx, c.Store, cfg.Symbol, tf, c.Indicators); err != nil {
			return result, err
		}
		result.IndicatorsUpdated += len(c.Indicators)

		if c.Publisher != nil && len(candles) > 0 {
			c.Publisher.Publish("market_data", map[string]any{
				"symbol":    cfg.Symbol,
				"timeframe": tf,
				"candle":    candles[len(candles)-1],
			})
		}

		c.Log.Debug().
			Str("symbol", cfg.Symbol).
			Str("timeframe", string(tf)).
			Int("inserted", inserted).
			Msg("collected candles")
	}

	return result, nil
}

func fetchWithRetry(ctx context.Context, adapter exchange.Adapter, symbol string, tf candlestore.Timeframe, limit int) ([]candlestore.Candle, error) {
	backoff := retryBase
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		candles, err := adapter.FetchKlines(ctx, symbol, tf, limit)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		if !apperrors.Is(err, apperrors.Transient) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryCap {
			backoff = retryCap
		}
	}
	return nil, lastErr
}
