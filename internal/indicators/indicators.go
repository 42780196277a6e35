// Package indicators computes technical indicators over candle series,
// wrapping go-talib for the underlying math instead of reimplementing
// Wilder smoothing, MACD convergence, or Bollinger variance by hand.
//
// Every public function is stateless: given the same candle slice and
// params, it returns the same samples. Recompute is the only place
// that talks to candlestore, so Compute stays trivially testable.
package indicators

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
)

// Name identifies one of the seven supported indicator families.
type Name string

const (
	RSI        Name = "rsi"
	MACD       Name = "macd"
	Bollinger  Name = "bollinger_bands"
	SMA        Name = "sma"
	EMA        Name = "ema"
	Stochastic Name = "stochastic"
	ATR        Name = "atr"
)

// Params configures one indicator computation. Zero values fall back to
// conventional defaults: period 14 for RSI/Stochastic/ATR, 20 for
// SMA/Bollinger, 200 for EMA; MACD 12/26/9; Bollinger 2 standard
// deviations; Stochastic %K 14, %D 3.
type Params struct {
	Period       int
	FastPeriod   int // MACD
	SlowPeriod   int // MACD
	SignalPeriod int // MACD
	StdDevMult   float64 // Bollinger
	KPeriod      int     // Stochastic
	DPeriod      int     // Stochastic
}

func (p Params) withDefaults(name Name) Params {
	if p.Period == 0 {
		switch name {
		case RSI, Stochastic, ATR:
			p.Period = 14
		case SMA, Bollinger:
			p.Period = 20
		case EMA:
			p.Period = 200
		}
	}
	if name == MACD {
		if p.FastPeriod == 0 {
			p.FastPeriod = 12
		}
		if p.SlowPeriod == 0 {
			p.SlowPeriod = 26
		}
		if p.SignalPeriod == 0 {
			p.SignalPeriod = 9
		}
	}
	if name == Bollinger && p.StdDevMult == 0 {
		p.StdDevMult = 2
	}
	if name == Stochastic {
		if p.KPeriod == 0 {
			p.KPeriod = 14
		}
		if p.DPeriod == 0 {
			p.DPeriod = 3
		}
	}
	return p
}

// Compute dispatches to the named indicator family and returns one
// sample per candle once the warm-up window has been satisfied — the
// leading NaN rows talib emits for an unfilled window are dropped.
func Compute(name Name, candles []candlestore.Candle, params Params) ([]candlestore.IndicatorSample, error) {
	if len(candles) == 0 {
		return nil, nil
	}
	params = params.withDefaults(name)

	closes := closesOf(candles)
	symbol := candles[0].Symbol
	tf := candles[0].Timeframe

	switch name {
	case RSI:
		values := talib.Rsi(closes, params.Period)
		return scalarSamples(symbol, tf, string(RSI), candles, values, rsiSignal), nil

	case SMA:
		values := talib.Sma(closes, params.Period)
		return scalarSamples(symbol, tf, string(SMA), candles, values, nil), nil

	case EMA:
		values := talib.Ema(closes, params.Period)
		return scalarSamples(symbol, tf, string(EMA), candles, values, nil), nil

	case ATR:
		highs, lows := highsOf(candles), lowsOf(candles)
		values := talib.Atr(highs, lows, closes, params.Period)
		return scalarSamples(symbol, tf, string(ATR), candles, values, nil), nil

	case MACD:
		macd, signal, hist := talib.Macd(closes, params.FastPeriod, params.SlowPeriod, params.SignalPeriod)
		return macdSamples(symbol, tf, candles, macd, signal, hist), nil

	case Bollinger:
		upper, middle, lower := talib.BBands(closes, params.Period, params.StdDevMult, params.StdDevMult, 0)
		return bbandSamples(symbol, tf, candles, upper, middle, lower), nil

	case Stochastic:
		highs, lows := highsOf(candles), lowsOf(candles)
		k, dLine := talib.Stoch(highs, lows, closes, params.KPeriod, params.DPeriod, talib.SMA, params.DPeriod, talib.SMA)
		return stochSamples(symbol, tf, candles, k, dLine), nil

	default:
		return nil, apperrors.New(apperrors.BadRequest, fmt.Sprintf("indicators: unknown indicator %q", name))
	}
}

// Recompute loads the chronological candle series for (symbol, timeframe)
// and writes a fresh sample for every configured indicator. Each write
// goes through UpsertIndicator, which is a no-op when the (symbol,
// timeframe, name, ts) key already exists — recomputing twice over the
// same window never duplicates rows.
func Recompute(ctx context.Context, store *candlestore.Store, symbol string, tf candlestore.Timeframe, configs map[Name]Params) error {
	candles, err := store.RangeCandles(ctx, symbol, tf, time.Unix(0, 0).UTC(), time.Now().UTC(), 0, candlestore.Asc)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}

	for name, params := range configs {
		samples, err := Compute(name, candles, params)
		if err != nil {
			return err
		}
		for _, sample := range samples {
			if _, err := store.UpsertIndicator(ctx, sample); err != nil {
				return apperrors.Wrap(apperrors.Internal, fmt.Sprintf("indicators: upsert %s for %s/%s", name, symbol, tf), err)
			}
		}
	}
	return nil
}

// DefaultConfigs is the indicator set the collector recomputes after
// every ingestion cycle when a data-collection config doesn't override it.
func DefaultConfigs() map[Name]Params {
	return map[Name]Params{
		RSI:        {},
		MACD:       {},
		Bollinger:  {},
		SMA:        {},
		EMA:        {},
		Stochastic: {},
		ATR:        {},
	}
}

func closesOf(candles []candlestore.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

func highsOf(candles []candlestore.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.High.Float64()
	}
	return out
}

func lowsOf(candles []candlestore.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Low.Float64()
	}
	return out
}

func isNaN(f float64) bool { return f != f }

type signalFn func(value float64) (signal string, overbought, oversold bool)

func rsiSignal(value float64) (string, bool, bool) {
	switch {
	case value >= 70:
		return "sell", true, false
	case value <= 30:
		return "buy", false, true
	default:
		return "", false, false
	}
}

func scalarSamples(symbol string, tf candlestore.Timeframe, name string, candles []candlestore.Candle, values []float64, sig signalFn) []candlestore.IndicatorSample {
	out := make([]candlestore.IndicatorSample, 0, len(values))
	for i, v := range values {
		if isNaN(v) {
			continue
		}
		sample := candlestore.IndicatorSample{
			Symbol:    symbol,
			Timeframe: tf,
			Name:      name,
			Ts:        candles[i].TsOpen,
			Value:     decimal.NewFromFloat(v),
		}
		if sig != nil {
			signal, ob, os := sig(v)
			sample.Signal, sample.Overbought, sample.Oversold = signal, ob, os
		}
		out = append(out, sample)
	}
	return out
}

func macdSamples(symbol string, tf candlestore.Timeframe, candles []candlestore.Candle, macd, signal, hist []float64) []candlestore.IndicatorSample {
	out := make([]candlestore.IndicatorSample, 0, len(macd))
	for i := range macd {
		if isNaN(macd[i]) || isNaN(signal[i]) || isNaN(hist[i]) {
			continue
		}
		s := candlestore.IndicatorSample{
			Symbol:    symbol,
			Timeframe: tf,
			Name:      string(MACD),
			Ts:        candles[i].TsOpen,
			Value:     decimal.NewFromFloat(macd[i]),
			Values: map[string]decimal.Decimal{
				"macd":      decimal.NewFromFloat(macd[i]),
				"signal":    decimal.NewFromFloat(signal[i]),
				"histogram": decimal.NewFromFloat(hist[i]),
			},
		}
		if hist[i] > 0 {
			s.Signal = "buy"
		} else if hist[i] < 0 {
			s.Signal = "sell"
		}
		out = append(out, s)
	}
	return out
}

func bbandSamples(symbol string, tf candlestore.Timeframe, candles []candlestore.Candle, upper, middle, lower []float64) []candlestore.IndicatorSample {
	out := make([]candlestore.IndicatorSample, 0, len(upper))
	for i := range upper {
		if isNaN(upper[i]) || isNaN(middle[i]) || isNaN(lower[i]) {
			continue
		}
		closeF, _ := candles[i].Close.Float64()
		s := candlestore.IndicatorSample{
			Symbol:    symbol,
			Timeframe: tf,
			Name:      string(Bollinger),
			Ts:        candles[i].TsOpen,
			Value:     decimal.NewFromFloat(middle[i]),
			Values: map[string]decimal.Decimal{
				"upper":  decimal.NewFromFloat(upper[i]),
				"middle": decimal.NewFromFloat(middle[i]),
				"lower":  decimal.NewFromFloat(lower[i]),
			},
			Overbought: closeF >= upper[i],
			Oversold:   closeF <= lower[i],
		}
		out = append(out, s)
	}
	return out
}

func stochSamples(symbol string, tf candlestore.Timeframe, candles []candlestore.Candle, k, d []float64) []candlestore.IndicatorSample {
	out := make([]candlestore.IndicatorSample, 0, len(k))
	for i := range k {
		if isNaN(k[i]) || isNaN(d[i]) {
			continue
		}
		s := candlestore.IndicatorSample{
			Symbol:    symbol,
			Timeframe: tf,
			Name:      string(Stochastic),
			Ts:        candles[i].TsOpen,
			Value:     decimal.NewFromFloat(k[i]),
			Values: map[string]decimal.Decimal{
				"k": decimal.NewFromFloat(k[i]),
				"d": decimal.NewFromFloat(d[i]),
			},
			Overbought: k[i] >= 80,
			Oversold:   k[i] <= 20,
		}
		out = append(out, s)
	}
	return out
}
