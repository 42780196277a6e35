package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FearGreedHandler stands in for the teacher's AI-scored regime gate
// (MarketRegimeData.Confidence threshold) with a composite built from
// indicators this system actually computes: RSI contributes the
// momentum half, ATR normalized against price contributes a
// volatility-as-fear half. The blend is deliberately simple — a real
// fear/greed feed is an external data source (spec's C2-adjacent
// Non-goal), this is the self-contained approximation. Parameters:
// extreme_fear_threshold (default 25), extreme_greed_threshold
// (default 75), quantity_quote.
func FearGreedHandler(input HandlerInput) (*Signal, error) {
	candle, ok := last(input.Candles)
	if !ok {
		return nil, nil
	}
	rsiSample, ok := lastIndicator(input.Indicators["rsi"])
	if !ok {
		return nil, nil
	}
	atrSample, hasATR := lastIndicator(input.Indicators["atr"])

	rsiValue, _ := rsiSample.Value.Float64()
	volatilityFear := 50.0 // neutral when ATR unavailable
	if hasATR && candle.Close.GreaterThan(decimal.Zero) {
		atrPct, _ := atrSample.Value.Div(candle.Close).Float64()
		// higher relative ATR reads as more fear: scale 0-10% ATR to 100-0.
		volatilityFear = clamp01(1-atrPct/0.10) * 100
	}

	index := (rsiValue + volatilityFear) / 2
	snapshot := map[string]any{"fear_greed_index": index, "rsi": rsiValue, "volatility_component": volatilityFear}

	extremeFear := paramFloat(input.Parameters, "extreme_fear_threshold", 25)
	extremeGreed := paramFloat(input.Parameters, "extreme_greed_threshold", 75)

	if input.CurrentPosition != nil {
		if index >= extremeGreed {
			qty := input.CurrentPosition.Quantity
			return &Signal{
				Symbol: input.Symbol, Action: ActionSell, Price: candle.Close, Quantity: &qty,
				Confidence:         decimal.NewFromFloat(0.5),
				IndicatorsSnapshot: snapshot,
				Reasoning:          fmt.Sprintf("fear_greed: index %.1f >= extreme greed %.1f, taking profit", index, extremeGreed),
			}, nil
		}
		return &Signal{
			Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
			IndicatorsSnapshot: snapshot, Reasoning: fmt.Sprintf("fear_greed: index %.1f, holding", index),
		}, nil
	}

	if index <= extremeFear {
		amountQuote := decimal.NewFromFloat(paramFloat(input.Parameters, "quantity_quote", 100))
		if candle.Close.LessThanOrEqual(decimal.Zero) {
			return nil, nil
		}
		qty := amountQuote.Div(candle.Close)
		return &Signal{
			Symbol: input.Symbol, Action: ActionBuy, Price: candle.Close, Quantity: &qty,
			Confidence:         decimal.NewFromFloat(0.5),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("fear_greed: index %.1f <= extreme fear %.1f, buying the dip", index, extremeFear),
		}, nil
	}

	return nil, nil
}
