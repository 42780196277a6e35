package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RSIHandler is a direct generalization of the teacher's mean-reversion
// strategy: buy when oversold, sell/exit when overbought, using C4's
// RSI indicator instead of a hand-rolled price z-score. Parameters:
// oversold_threshold (default 30), overbought_threshold (default 70),
// quantity_quote (default 100).
func RSIHandler(input HandlerInput) (*Signal, error) {
	candle, ok := last(input.Candles)
	if !ok {
		return nil, nil
	}
	sample, ok := lastIndicator(input.Indicators["rsi"])
	if !ok {
		return nil, nil
	}

	oversold := paramFloat(input.Parameters, "oversold_threshold", 30)
	overbought := paramFloat(input.Parameters, "overbought_threshold", 70)
	rsiValue, _ := sample.Value.Float64()

	snapshot := map[string]any{"rsi": rsiValue}

	if input.CurrentPosition != nil {
		if rsiValue >= overbought {
			qty := input.CurrentPosition.Quantity
			return &Signal{
				Symbol: input.Symbol, Action: ActionSell, Price: candle.Close, Quantity: &qty,
				Strength: decimal.NewFromFloat(clamp01((rsiValue - overbought) / (100 - overbought))),
				Confidence: decimal.NewFromFloat(0.7),
				IndicatorsSnapshot: snapshot,
				Reasoning: fmt.Sprintf("rsi: %.1f >= overbought threshold %.1f, closing position", rsiValue, overbought),
			}, nil
		}
		return &Signal{
			Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
			IndicatorsSnapshot: snapshot,
			Reasoning: fmt.Sprintf("rsi: %.1f, holding open position", rsiValue),
		}, nil
	}

	if rsiValue <= oversold {
		amountQuote := decimal.NewFromFloat(paramFloat(input.Parameters, "quantity_quote", 100))
		if candle.Close.LessThanOrEqual(decimal.Zero) {
			return nil, nil
		}
		qty := amountQuote.Div(candle.Close)
		return &Signal{
			Symbol: input.Symbol, Action: ActionBuy, Price: candle.Close, Quantity: &qty,
			Strength:           decimal.NewFromFloat(clamp01((oversold - rsiValue) / oversold)),
			Confidence:         decimal.NewFromFloat(0.7),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("rsi: %.1f <= oversold threshold %.1f, entering", rsiValue, oversold),
		}, nil
	}

	return nil, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
