package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RangeTradingHandler buys near the floor and sells near the ceiling
// of the recent trading range, the new handler spec's built-in set
// calls for that has no direct teacher ancestor; it follows the same
// parameter-bag-plus-Reason-string shape as the generalized handlers
// above. Parameters: lookback (default 20 candles), band_pct (default
// 0.02 — within 2% of the range edge counts as a touch), quantity_quote.
func RangeTradingHandler(input HandlerInput) (*Signal, error) {
	lookback := paramInt(input.Parameters, "lookback", 20)
	if len(input.Candles) < lookback || lookback < 2 {
		return nil, nil
	}
	window := input.Candles[len(input.Candles)-lookback:]

	rangeLow, rangeHigh := window[0].Low, window[0].High
	for _, c := range window {
		if c.Low.LessThan(rangeLow) {
			rangeLow = c.Low
		}
		if c.High.GreaterThan(rangeHigh) {
			rangeHigh = c.High
		}
	}

	candle := window[len(window)-1]
	bandPct := decimal.NewFromFloat(paramFloat(input.Parameters, "band_pct", 0.02))
	rangeSpan := rangeHigh.Sub(rangeLow)
	if rangeSpan.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	buyCeiling := rangeLow.Add(rangeSpan.Mul(bandPct))
	sellFloor := rangeHigh.Sub(rangeSpan.Mul(bandPct))

	snapshot := map[string]any{"range_low": mustFloat(rangeLow), "range_high": mustFloat(rangeHigh)}

	if input.CurrentPosition != nil {
		if candle.Close.GreaterThanOrEqual(sellFloor) {
			qty := input.CurrentPosition.Quantity
			return &Signal{
				Symbol: input.Symbol, Action: ActionSell, Price: candle.Close, Quantity: &qty,
				Confidence:         decimal.NewFromFloat(0.55),
				IndicatorsSnapshot: snapshot,
				Reasoning:          fmt.Sprintf("range_trading: price %s near range ceiling %s, exiting", candle.Close.String(), rangeHigh.String()),
			}, nil
		}
		return &Signal{
			Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
			IndicatorsSnapshot: snapshot, Reasoning: "range_trading: price mid-range, holding",
		}, nil
	}

	if candle.Close.LessThanOrEqual(buyCeiling) {
		amountQuote := decimal.NewFromFloat(paramFloat(input.Parameters, "quantity_quote", 100))
		qty := amountQuote.Div(candle.Close)
		return &Signal{
			Symbol: input.Symbol, Action: ActionBuy, Price: candle.Close, Quantity: &qty,
			Confidence:         decimal.NewFromFloat(0.55),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("range_trading: price %s near range floor %s, entering", candle.Close.String(), rangeLow.String()),
		}, nil
	}

	return nil, nil
}
