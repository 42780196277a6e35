package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MACrossoverHandler buys when the fast moving average (ema) crosses
// above the slow one (sma) and exits on the reverse cross, the same
// trend-confirmation idiom as the teacher's trend_follow strategy but
// expressed with two indicator series instead of a hand-rolled slope
// calculation. Parameters: quantity_quote (default 100).
func MACrossoverHandler(input HandlerInput) (*Signal, error) {
	candle, ok := last(input.Candles)
	if !ok {
		return nil, nil
	}
	fast := input.Indicators["ema"]
	slow := input.Indicators["sma"]
	if len(fast) < 2 || len(slow) < 2 {
		return nil, nil
	}

	fastCurr, fastPrev := fast[len(fast)-1].Value, fast[len(fast)-2].Value
	slowCurr, slowPrev := slow[len(slow)-1].Value, slow[len(slow)-2].Value

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastCurr.GreaterThan(slowCurr)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastCurr.LessThan(slowCurr)

	snapshot := map[string]any{"ema": mustFloat(fastCurr), "sma": mustFloat(slowCurr)}

	if input.CurrentPosition != nil {
		if crossedDown {
			qty := input.CurrentPosition.Quantity
			return &Signal{
				Symbol: input.Symbol, Action: ActionSell, Price: candle.Close, Quantity: &qty,
				Confidence:         decimal.NewFromFloat(0.6),
				IndicatorsSnapshot: snapshot,
				Reasoning:          "ma_crossover: fast MA crossed below slow MA, exiting",
			}, nil
		}
		return &Signal{
			Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
			IndicatorsSnapshot: snapshot, Reasoning: "ma_crossover: fast MA still above slow MA, holding",
		}, nil
	}

	if crossedUp {
		amountQuote := decimal.NewFromFloat(paramFloat(input.Parameters, "quantity_quote", 100))
		if candle.Close.LessThanOrEqual(decimal.Zero) {
			return nil, nil
		}
		qty := amountQuote.Div(candle.Close)
		return &Signal{
			Symbol: input.Symbol, Action: ActionBuy, Price: candle.Close, Quantity: &qty,
			Confidence:         decimal.NewFromFloat(0.6),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("ma_crossover: ema %.4f crossed above sma %.4f, entering", mustFloat(fastCurr), mustFloat(slowCurr)),
		}, nil
	}

	return nil, nil
}
