package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MACDHandler is a generalization of the teacher's momentum strategy's
// reversal-on-sign-change exit rule, applied to MACD histogram sign
// instead of ROC: histogram crossing above zero is a buy signal,
// crossing below zero closes the position. Parameters: quantity_quote
// (default 100).
func MACDHandler(input HandlerInput) (*Signal, error) {
	candle, ok := last(input.Candles)
	if !ok {
		return nil, nil
	}
	series := input.Indicators["macd"]
	if len(series) < 2 {
		return nil, nil
	}
	curr := series[len(series)-1]
	prev := series[len(series)-2]

	currHist, ok1 := curr.Values["histogram"]
	prevHist, ok2 := prev.Values["histogram"]
	if !ok1 || !ok2 {
		return nil, nil
	}

	snapshot := map[string]any{
		"macd":      mustFloat(curr.Values["macd"]),
		"signal":    mustFloat(curr.Values["signal"]),
		"histogram": mustFloat(currHist),
	}

	crossedUp := prevHist.LessThanOrEqual(decimal.Zero) && currHist.GreaterThan(decimal.Zero)
	crossedDown := prevHist.GreaterThanOrEqual(decimal.Zero) && currHist.LessThan(decimal.Zero)

	if input.CurrentPosition != nil {
		if crossedDown {
			qty := input.CurrentPosition.Quantity
			return &Signal{
				Symbol: input.Symbol, Action: ActionSell, Price: candle.Close, Quantity: &qty,
				Confidence:         decimal.NewFromFloat(0.65),
				IndicatorsSnapshot: snapshot,
				Reasoning:          "macd: histogram crossed below zero, exiting",
			}, nil
		}
		return &Signal{
			Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
			IndicatorsSnapshot: snapshot, Reasoning: "macd: histogram still positive, holding",
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
			Confidence:         decimal.NewFromFloat(0.65),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("macd: histogram crossed above zero (%.4f), entering", mustFloat(currHist)),
		}, nil
	}

	return nil, nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
