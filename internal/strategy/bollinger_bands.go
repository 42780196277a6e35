package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BollingerBandsHandler is a direct generalization of the teacher's
// bollinger strategy: buy when price touches or pierces the lower
// band (oversold per C4's overbought/oversold flags), exit when it
// touches the upper band. Parameters: quantity_quote (default 100).
func BollingerBandsHandler(input HandlerInput) (*Signal, error) {
	candle, ok := last(input.Candles)
	if !ok {
		return nil, nil
	}
	sample, ok := lastIndicator(input.Indicators["bollinger_bands"])
	if !ok {
		return nil, nil
	}

	snapshot := map[string]any{
		"upper":  mustFloat(sample.Values["upper"]),
		"middle": mustFloat(sample.Values["middle"]),
		"lower":  mustFloat(sample.Values["lower"]),
	}

	if input.CurrentPosition != nil {
		if sample.Overbought {
			qty := input.CurrentPosition.Quantity
			return &Signal{
				Symbol: input.Symbol, Action: ActionSell, Price: candle.Close, Quantity: &qty,
				Confidence:         decimal.NewFromFloat(0.6),
				IndicatorsSnapshot: snapshot,
				Reasoning:          "bollinger_bands: price at or above upper band, exiting",
			}, nil
		}
		return &Signal{
			Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
			IndicatorsSnapshot: snapshot, Reasoning: "bollinger_bands: price inside bands, holding",
		}, nil
	}

	if sample.Oversold {
		amountQuote := decimal.NewFromFloat(paramFloat(input.Parameters, "quantity_quote", 100))
		if candle.Close.LessThanOrEqual(decimal.Zero) {
			return nil, nil
		}
		qty := amountQuote.Div(candle.Close)
		return &Signal{
			Symbol: input.Symbol, Action: ActionBuy, Price: candle.Close, Quantity: &qty,
			Confidence:         decimal.NewFromFloat(0.6),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("bollinger_bands: price %s at or below lower band %.4f, entering", candle.Close.String(), mustFloat(sample.Values["lower"])),
		}, nil
	}

	return nil, nil
}
