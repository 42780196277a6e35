package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DCAHandler implements dollar-cost averaging: buy a fixed quote-asset
// amount every tick regardless of price, the simplest possible
// generalization of the teacher's parameter-bag-strategy idiom — no
// entry/exit branching, since DCA by definition never times the
// market. Parameters: amount_quote (default 100), max_position_quote
// (0 = unbounded) caps cumulative exposure.
func DCAHandler(input HandlerInput) (*Signal, error) {
	candle, ok := last(input.Candles)
	if !ok {
		return nil, nil
	}

	amountQuote := decimal.NewFromFloat(paramFloat(input.Parameters, "amount_quote", 100))
	maxPositionQuote := paramFloat(input.Parameters, "max_position_quote", 0)

	if maxPositionQuote > 0 && input.CurrentPosition != nil {
		invested := input.CurrentPosition.Quantity.Mul(input.CurrentPosition.AvgEntryPrice)
		if invested.GreaterThanOrEqual(decimal.NewFromFloat(maxPositionQuote)) {
			return &Signal{
				Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
				Reasoning: fmt.Sprintf("dca: position value %s already at or above max_position_quote %.2f", invested.String(), maxPositionQuote),
			}, nil
		}
	}

	if amountQuote.LessThanOrEqual(decimal.Zero) || candle.Close.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	qty := amountQuote.Div(candle.Close)

	return &Signal{
		Symbol:     input.Symbol,
		Action:     ActionBuy,
		Strength:   decimal.NewFromFloat(1),
		Confidence: decimal.NewFromFloat(1),
		Price:      candle.Close,
		Quantity:   &qty,
		Reasoning:  fmt.Sprintf("dca: scheduled buy of %s quote at %s", amountQuote.String(), candle.Close.String()),
	}, nil
}
