package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// GridTradingHandler lays buy orders at fixed percentage steps below
// the current average entry and takes profit a fixed percentage
// above it, adding to the position as price falls and exiting fully
// once the take-profit step is reached. Parameters: grid_step_pct
// (default 0.02), take_profit_pct (default 0.05), quantity_quote.
func GridTradingHandler(input HandlerInput) (*Signal, error) {
	candle, ok := last(input.Candles)
	if !ok {
		return nil, nil
	}

	gridStep := decimal.NewFromFloat(paramFloat(input.Parameters, "grid_step_pct", 0.02))
	takeProfit := decimal.NewFromFloat(paramFloat(input.Parameters, "take_profit_pct", 0.05))
	amountQuote := decimal.NewFromFloat(paramFloat(input.Parameters, "quantity_quote", 100))

	if input.CurrentPosition == nil {
		if candle.Close.LessThanOrEqual(decimal.Zero) {
			return nil, nil
		}
		qty := amountQuote.Div(candle.Close)
		return &Signal{
			Symbol: input.Symbol, Action: ActionBuy, Price: candle.Close, Quantity: &qty,
			Confidence: decimal.NewFromFloat(0.5),
			Reasoning:  "grid_trading: no open position, seeding the grid",
		}, nil
	}

	entry := input.CurrentPosition.AvgEntryPrice
	if entry.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	changePct := candle.Close.Sub(entry).Div(entry)

	snapshot := map[string]any{"avg_entry": mustFloat(entry), "change_pct": mustFloat(changePct)}

	if changePct.GreaterThanOrEqual(takeProfit) {
		qty := input.CurrentPosition.Quantity
		return &Signal{
			Symbol: input.Symbol, Action: ActionSell, Price: candle.Close, Quantity: &qty,
			Confidence:         decimal.NewFromFloat(0.6),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("grid_trading: price up %.2f%% from entry, take-profit step hit", mustFloat(changePct)*100),
		}, nil
	}

	if changePct.LessThanOrEqual(gridStep.Neg()) {
		if candle.Close.LessThanOrEqual(decimal.Zero) {
			return nil, nil
		}
		qty := amountQuote.Div(candle.Close)
		return &Signal{
			Symbol: input.Symbol, Action: ActionBuy, Price: candle.Close, Quantity: &qty,
			Confidence:         decimal.NewFromFloat(0.5),
			IndicatorsSnapshot: snapshot,
			Reasoning:          fmt.Sprintf("grid_trading: price down %.2f%% from entry, adding to the grid", mustFloat(changePct)*100),
		}, nil
	}

	return &Signal{
		Symbol: input.Symbol, Action: ActionHold, Price: candle.Close,
		IndicatorsSnapshot: snapshot, Reasoning: "grid_trading: price between grid steps, holding",
	}, nil
}
