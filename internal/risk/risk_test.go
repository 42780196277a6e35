package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/paper"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func testLimits() Limits {
	return Limits{
		MaxRiskPerTradePct:      1.0,
		MaxOpenPositions:        5,
		MaxDailyLossPct:         3.0,
		MaxCapitalDeploymentPct: 80.0,
		MaxPerQuoteAsset:        3,
	}
}

func TestRisk_SkipsStopLossRuleWhenNotProvided(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	intent := Intent{Symbol: "BTCUSDT", Price: dec(100), Quantity: dec(10)}

	result := mgr.Validate(intent, nil, decimal.Zero, decimal.Zero, dec(500000))
	require.True(t, result.Approved)
}

func TestRisk_RejectsStopLossAboveEntry(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	sl := dec(105)
	intent := Intent{Symbol: "BTCUSDT", Price: dec(100), Quantity: dec(10), StopLoss: &sl}

	result := mgr.Validate(intent, nil, decimal.Zero, decimal.Zero, dec(500000))
	require.False(t, result.Approved)
	require.Equal(t, "INVALID_STOP_LOSS", result.Rejections[0].Rule)
}

func TestRisk_RejectsExcessiveRiskPerTrade(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	sl := dec(50)
	// risk = (100-50)*200 = 10000 = 2% of 500000, limit is 1%.
	intent := Intent{Symbol: "BTCUSDT", Price: dec(100), Quantity: dec(200), StopLoss: &sl}

	result := mgr.Validate(intent, nil, decimal.Zero, decimal.Zero, dec(500000))
	require.False(t, result.Approved)
	require.Equal(t, "MAX_RISK_PER_TRADE", result.Rejections[0].Rule)
}

func TestRisk_RejectsExceedingMaxOpenPositions(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	positions := make([]paper.Position, 5)
	for i := range positions {
		positions[i] = paper.Position{Symbol: string(rune('A' + i))}
	}
	intent := Intent{Symbol: "NEWCOIN", Price: dec(100), Quantity: dec(10)}

	result := mgr.Validate(intent, positions, decimal.Zero, decimal.Zero, dec(500000))
	require.False(t, result.Approved)
	require.Equal(t, "MAX_OPEN_POSITIONS", result.Rejections[0].Rule)
}

func TestRisk_RejectsDuplicatePosition(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	positions := []paper.Position{{Symbol: "BTCUSDT", AvgEntryPrice: dec(100), Quantity: dec(10)}}
	intent := Intent{Symbol: "BTCUSDT", Price: dec(105), Quantity: dec(10)}

	result := mgr.Validate(intent, positions, decimal.Zero, decimal.Zero, dec(500000))
	require.False(t, result.Approved)
	require.Equal(t, "DUPLICATE_POSITION", result.Rejections[0].Rule)
}

func TestRisk_RejectsAtDailyLossLimit(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	intent := Intent{Symbol: "BTCUSDT", Price: dec(100), Quantity: dec(10)}

	// 3% of 500000 = 15000 realized loss.
	result := mgr.Validate(intent, nil, dec(-15000), decimal.Zero, dec(500000))
	require.False(t, result.Approved)
	require.Equal(t, "MAX_DAILY_LOSS", result.Rejections[0].Rule)
}

func TestRisk_RejectsMaxCapitalDeployment(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	positions := []paper.Position{{Symbol: "ETHUSDT", AvgEntryPrice: dec(3000), Quantity: dec(100)}} // 300000 deployed
	intent := Intent{Symbol: "BTCUSDT", Price: dec(50000), Quantity: dec(3)}                          // +150000 = 450000 > 80% of 500000

	result := mgr.Validate(intent, positions, decimal.Zero, decimal.Zero, dec(500000))
	require.False(t, result.Approved)
	require.Equal(t, "MAX_CAPITAL_DEPLOYMENT", result.Rejections[0].Rule)
}

func TestRisk_RejectsQuoteAssetConcentration(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	positions := []paper.Position{
		{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}, {Symbol: "SOLUSDT"},
	}
	intent := Intent{Symbol: "ADAUSDT", Price: dec(1), Quantity: dec(10)}

	result := mgr.Validate(intent, positions, decimal.Zero, decimal.Zero, dec(500000))
	require.False(t, result.Approved)
	require.Contains(t, rules(result), "MAX_QUOTE_ASSET_CONCENTRATION")
}

func TestRisk_ApprovesValidTrade(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	sl := dec(95)
	intent := Intent{Symbol: "BTCUSDT", Price: dec(100), Quantity: dec(50), StopLoss: &sl}

	result := mgr.Validate(intent, nil, decimal.Zero, decimal.Zero, dec(500000))
	require.True(t, result.Approved, "%v", result.Rejections)
}

func TestRisk_RejectsInsufficientCapital(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	sl := dec(95)
	intent := Intent{Symbol: "BTCUSDT", Price: dec(100), Quantity: dec(100), StopLoss: &sl}

	result := mgr.Validate(intent, nil, decimal.Zero, decimal.Zero, dec(5000))
	require.False(t, result.Approved)
	require.Contains(t, rules(result), "INSUFFICIENT_CAPITAL")
}

func TestRisk_UpdateCapitalIgnoresNonPositive(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	mgr.UpdateCapital(dec(-1))
	require.True(t, mgr.totalCapital.Equal(dec(500000)))
}

func TestRisk_UpdateLimitsTakesEffect(t *testing.T) {
	mgr := NewManager(testLimits(), dec(500000))
	mgr.UpdateLimits(Limits{})

	sl := dec(105)
	intent := Intent{Symbol: "BTCUSDT", Price: dec(100), Quantity: dec(1000000), StopLoss: &sl}
	result := mgr.Validate(intent, nil, decimal.Zero, decimal.Zero, dec(500000))
	// Only the always-on stop-loss-sanity and position-size rules remain.
	require.False(t, result.Approved)
	require.Equal(t, "INVALID_STOP_LOSS", result.Rejections[0].Rule)
}

func TestQuoteAssetOf(t *testing.T) {
	require.Equal(t, "USDT", QuoteAssetOf("BTCUSDT"))
	require.Equal(t, "BTC", QuoteAssetOf("ETHBTC"))
	require.Equal(t, "", QuoteAssetOf("XYZ"))
}

func rules(result ValidationResult) []string {
	out := make([]string, len(result.Rejections))
	for i, r := range result.Rejections {
		out[i] = r.Rule
	}
	return out
}
