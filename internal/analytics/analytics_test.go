package analytics

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/paper"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func closedTrade(id int64, portfolioID, symbol string, realizedPnL float64, ts time.Time) paper.Trade {
	pnl := dec(realizedPnL)
	return paper.Trade{
		ID:          "t" + symbol,
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Side:        paper.SideSell,
		RealizedPnL: &pnl,
		Ts:          ts,
	}
}

func TestAnalyze_EmptyTrades(t *testing.T) {
	report := Analyze(nil, dec(500000))
	require.NotNil(t, report)
	require.Zero(t, report.TotalTrades)
	require.Zero(t, report.WinRate)
}

func TestAnalyze_SkipsTradesWithoutRealizedPnL(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buy := paper.Trade{ID: "buy1", PortfolioID: "p1", Symbol: "BTCUSDT", Side: paper.SideBuy, Ts: base}
	sell := closedTrade(2, "p1", "BTCUSDT", 100, base.Add(time.Hour))

	report := Analyze([]paper.Trade{buy, sell}, dec(500000))
	require.Equal(t, 1, report.TotalTrades)
}

func TestAnalyze_AllWins(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "RELIANCE", 100, base),
		closedTrade(2, "p1", "TCS", 100, base.Add(time.Hour)),
		closedTrade(3, "p1", "INFY", 80, base.Add(2*time.Hour)),
	}

	report := Analyze(trades, dec(500000))

	require.Equal(t, 3, report.TotalTrades)
	require.Equal(t, 3, report.WinningTrades)
	require.Zero(t, report.LosingTrades)
	require.Equal(t, 100.0, report.WinRate)
	require.Equal(t, 280.0, report.TotalPnL)
	require.Zero(t, report.MaxDrawdown)
}

func TestAnalyze_AllLosses(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "RELIANCE", -100, base),
		closedTrade(2, "p1", "TCS", -100, base.Add(time.Hour)),
	}

	report := Analyze(trades, dec(500000))

	require.Zero(t, report.WinRate)
	require.Equal(t, -200.0, report.TotalPnL)
	require.Equal(t, 200.0, report.MaxDrawdown)
	require.Zero(t, report.ProfitFactor)
}

func TestAnalyze_MixedTrades(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "WIN1", 200, base),
		closedTrade(2, "p1", "LOSS1", -100, base.Add(time.Hour)),
		closedTrade(3, "p1", "WIN2", 150, base.Add(2*time.Hour)),
		closedTrade(4, "p1", "LOSS2", -150, base.Add(3*time.Hour)),
	}

	report := Analyze(trades, dec(500000))

	require.Equal(t, 4, report.TotalTrades)
	require.Equal(t, 2, report.WinningTrades)
	require.Equal(t, 50.0, report.WinRate)
	require.Equal(t, 100.0, report.TotalPnL)
	require.Equal(t, 350.0, report.GrossProfit)
	require.Equal(t, 250.0, report.GrossLoss)
	require.InDelta(t, 1.4, report.ProfitFactor, 0.01)
}

func TestAnalyze_MaxDrawdown(t *testing.T) {
	// Equity: 500000 -> 500100 -> 499900 -> 499800 -> 500300
	// Peak 500100, trough 499800, drawdown 300.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "A", 100, base),
		closedTrade(2, "p1", "B", -200, base.Add(time.Hour)),
		closedTrade(3, "p1", "C", -100, base.Add(2*time.Hour)),
		closedTrade(4, "p1", "D", 500, base.Add(3*time.Hour)),
	}

	report := Analyze(trades, dec(500000))
	require.Equal(t, 300.0, report.MaxDrawdown)
}

func TestAnalyze_SharpeRatioZeroForConstantPnL(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "A", 100, base),
		closedTrade(2, "p1", "B", 100, base.Add(time.Hour)),
		closedTrade(3, "p1", "C", 100, base.Add(2*time.Hour)),
	}

	report := Analyze(trades, dec(500000))
	require.Zero(t, report.SharpeRatio)
}

func TestAnalyze_SharpeRatioPositiveForNetPositiveVariedReturns(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "A", 200, base),
		closedTrade(2, "p1", "B", -100, base.Add(time.Hour)),
		closedTrade(3, "p1", "C", 300, base.Add(2*time.Hour)),
		closedTrade(4, "p1", "D", -50, base.Add(3*time.Hour)),
	}

	report := Analyze(trades, dec(500000))
	require.Greater(t, report.SharpeRatio, 0.0)
}

func TestAnalyze_PortfolioBreakdown(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "A", 100, base),
		closedTrade(2, "p1", "B", 100, base.Add(time.Hour)),
		closedTrade(3, "p2", "C", 50, base.Add(2*time.Hour)),
		closedTrade(4, "p2", "D", -100, base.Add(3*time.Hour)),
	}

	report := Analyze(trades, dec(500000))
	require.Len(t, report.PortfolioReports, 2)

	p1 := report.PortfolioReports["p1"]
	require.NotNil(t, p1)
	require.Equal(t, 2, p1.TotalTrades)
	require.Equal(t, 100.0, p1.WinRate)

	p2 := report.PortfolioReports["p2"]
	require.NotNil(t, p2)
	require.Equal(t, 2, p2.TotalTrades)
	require.Equal(t, 50.0, p2.WinRate)
}

func TestFormatReport_EmptyTrades(t *testing.T) {
	report := Analyze(nil, dec(500000))
	formatted := FormatReport(report)
	require.True(t, strings.Contains(formatted, "No closed trades"))
}

func TestFormatReport_WithTrades(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{
		closedTrade(1, "p1", "A", 100, base),
		closedTrade(2, "p2", "B", -50, base.Add(time.Hour)),
	}

	report := Analyze(trades, dec(500000))
	formatted := FormatReport(report)

	require.True(t, strings.Contains(formatted, "TRADE SUMMARY"))
	require.True(t, strings.Contains(formatted, "Total trades"))
	require.True(t, strings.Contains(formatted, "PORTFOLIO BREAKDOWN"))
}

func TestAnalyze_ProfitFactorInfiniteWithNoLosses(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []paper.Trade{closedTrade(1, "p1", "A", 100, base)}

	report := Analyze(trades, dec(500000))
	require.True(t, math.IsInf(report.ProfitFactor, 1))
}
