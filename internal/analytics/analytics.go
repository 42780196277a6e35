// Package analytics computes performance metrics from closed
// paper-trading fills: win rate, P&L, drawdown, Sharpe ratio, profit
// factor, and a per-portfolio breakdown. Grounded on the teacher's
// internal/analytics.Analyze, adapted from round-trip TradeRecords
// (entry+exit pair) to C9's single-fill paper.Trade model — only
// sells carry a RealizedPnL, so Analyze works off those; hold-time
// metrics don't survive the adaptation since a fill has one
// timestamp, not an entry/exit pair.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/paper"
)

// PerformanceReport holds all computed performance metrics.
type PerformanceReport struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percentage (0-100)

	TotalPnL    float64
	AveragePnL  float64
	GrossProfit float64
	GrossLoss   float64

	MaxDrawdown    float64 // absolute drawdown
	MaxDrawdownPct float64 // percentage drawdown from peak
	SharpeRatio    float64 // annualized
	ProfitFactor   float64 // gross profit / gross loss

	PortfolioReports map[string]*PortfolioReport
}

// PortfolioReport holds per-portfolio performance metrics.
type PortfolioReport struct {
	PortfolioID   string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalPnL      float64
	AveragePnL    float64
}

// Analyze computes the full performance report from a slice of
// trades. Only trades with a non-nil RealizedPnL (closing sells) are
// counted; buys and partial position increases don't realize P&L and
// are skipped. initialCapital anchors the drawdown curve. Returns an
// empty, non-nil report if no trade realizes any P&L.
func Analyze(trades []paper.Trade, initialCapital decimal.Decimal) *PerformanceReport {
	report := &PerformanceReport{PortfolioReports: make(map[string]*PortfolioReport)}

	closed := make([]paper.Trade, 0, len(trades))
	for _, t := range trades {
		if t.RealizedPnL != nil {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return report
	}

	sort.Slice(closed, func(i, j int) bool { return closed[i].Ts.Before(closed[j].Ts) })

	pnls := make([]float64, 0, len(closed))
	for _, t := range closed {
		pnl, _ := t.RealizedPnL.Float64()
		pnls = append(pnls, pnl)

		report.TotalTrades++
		report.TotalPnL += pnl
		if pnl > 0 {
			report.WinningTrades++
			report.GrossProfit += pnl
		} else if pnl < 0 {
			report.LosingTrades++
			report.GrossLoss += math.Abs(pnl)
		}

		pr, ok := report.PortfolioReports[t.PortfolioID]
		if !ok {
			pr = &PortfolioReport{PortfolioID: t.PortfolioID}
			report.PortfolioReports[t.PortfolioID] = pr
		}
		pr.TotalTrades++
		pr.TotalPnL += pnl
		if pnl > 0 {
			pr.WinningTrades++
		} else if pnl < 0 {
			pr.LosingTrades++
		}
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)

	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	capital, _ := initialCapital.Float64()
	equity := capital
	peak := equity
	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			if peak > 0 {
				report.MaxDrawdownPct = (dd / peak) * 100
			}
		}
	}

	report.SharpeRatio = computeSharpeRatio(pnls)

	for _, pr := range report.PortfolioReports {
		if pr.TotalTrades > 0 {
			pr.WinRate = float64(pr.WinningTrades) / float64(pr.TotalTrades) * 100
			pr.AveragePnL = pr.TotalPnL / float64(pr.TotalTrades)
		}
	}

	return report
}

// FormatReport returns a human-readable text summary of the performance report.
func FormatReport(report *PerformanceReport) string {
	if report == nil || report.TotalTrades == 0 {
		return "No closed trades to analyze."
	}

	var b strings.Builder
	b.WriteString("── TRADE SUMMARY ──\n")
	fmt.Fprintf(&b, "  Total trades:    %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "  Winning trades:  %d (%.1f%%)\n", report.WinningTrades, report.WinRate)
	fmt.Fprintf(&b, "  Losing trades:   %d\n", report.LosingTrades)
	b.WriteString("\n── PROFIT & LOSS ──\n")
	fmt.Fprintf(&b, "  Total P&L:       %.2f\n", report.TotalPnL)
	fmt.Fprintf(&b, "  Average P&L:     %.2f\n", report.AveragePnL)
	fmt.Fprintf(&b, "  Gross profit:    %.2f\n", report.GrossProfit)
	fmt.Fprintf(&b, "  Gross loss:      %.2f\n", report.GrossLoss)
	fmt.Fprintf(&b, "  Profit factor:   %.2f\n", report.ProfitFactor)
	b.WriteString("\n── RISK METRICS ──\n")
	fmt.Fprintf(&b, "  Max drawdown:    %.2f (%.2f%%)\n", report.MaxDrawdown, report.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Sharpe ratio:    %.2f\n", report.SharpeRatio)

	if len(report.PortfolioReports) > 1 {
		b.WriteString("\n── PORTFOLIO BREAKDOWN ──\n")
		for _, pr := range report.PortfolioReports {
			fmt.Fprintf(&b, "  [%s]\n", pr.PortfolioID)
			fmt.Fprintf(&b, "    Trades: %d | Win rate: %.1f%% | P&L: %.2f\n", pr.TotalTrades, pr.WinRate, pr.TotalPnL)
		}
	}

	return b.String()
}

// computeSharpeRatio calculates the annualized Sharpe ratio from a
// slice of per-trade P&L values, assuming zero risk-free rate and 252
// trading days per year.
func computeSharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		diff := p - mean
		variance += diff * diff
	}
	variance /= float64(len(pnls) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	return (mean / stdDev) * math.Sqrt(252)
}
