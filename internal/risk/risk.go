// Package risk implements pre-trade guardrails that sit in front of
// the trading router: position sizing, exposure caps, and daily-loss
// limits that apply regardless of which strategy or API caller placed
// the order. Grounded on the teacher's internal/risk.Manager — same
// "collect every rejection, approve only if the list stays empty"
// validation shape — generalized from float64 equities amounts to
// decimal.Decimal and from sector concentration to quote-asset
// concentration (BTCUSDT/ETHUSDT/... grouped by their quote asset
// instead of an exchange-provided sector code, since spot crypto pairs
// carry no sector classification).
package risk

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/paper"
)

// Intent is a proposed buy a caller wants validated before it reaches
// the trading router. StopLoss is optional: callers that haven't
// decided a stop yet (the strategy executor dispatches signals with no
// stop-loss field of their own) get every rule evaluated except the
// two that need a stop distance to mean anything.
type Intent struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	StopLoss *decimal.Decimal
}

// RejectionReason explains why a rule failed.
type RejectionReason struct {
	Rule    string
	Message string
}

func (r RejectionReason) Error() string {
	return fmt.Sprintf("risk: rejected [%s] %s", r.Rule, r.Message)
}

// ValidationResult is the outcome of Validate: approved only if no
// rule rejected the intent.
type ValidationResult struct {
	Approved   bool
	Intent     Intent
	Rejections []RejectionReason
}

// Limits configures the thresholds Manager enforces. Zero-value fields
// disable that rule, matching the teacher's "0 means unlimited"
// convention in config.CircuitBreakerConfig.
type Limits struct {
	MaxRiskPerTradePct      float64
	MaxOpenPositions        int
	MaxDailyLossPct         float64
	MaxCapitalDeploymentPct float64
	MaxPerQuoteAsset        int
}

// Manager is the final gatekeeper before an order reaches the trading
// router. It is deliberately strict: every BUY intent runs through all
// applicable rules, and any single rejection blocks the trade even if
// others pass.
type Manager struct {
	mu           sync.RWMutex
	limits       Limits
	totalCapital decimal.Decimal
}

func NewManager(limits Limits, totalCapital decimal.Decimal) *Manager {
	return &Manager{limits: limits, totalCapital: totalCapital}
}

// UpdateCapital replaces the capital base used for percentage-based
// limits, called whenever the portfolio's total value is refreshed.
func (m *Manager) UpdateCapital(totalCapital decimal.Decimal) {
	if totalCapital.LessThanOrEqual(decimal.Zero) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCapital = totalCapital
}

// UpdateLimits replaces the configured limits atomically, for config
// hot-reload without restarting the process.
func (m *Manager) UpdateLimits(limits Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = limits
}

// Validate checks a BUY intent against every configured rule.
// openPositions is the portfolio's currently active positions;
// realizedPnL/unrealizedPnL feed the daily-loss check; availableCapital
// is the portfolio's free cash.
func (m *Manager) Validate(intent Intent, openPositions []paper.Position, realizedPnL, unrealizedPnL, availableCapital decimal.Decimal) ValidationResult {
	m.mu.RLock()
	limits, capital := m.limits, m.totalCapital
	m.mu.RUnlock()

	result := ValidationResult{Approved: true, Intent: intent}

	checkStopLoss(&result, intent)
	checkMaxRiskPerTrade(&result, intent, limits, capital)
	checkMaxOpenPositions(&result, intent, openPositions, limits)
	checkMaxDailyLoss(&result, realizedPnL, unrealizedPnL, limits, capital)
	checkMaxCapitalDeployment(&result, intent, openPositions, limits, capital)
	checkPositionSize(&result, intent, availableCapital)
	checkQuoteAssetConcentration(&result, intent, openPositions, limits)

	return result
}

func checkStopLoss(result *ValidationResult, intent Intent) {
	if intent.StopLoss == nil {
		return
	}
	if intent.StopLoss.GreaterThanOrEqual(intent.Price) {
		reject(result, "INVALID_STOP_LOSS", fmt.Sprintf(
			"stop loss %s must be below entry price %s", intent.StopLoss.String(), intent.Price.String(),
		))
	}
}

func checkMaxRiskPerTrade(result *ValidationResult, intent Intent, limits Limits, capital decimal.Decimal) {
	if intent.StopLoss == nil || limits.MaxRiskPerTradePct <= 0 {
		return
	}
	riskPerUnit := intent.Price.Sub(*intent.StopLoss)
	totalRisk := riskPerUnit.Mul(intent.Quantity)
	maxAllowed := capital.Mul(decimal.NewFromFloat(limits.MaxRiskPerTradePct / 100.0))

	if totalRisk.GreaterThan(maxAllowed) {
		reject(result, "MAX_RISK_PER_TRADE", fmt.Sprintf(
			"trade risk %s exceeds max allowed %s (%.2f%% of %s)",
			totalRisk.String(), maxAllowed.String(), limits.MaxRiskPerTradePct, capital.String(),
		))
	}
}

func checkMaxOpenPositions(result *ValidationResult, intent Intent, positions []paper.Position, limits Limits) {
	for _, pos := range positions {
		if pos.Symbol == intent.Symbol {
			reject(result, "DUPLICATE_POSITION", fmt.Sprintf("already have an open position in %s", intent.Symbol))
			return
		}
	}
	if limits.MaxOpenPositions > 0 && len(positions) >= limits.MaxOpenPositions {
		reject(result, "MAX_OPEN_POSITIONS", fmt.Sprintf("at position limit: %d/%d", len(positions), limits.MaxOpenPositions))
	}
}

func checkMaxDailyLoss(result *ValidationResult, realizedPnL, unrealizedPnL decimal.Decimal, limits Limits, capital decimal.Decimal) {
	if limits.MaxDailyLossPct <= 0 {
		return
	}
	total := realizedPnL.Add(unrealizedPnL)
	maxLoss := capital.Mul(decimal.NewFromFloat(limits.MaxDailyLossPct / 100.0))

	if total.IsNegative() && total.Neg().GreaterThanOrEqual(maxLoss) {
		reject(result, "MAX_DAILY_LOSS", fmt.Sprintf("loss %s has reached limit %s", total.Neg().String(), maxLoss.String()))
	}
}

func checkMaxCapitalDeployment(result *ValidationResult, intent Intent, positions []paper.Position, limits Limits, capital decimal.Decimal) {
	if limits.MaxCapitalDeploymentPct <= 0 {
		return
	}
	deployed := decimal.Zero
	for _, pos := range positions {
		deployed = deployed.Add(pos.AvgEntryPrice.Mul(pos.Quantity))
	}
	proposed := deployed.Add(intent.Price.Mul(intent.Quantity))
	maxDeployment := capital.Mul(decimal.NewFromFloat(limits.MaxCapitalDeploymentPct / 100.0))

	if proposed.GreaterThan(maxDeployment) {
		reject(result, "MAX_CAPITAL_DEPLOYMENT", fmt.Sprintf(
			"total deployment %s would exceed limit %s (%.2f%% of %s)",
			proposed.String(), maxDeployment.String(), limits.MaxCapitalDeploymentPct, capital.String(),
		))
	}
}

func checkPositionSize(result *ValidationResult, intent Intent, availableCapital decimal.Decimal) {
	cost := intent.Price.Mul(intent.Quantity)
	if cost.GreaterThan(availableCapital) {
		reject(result, "INSUFFICIENT_CAPITAL", fmt.Sprintf("trade cost %s exceeds available capital %s", cost.String(), availableCapital.String()))
	}
}

func checkQuoteAssetConcentration(result *ValidationResult, intent Intent, positions []paper.Position, limits Limits) {
	if limits.MaxPerQuoteAsset <= 0 {
		return
	}
	quote := QuoteAssetOf(intent.Symbol)
	if quote == "" {
		return
	}
	count := 0
	for _, pos := range positions {
		if QuoteAssetOf(pos.Symbol) == quote {
			count++
		}
	}
	if count >= limits.MaxPerQuoteAsset {
		reject(result, "MAX_QUOTE_ASSET_CONCENTRATION", fmt.Sprintf(
			"already have %d positions quoted in %s (max %d)", count, quote, limits.MaxPerQuoteAsset,
		))
	}
}

// knownQuoteAssets lists quote assets in longest-first order so
// "USDT" is tried before a shorter false match.
var knownQuoteAssets = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "BNB"}

// QuoteAssetOf returns the quote asset a spot symbol like "BTCUSDT" is
// denominated in, or "" if none of the known quote assets match.
func QuoteAssetOf(symbol string) string {
	for _, quote := range knownQuoteAssets {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return quote
		}
	}
	return ""
}

func reject(result *ValidationResult, rule, message string) {
	result.Approved = false
	result.Rejections = append(result.Rejections, RejectionReason{Rule: rule, Message: message})
}
