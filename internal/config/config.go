// Package config provides application-wide configuration management.
// Configuration is loaded from a JSON file and overridden by environment
// variables (including a .env file); it is never hardcoded in a
// component's business logic.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Mode controls whether the system routes orders to the paper engine
// or to a live exchange adapter.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// SchedulerBackend selects which scheduler.Backend implementation runs.
type SchedulerBackend string

const (
	BackendInProcess    SchedulerBackend = "inprocess"
	BackendOutOfProcess SchedulerBackend = "outofprocess"
)

// Config holds all system configuration.
// Loaded once at startup and passed as read-only to all components.
type Config struct {
	LogLevel string `json:"log_level"`
	Port     int    `json:"port"`

	// TradingMode controls whether orders are actually placed (live) or simulated (paper).
	TradingMode  Mode   `json:"trading_mode"`
	DatabasePath string `json:"database_path"`

	// ActiveExchange selects which exchange adapter implementation to use.
	ActiveExchange string                     `json:"active_exchange"`
	ExchangeConfig map[string]json.RawMessage `json:"exchange_config"`

	CommissionRate float64 `json:"commission_rate"` // e.g. 0.001 = 0.1%

	Scheduler SchedulerConfig `json:"scheduler"`
	Retention RetentionConfig `json:"retention"`
	Cache     CacheConfig     `json:"cache"`
	Webhook   WebhookConfig   `json:"webhook"`
	Risk      RiskConfig      `json:"risk"`
}

// RiskConfig controls the pre-trade guardrails internal/risk enforces
// in front of the trading router. A zero value for any percentage or
// count field disables that particular rule.
type RiskConfig struct {
	MaxRiskPerTradePct      float64 `json:"max_risk_per_trade_pct"`
	MaxOpenPositions        int     `json:"max_open_positions"`
	MaxDailyLossPct         float64 `json:"max_daily_loss_pct"`
	MaxCapitalDeploymentPct float64 `json:"max_capital_deployment_pct"`
	MaxPerQuoteAsset        int     `json:"max_per_quote_asset"`
}

// SchedulerConfig controls the durable job scheduler.
type SchedulerConfig struct {
	Backend              SchedulerBackend `json:"backend"`
	WorkerPoolSize       int              `json:"worker_pool_size"`
	DefaultMaxInstances  int              `json:"default_max_instances"`
	DefaultMisfireGraceS int              `json:"default_misfire_grace_s"`
}

// RetentionConfig controls how long historical rows are kept.
type RetentionConfig struct {
	CandlesDays    int `json:"candles_days"`
	IndicatorsDays int `json:"indicators_days"`
	SignalsDays    int `json:"signals_days"`
	JobLogsDays    int `json:"job_logs_days"`
}

// CacheConfig controls TTL-bounded caches such as the symbol registry.
type CacheConfig struct {
	SymbolTTL time.Duration `json:"symbol_ttl"`
}

// WebhookConfig holds settings for the order postback HTTP server.
type WebhookConfig struct {
	// Enabled controls whether the webhook server starts.
	Enabled bool `json:"enabled"`

	// Port is the HTTP port the webhook server listens on.
	Port int `json:"port"`

	// Path is the URL path for the postback endpoint.
	Path string `json:"path"`
}

// Load reads configuration from a JSON file, then applies .env and
// environment variable overrides, then validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with the documented defaults filled in.
func Default() Config {
	return Config{
		LogLevel:       "info",
		Port:           8080,
		TradingMode:    ModePaper,
		CommissionRate: 0.001,
		Scheduler: SchedulerConfig{
			Backend:              BackendInProcess,
			WorkerPoolSize:       20,
			DefaultMaxInstances:  3,
			DefaultMisfireGraceS: 60,
		},
		Retention: RetentionConfig{
			CandlesDays:    30,
			IndicatorsDays: 30,
			SignalsDays:    30,
			JobLogsDays:    30,
		},
		Cache: CacheConfig{
			SymbolTTL: time.Hour,
		},
		Webhook: WebhookConfig{
			Path: "/webhook/order",
		},
		Risk: RiskConfig{
			MaxRiskPerTradePct:      1.0,
			MaxOpenPositions:        10,
			MaxDailyLossPct:         3.0,
			MaxCapitalDeploymentPct: 80.0,
			MaxPerQuoteAsset:        5,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("SENTINEL_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("SENTINEL_ACTIVE_EXCHANGE"); v != "" {
		cfg.ActiveExchange = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SENTINEL_SCHEDULER_BACKEND"); v != "" {
		cfg.Scheduler.Backend = SchedulerBackend(v)
	}
}

// Validate checks that all required configuration fields are present
// and sane, with stricter safety caps applied in live mode.
func (c *Config) Validate() error {
	if c.ActiveExchange == "" {
		return fmt.Errorf("active_exchange is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.CommissionRate < 0 || c.CommissionRate > 1 {
		return fmt.Errorf("commission_rate must be in [0,1], got %f", c.CommissionRate)
	}
	if c.Scheduler.Backend != BackendInProcess && c.Scheduler.Backend != BackendOutOfProcess {
		return fmt.Errorf("scheduler.backend must be 'inprocess' or 'outofprocess', got %q", c.Scheduler.Backend)
	}
	if c.Scheduler.WorkerPoolSize <= 0 {
		return fmt.Errorf("scheduler.worker_pool_size must be positive, got %d", c.Scheduler.WorkerPoolSize)
	}

	// Live mode has stricter requirements to prevent accidental real trading.
	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks before real money moves.
func (c *Config) validateLiveMode() error {
	if c.ExchangeConfig == nil {
		return fmt.Errorf("exchange_config is required for live trading")
	}
	if _, ok := c.ExchangeConfig[c.ActiveExchange]; !ok {
		return fmt.Errorf("exchange_config[%q] is required for live trading", c.ActiveExchange)
	}
	return nil
}
