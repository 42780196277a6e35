// Package main is the entry point for the sentinel-core trading
// server. It wires every component into one process:
//
//  1. Loads configuration, applies env overrides, and validates it
//  2. Opens the per-concern sqlite stores (candles, collector config,
//     strategy config, scheduler jobs, execution log, paper ledger)
//  3. Constructs the exchange adapter, symbol registry, collector,
//     risk manager, paper engine, trading router, and strategy
//     executor, and wires them together through their narrow seams
//  4. Registers scheduler job handlers and starts the scheduler
//  5. Serves a small HTTP API (status, portfolio, metrics, websocket
//     push) and, if enabled, the order-postback webhook listener
//  6. Watches the config file for hot-reloadable tuning changes
//  7. Shuts everything down cleanly on SIGINT/SIGTERM
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/aristath/sentinel-core/internal/analytics"
	"github.com/aristath/sentinel-core/internal/candlestore"
	"github.com/aristath/sentinel-core/internal/collector"
	"github.com/aristath/sentinel-core/internal/config"
	"github.com/aristath/sentinel-core/internal/exchange"
	"github.com/aristath/sentinel-core/internal/execlog"
	"github.com/aristath/sentinel-core/internal/paper"
	"github.com/aristath/sentinel-core/internal/realtime"
	"github.com/aristath/sentinel-core/internal/risk"
	"github.com/aristath/sentinel-core/internal/scheduler"
	"github.com/aristath/sentinel-core/internal/strategy"
	"github.com/aristath/sentinel-core/internal/symbols"
	"github.com/aristath/sentinel-core/internal/trading"
	"github.com/aristath/sentinel-core/internal/webhook"
	pkglogger "github.com/aristath/sentinel-core/pkg/logger"
)

const (
	defaultInitialCapital = 10000
	collectHandlerName    = "collect_candles"
	tickHandlerName       = "strategy_tick"
	markToMarketHandler   = "mark_to_market"
	markToMarketJobName   = "mark_to_market:default"
	collectJobPrefix      = "collect:"
	portfolioIDFile       = "default_portfolio.id"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := pkglogger.New(pkglogger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Str("exchange", cfg.ActiveExchange).Str("mode", string(cfg.TradingMode)).Msg("config loaded")

	requireLiveConfirmation(cfg, *confirmLive, log)

	dataDir := dataDirFor(cfg.DatabasePath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", dataDir).Msg("create data directory")
	}

	candleStore, err := candlestore.Open(filepath.Join(dataDir, "candles.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open candle store")
	}
	defer candleStore.Close()

	adapter, err := exchange.New(cfg.ActiveExchange, exchangeConfigFor(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("exchange", cfg.ActiveExchange).Msg("construct exchange adapter")
	}

	symbolRegistry := symbols.New(adapter, cfg.Cache.SymbolTTL)

	hub := realtime.NewHub(staticTokenVerifier(os.Getenv("SENTINEL_API_TOKEN")), pkglogger.Component(log, "realtime"))

	collectorCfgRepo, err := collector.OpenConfigRepository(filepath.Join(dataDir, "collector.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open collector config repository")
	}
	defer collectorCfgRepo.Close()

	coll := collector.New(adapter, candleStore, hub, pkglogger.Component(log, "collector"))

	schedRepo, err := scheduler.OpenRepository(filepath.Join(dataDir, "scheduler.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open scheduler repository")
	}
	defer schedRepo.Close()

	execStore, err := execlog.Open(filepath.Join(dataDir, "execlog.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open execution log store")
	}
	defer execStore.Close()

	sched := scheduler.New(schedRepo, execStore, scheduler.BackendKind(cfg.Scheduler.Backend), cfg.Scheduler.WorkerPoolSize, pkglogger.Component(log, "scheduler"))

	strategyRepo, err := strategy.OpenRepository(filepath.Join(dataDir, "strategies.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open strategy repository")
	}
	defer strategyRepo.Close()

	signalStore, err := openSignalStore(filepath.Join(dataDir, "strategies.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open signal store")
	}

	handlers := strategy.NewHandlerRegistry()
	strategy.RegisterBuiltins(handlers)

	paperRepo, err := paper.OpenRepository(filepath.Join(dataDir, "paper.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open paper repository")
	}
	defer paperRepo.Close()

	paperEngine := &paper.Engine{Repo: paperRepo, Prices: candleStorePriceSource{candleStore}}

	riskMgr := risk.NewManager(risk.Limits{
		MaxRiskPerTradePct:      cfg.Risk.MaxRiskPerTradePct,
		MaxOpenPositions:        cfg.Risk.MaxOpenPositions,
		MaxDailyLossPct:         cfg.Risk.MaxDailyLossPct,
		MaxCapitalDeploymentPct: cfg.Risk.MaxCapitalDeploymentPct,
		MaxPerQuoteAsset:        cfg.Risk.MaxPerQuoteAsset,
	}, decimal.NewFromInt(defaultInitialCapital))

	router := &trading.Router{Paper: paperEngine}
	dispatcher := trading.StrategyOrderDispatcher{
		Router:         router,
		Mode:           trading.Mode(cfg.TradingMode),
		CommissionRate: decimal.NewFromFloat(cfg.CommissionRate),
		Risk:           riskMgr,
		Positions:      paperRepo,
	}

	executor := &strategy.Executor{
		Store:      candleStore,
		Repo:       strategyRepo,
		Signals:    signalStore,
		Handlers:   handlers,
		Portfolios: paper.StrategyPortfolioReader{Repo: paperRepo},
		Orders:     dispatcher,
		Notify:     hub,
		Log:        pkglogger.Component(log, "executor"),
	}

	strategyMgr := &strategy.Manager{Repo: strategyRepo, Scheduler: sched}
	_ = strategyMgr // held for future admin-surfaced start/pause/stop; not yet exposed over HTTP

	ctx := context.Background()
	portfolioID, err := ensureDefaultPortfolio(ctx, paperRepo, dataDir, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve default portfolio")
	}
	seedCollectionJob(ctx, sched, collectorCfgRepo, symbolRegistry, log)

	sched.RegisterHandler(collectHandlerName, collectHandler(coll, collectorCfgRepo))
	sched.RegisterHandler(tickHandlerName, strategy.NewTickHandler(executor))
	sched.RegisterHandler(markToMarketHandler, markToMarketHandlerFunc(paperEngine, riskMgr, portfolioID, decimal.NewFromFloat(cfg.CommissionRate)))

	if _, err := sched.AddJob(ctx, markToMarketJobName, markToMarketHandler, nil, scheduler.IntervalTrigger{Secs: 60}, true); err != nil {
		log.Warn().Err(err).Msg("seed mark-to-market job")
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	watcher := config.NewWatcher(*configPath, cfg, pkglogger.Component(log, "config_watcher"))
	watcher.OnChange(func(old, new *config.Config) {
		riskMgr.UpdateLimits(risk.Limits{
			MaxRiskPerTradePct:      new.Risk.MaxRiskPerTradePct,
			MaxOpenPositions:        new.Risk.MaxOpenPositions,
			MaxDailyLossPct:         new.Risk.MaxDailyLossPct,
			MaxCapitalDeploymentPct: new.Risk.MaxCapitalDeploymentPct,
			MaxPerQuoteAsset:        new.Risk.MaxPerQuoteAsset,
		})
	})
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("config watcher not started")
	} else {
		defer watcher.Stop()
	}

	apiSrv := newAPIServer(cfg, paperRepo, hub, portfolioID, log)

	var whSrv *webhook.Server
	if cfg.Webhook.Enabled {
		whSrv = webhook.NewServer(webhook.Config{Port: cfg.Webhook.Port, Path: cfg.Webhook.Path, Enabled: true}, pkglogger.Component(log, "webhook"))
		whSrv.OnOrderUpdate(func(update webhook.OrderUpdate) {
			log.Info().Str("order_id", update.OrderID).Str("status", string(update.Status)).Msg("order update received")
		})
		if err := whSrv.Start(); err != nil {
			log.Fatal().Err(err).Msg("start webhook server")
		}
	}

	signalCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().Int("port", cfg.Port).Msg("api server starting")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	<-signalCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sched.Shutdown(shutdownCtx)
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown")
	}
	if whSrv != nil {
		if err := whSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("webhook server shutdown")
		}
	}
	log.Info().Msg("stopped")
}

// requireLiveConfirmation enforces the double-confirmation gate before
// any order can be routed to a real exchange: the --confirm-live flag
// alone is not enough, the ALGO_LIVE_CONFIRMED=true environment
// variable must also be set. Either one missing blocks startup.
func requireLiveConfirmation(cfg *config.Config, confirmLive bool, log zerolog.Logger) {
	if cfg.TradingMode != config.ModeLive {
		log.Info().Msg("PAPER MODE — simulated orders only, no real money at risk")
		return
	}

	envConfirmed := os.Getenv("ALGO_LIVE_CONFIRMED") == "true"
	if confirmLive && envConfirmed {
		log.Warn().Msg("LIVE MODE ACTIVE — real orders will be placed on the exchange")
		return
	}

	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "  ╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "  ║                    ⚠  LIVE MODE BLOCKED  ⚠                ║")
	fmt.Fprintln(os.Stderr, "  ╠═══════════════════════════════════════════════════════════╣")
	fmt.Fprintln(os.Stderr, "  ║  Live trading requires TWO explicit confirmations:       ║")
	fmt.Fprintln(os.Stderr, "  ║                                                           ║")
	fmt.Fprintln(os.Stderr, "  ║  1. CLI flag:   --confirm-live                            ║")
	fmt.Fprintln(os.Stderr, "  ║  2. Env var:    ALGO_LIVE_CONFIRMED=true                  ║")
	fmt.Fprintln(os.Stderr, "  ║                                                           ║")
	fmt.Fprintln(os.Stderr, "  ║  Example:                                                 ║")
	fmt.Fprintln(os.Stderr, "  ║  ALGO_LIVE_CONFIRMED=true go run ./cmd/server \\            ║")
	fmt.Fprintln(os.Stderr, "  ║    --config config/config.json --confirm-live             ║")
	fmt.Fprintln(os.Stderr, "  ╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(os.Stderr, "")
	if !confirmLive {
		fmt.Fprintln(os.Stderr, "  MISSING: --confirm-live flag")
	}
	if !envConfirmed {
		fmt.Fprintln(os.Stderr, "  MISSING: ALGO_LIVE_CONFIRMED=true environment variable")
	}
	fmt.Fprintln(os.Stderr, "")
	os.Exit(1)
}

// dataDirFor turns the single configured database path into the
// directory that holds one sqlite file per component: every store in
// this module owns its own file (candles, collector config, strategy
// config, scheduler jobs, execution log, paper ledger) rather than
// sharing one schema, so database_path names a directory, not a file.
// A path that still looks like a single file (".../sentinel.db") is
// accepted too, by dropping its extension.
func dataDirFor(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return strings.TrimSuffix(path, ext)
	}
	return path
}

func exchangeConfigFor(cfg *config.Config) []byte {
	if raw, ok := cfg.ExchangeConfig[cfg.ActiveExchange]; ok {
		return raw
	}
	return []byte("{}")
}

func openSignalStore(path string) (*strategy.SignalStore, error) {
	db, err := sqlOpen(path)
	if err != nil {
		return nil, err
	}
	return strategy.OpenSignalStore(db)
}

// ensureDefaultPortfolio returns the ID of the system's default paper
// portfolio, creating it on first run. CreatePortfolio always assigns
// its own UUID (an operator can never forge a portfolio's identity),
// so the generated ID is cached in a sidecar file next to the other
// per-component sqlite stores and reused across restarts.
func ensureDefaultPortfolio(ctx context.Context, repo *paper.Repository, dataDir string, cfg *config.Config, log zerolog.Logger) (string, error) {
	idPath := filepath.Join(dataDir, portfolioIDFile)

	if raw, err := os.ReadFile(idPath); err == nil {
		id := strings.TrimSpace(string(raw))
		if _, err := repo.GetPortfolio(ctx, id); err == nil {
			return id, nil
		}
		log.Warn().Str("portfolio_id", id).Msg("cached default portfolio not found, recreating")
	}

	capital := decimal.NewFromInt(defaultInitialCapital)
	pf, err := repo.CreatePortfolio(ctx, paper.Portfolio{
		Owner:          "system",
		Mode:           paper.Mode(cfg.TradingMode),
		InitialCapital: capital,
	})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(idPath, []byte(pf.ID), 0o644); err != nil {
		return "", err
	}
	log.Info().Str("portfolio_id", pf.ID).Msg("default portfolio created")
	return pf.ID, nil
}

// seedCollectionJob registers a single candle-collection config for
// the exchange's most liquid USDT pair if none exists yet, so a fresh
// deployment has market data flowing without manual setup. Operators
// add further symbols through collectorCfgRepo directly.
func seedCollectionJob(ctx context.Context, sched *scheduler.Scheduler, repo *collector.ConfigRepository, reg *symbols.Registry, log zerolog.Logger) {
	existing, err := repo.ListEnabled(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("list collection configs")
		return
	}
	if len(existing) > 0 {
		for _, dc := range existing {
			addCollectJob(ctx, sched, dc, log)
		}
		return
	}

	top, err := reg.PopularByVolume(ctx, "USDT", 1)
	if err != nil || len(top) == 0 {
		log.Warn().Err(err).Msg("no symbol available to seed collection job")
		return
	}

	dc, err := repo.Create(ctx, collector.DataCollectionConfig{
		Symbol:          top[0].Symbol,
		Timeframes:      []candlestore.Timeframe{candlestore.Tf1h, candlestore.Tf1d},
		IntervalSeconds: 300,
		Enabled:         true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("seed collection config")
		return
	}
	addCollectJob(ctx, sched, dc, log)
}

func addCollectJob(ctx context.Context, sched *scheduler.Scheduler, dc collector.DataCollectionConfig, log zerolog.Logger) {
	interval := dc.IntervalSeconds
	if interval <= 0 {
		interval = 300
	}
	_, err := sched.AddJob(ctx, collectJobPrefix+dc.Symbol, collectHandlerName,
		map[string]any{"config_id": dc.ID}, scheduler.IntervalTrigger{Secs: interval}, dc.Enabled)
	if err != nil {
		log.Warn().Err(err).Str("symbol", dc.Symbol).Msg("add collection job")
	}
}

// collectHandler adapts Collector.Collect into a scheduler.Handler:
// the job's args carry the DataCollectionConfig's ID, looked up fresh
// each run so an operator's edits to timeframes and candle limit take
// effect on the next fire. The interval is fixed in the job's trigger
// when addCollectJob runs; editing it does not reschedule the job.
func collectHandler(coll *collector.Collector, repo *collector.ConfigRepository) scheduler.Handler {
	return func(ctx context.Context, args map[string]any, progress chan<- int) (scheduler.Outcome, error) {
		id, _ := args["config_id"].(string)
		cfg, err := repo.Get(ctx, id)
		if err != nil {
			return scheduler.Outcome{}, err
		}
		result, err := coll.Collect(ctx, cfg)
		if err != nil {
			return scheduler.Outcome{}, err
		}
		return scheduler.Outcome{
			Records:  result.RecordsCollected,
			Metadata: map[string]any{"symbol": result.Symbol, "indicators_updated": result.IndicatorsUpdated},
		}, nil
	}
}

// markToMarketHandlerFunc periodically revalues the default portfolio
// against latest prices and feeds its capital back into the risk
// manager, so MaxCapitalDeploymentPct and MaxRiskPerTradePct track the
// book's actual size rather than the value it opened with.
func markToMarketHandlerFunc(engine *paper.Engine, riskMgr *risk.Manager, portfolioID string, commissionRate decimal.Decimal) scheduler.Handler {
	return func(ctx context.Context, args map[string]any, progress chan<- int) (scheduler.Outcome, error) {
		pf, err := engine.MarkToMarket(ctx, portfolioID, commissionRate)
		if err != nil {
			return scheduler.Outcome{}, err
		}
		riskMgr.UpdateCapital(pf.TotalValue())
		return scheduler.Outcome{Records: 1, Metadata: map[string]any{"total_value": pf.TotalValue().String()}}, nil
	}
}

// candleStorePriceSource adapts candlestore.Store into paper.PriceSource.
type candleStorePriceSource struct {
	store *candlestore.Store
}

func (p candleStorePriceSource) LatestClose(ctx context.Context, symbol string) (decimal.Decimal, error) {
	candle, err := p.store.LatestCandle(ctx, symbol, candlestore.Tf1h)
	if err != nil {
		return decimal.Zero, err
	}
	return candle.Close, nil
}

// staticTokenVerifier is a minimal realtime.AuthVerifier: a single
// shared bearer token, read once at startup. A deployment wanting
// per-user tokens supplies its own AuthVerifier; this keeps the
// zero-config path working out of the box.
type staticTokenVerifier string

func (t staticTokenVerifier) VerifyToken(token string) (string, bool) {
	if string(t) == "" || token != string(t) {
		return "", false
	}
	return "operator", true
}

// newAPIServer builds the small HTTP surface the old cmd/dashboard
// exposed — portfolio, open positions, performance metrics, health,
// and the authenticated websocket feed — generalized from the
// teacher's float64/single-book responses onto C9's decimal,
// multi-portfolio model.
func newAPIServer(cfg *config.Config, repo *paper.Repository, hub *realtime.Hub, portfolioID string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now()})
	})

	mux.HandleFunc("/api/portfolio", func(w http.ResponseWriter, r *http.Request) {
		pf, err := repo.GetPortfolio(r.Context(), portfolioID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, pf)
	})

	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		positions, err := repo.ListActivePositions(r.Context(), portfolioID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"positions": positions, "count": len(positions)})
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		pf, err := repo.GetPortfolio(r.Context(), portfolioID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		trades, err := repo.RecentTrades(r.Context(), portfolioID, 1000)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		report := analytics.Analyze(trades, pf.InitialCapital)
		writeJSON(w, http.StatusOK, report)
	})

	mux.Handle("/ws", realtime.NewHandler(hub, pkglogger.Component(log, "ws")))

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sqlOpen opens a second, independent *sql.DB onto the sqlite file
// strategy.Repository already owns, so SignalStore can use the same
// file without Repository exposing its *sql.DB field.
func sqlOpen(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}
