package paper

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/apperrors"
)

// Repository persists portfolios, positions, trades, and balances in
// one sqlite file, the same single-store-per-concern layout C8's
// strategy repository uses.
type Repository struct {
	db *sql.DB
}

func OpenRepository(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "paper: create db dir", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "paper: open db", err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "paper: ping db", err)
	}
	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS portfolios (
			id              TEXT PRIMARY KEY,
			owner           TEXT NOT NULL,
			mode            TEXT NOT NULL DEFAULT 'paper',
			initial_capital TEXT NOT NULL,
			cash            TEXT NOT NULL,
			invested_value  TEXT NOT NULL DEFAULT '0',
			realized_pnl    TEXT NOT NULL DEFAULT '0',
			unrealized_pnl  TEXT NOT NULL DEFAULT '0',
			total_pnl       TEXT NOT NULL DEFAULT '0',
			max_drawdown    TEXT NOT NULL DEFAULT '0',
			total_trades    INTEGER NOT NULL DEFAULT 0,
			winning_trades  INTEGER NOT NULL DEFAULT 0,
			losing_trades   INTEGER NOT NULL DEFAULT 0,
			win_rate        TEXT NOT NULL DEFAULT '0',
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			id              TEXT PRIMARY KEY,
			portfolio_id    TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			quantity        TEXT NOT NULL,
			avg_entry_price TEXT NOT NULL,
			total_cost      TEXT NOT NULL,
			current_price   TEXT NOT NULL DEFAULT '0',
			market_value    TEXT NOT NULL DEFAULT '0',
			unrealized_pnl  TEXT NOT NULL DEFAULT '0',
			stop_loss       TEXT,
			take_profit     TEXT,
			active          INTEGER NOT NULL DEFAULT 1,
			opened_at       INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_portfolio_symbol_active
			ON positions(portfolio_id, symbol) WHERE active = 1;
		CREATE TABLE IF NOT EXISTS trades (
			id                TEXT PRIMARY KEY,
			portfolio_id      TEXT NOT NULL,
			position_id       TEXT NOT NULL DEFAULT '',
			symbol            TEXT NOT NULL,
			side              TEXT NOT NULL,
			quantity          TEXT NOT NULL,
			price             TEXT NOT NULL,
			total_value       TEXT NOT NULL,
			fee               TEXT NOT NULL,
			net_cost          TEXT NOT NULL,
			realized_pnl      TEXT,
			realized_pnl_pct  TEXT,
			order_type        TEXT NOT NULL,
			status            TEXT NOT NULL,
			ts                INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_portfolio_ts ON trades(portfolio_id, ts);
		CREATE TABLE IF NOT EXISTS balances (
			portfolio_id TEXT NOT NULL,
			asset        TEXT NOT NULL,
			free         TEXT NOT NULL DEFAULT '0',
			locked       TEXT NOT NULL DEFAULT '0',
			total        TEXT NOT NULL DEFAULT '0',
			usd_value    TEXT NOT NULL DEFAULT '0',
			PRIMARY KEY (portfolio_id, asset)
		);
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "paper: migrate", err)
	}
	return nil
}

// CreatePortfolio inserts a new portfolio seeded with initial_capital
// as both initial_capital and cash.
func (r *Repository) CreatePortfolio(ctx context.Context, p Portfolio) (Portfolio, error) {
	if p.Owner == "" {
		return Portfolio{}, apperrors.New(apperrors.BadRequest, "paper: owner is required")
	}
	if p.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return Portfolio{}, apperrors.New(apperrors.BadRequest, "paper: initial_capital must be positive")
	}
	if p.Mode == "" {
		p.Mode = ModePaper
	}
	p.ID = uuid.NewString()
	p.Cash = p.InitialCapital
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	if err := r.savePortfolio(ctx, r.db, p); err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

func (r *Repository) GetPortfolio(ctx context.Context, id string) (Portfolio, error) {
	return getPortfolio(ctx, r.db, id)
}

func getPortfolio(ctx context.Context, q querier, id string) (Portfolio, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, owner, mode, initial_capital, cash, invested_value, realized_pnl, unrealized_pnl,
		       total_pnl, max_drawdown, total_trades, winning_trades, losing_trades, win_rate, created_at, updated_at
		FROM portfolios WHERE id = ?`, id)

	var p Portfolio
	var mode, initCap, cash, invested, realized, unrealized, total, drawdown, winRate string
	var createdUnix, updatedUnix int64
	err := row.Scan(&p.ID, &p.Owner, &mode, &initCap, &cash, &invested, &realized, &unrealized,
		&total, &drawdown, &p.TotalTrades, &p.WinningTrades, &p.LosingTrades, &winRate, &createdUnix, &updatedUnix)
	if err == sql.ErrNoRows {
		return Portfolio{}, apperrors.New(apperrors.NotFound, "paper: portfolio not found")
	}
	if err != nil {
		return Portfolio{}, apperrors.Wrap(apperrors.Internal, "paper: scan portfolio", err)
	}
	p.Mode = Mode(mode)
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{{&p.InitialCapital, initCap}, {&p.Cash, cash}, {&p.InvestedValue, invested},
		{&p.RealizedPnL, realized}, {&p.UnrealizedPnL, unrealized}, {&p.TotalPnL, total},
		{&p.MaxDrawdown, drawdown}, {&p.WinRate, winRate}} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return Portfolio{}, apperrors.Wrap(apperrors.Internal, "paper: decode decimal", err)
		}
		*pair.dst = d
	}
	p.CreatedAt = time.Unix(createdUnix, 0).UTC()
	p.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return p, nil
}

func (r *Repository) savePortfolio(ctx context.Context, e execer, p Portfolio) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := e.ExecContext(ctx, `
		INSERT INTO portfolios
		(id, owner, mode, initial_capital, cash, invested_value, realized_pnl, unrealized_pnl, total_pnl,
		 max_drawdown, total_trades, winning_trades, losing_trades, win_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cash = excluded.cash, invested_value = excluded.invested_value,
			realized_pnl = excluded.realized_pnl, unrealized_pnl = excluded.unrealized_pnl,
			total_pnl = excluded.total_pnl, max_drawdown = excluded.max_drawdown,
			total_trades = excluded.total_trades, winning_trades = excluded.winning_trades,
			losing_trades = excluded.losing_trades, win_rate = excluded.win_rate,
			updated_at = excluded.updated_at`,
		p.ID, p.Owner, string(p.Mode), p.InitialCapital.String(), p.Cash.String(), p.InvestedValue.String(),
		p.RealizedPnL.String(), p.UnrealizedPnL.String(), p.TotalPnL.String(), p.MaxDrawdown.String(),
		p.TotalTrades, p.WinningTrades, p.LosingTrades, p.WinRate.String(), p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "paper: save portfolio", err)
	}
	return nil
}

// getActivePosition returns the open position for (portfolioID, symbol),
// or nil if none exists. Each (portfolio, symbol) has at most one
// active position, enforced by the partial unique index.
func getActivePosition(ctx context.Context, q querier, portfolioID, symbol string) (*Position, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, portfolio_id, symbol, quantity, avg_entry_price, total_cost, current_price, market_value,
		       unrealized_pnl, stop_loss, take_profit, active, opened_at, updated_at
		FROM positions WHERE portfolio_id = ? AND symbol = ? AND active = 1`, portfolioID, symbol)
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "paper: scan position", err)
	}
	return &pos, nil
}

func listActivePositions(ctx context.Context, q querier, portfolioID string) ([]Position, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, portfolio_id, symbol, quantity, avg_entry_price, total_cost, current_price, market_value,
		       unrealized_pnl, stop_loss, take_profit, active, opened_at, updated_at
		FROM positions WHERE portfolio_id = ? AND active = 1`, portfolioID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "paper: list positions", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "paper: scan position", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

type rowLike interface {
	Scan(dest ...any) error
}

func scanPosition(row rowLike) (Position, error) {
	var pos Position
	var qty, avg, cost, current, mv, unrealized string
	var stopLoss, takeProfit sql.NullString
	var active int
	var openedUnix, updatedUnix int64

	err := row.Scan(&pos.ID, &pos.PortfolioID, &pos.Symbol, &qty, &avg, &cost, &current, &mv,
		&unrealized, &stopLoss, &takeProfit, &active, &openedUnix, &updatedUnix)
	if err != nil {
		return Position{}, err
	}
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{{&pos.Quantity, qty}, {&pos.AvgEntryPrice, avg}, {&pos.TotalCost, cost},
		{&pos.CurrentPrice, current}, {&pos.MarketValue, mv}, {&pos.UnrealizedPnL, unrealized}} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return Position{}, err
		}
		*pair.dst = d
	}
	if stopLoss.Valid {
		d, err := decimal.NewFromString(stopLoss.String)
		if err != nil {
			return Position{}, err
		}
		pos.StopLoss = &d
	}
	if takeProfit.Valid {
		d, err := decimal.NewFromString(takeProfit.String)
		if err != nil {
			return Position{}, err
		}
		pos.TakeProfit = &d
	}
	pos.Active = active != 0
	pos.OpenedAt = time.Unix(openedUnix, 0).UTC()
	pos.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return pos, nil
}

func savePosition(ctx context.Context, e execer, pos Position) error {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	pos.UpdatedAt = time.Now().UTC()
	var stopLoss, takeProfit sql.NullString
	if pos.StopLoss != nil {
		stopLoss = sql.NullString{String: pos.StopLoss.String(), Valid: true}
	}
	if pos.TakeProfit != nil {
		takeProfit = sql.NullString{String: pos.TakeProfit.String(), Valid: true}
	}
	active := 0
	if pos.Active {
		active = 1
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO positions
		(id, portfolio_id, symbol, quantity, avg_entry_price, total_cost, current_price, market_value,
		 unrealized_pnl, stop_loss, take_profit, active, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity, avg_entry_price = excluded.avg_entry_price,
			total_cost = excluded.total_cost, current_price = excluded.current_price,
			market_value = excluded.market_value, unrealized_pnl = excluded.unrealized_pnl,
			stop_loss = excluded.stop_loss, take_profit = excluded.take_profit,
			active = excluded.active, updated_at = excluded.updated_at`,
		pos.ID, pos.PortfolioID, pos.Symbol, pos.Quantity.String(), pos.AvgEntryPrice.String(), pos.TotalCost.String(),
		pos.CurrentPrice.String(), pos.MarketValue.String(), pos.UnrealizedPnL.String(), stopLoss, takeProfit,
		active, pos.OpenedAt.Unix(), pos.UpdatedAt.Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "paper: save position", err)
	}
	return nil
}

func insertTrade(ctx context.Context, e execer, t Trade) (Trade, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Ts.IsZero() {
		t.Ts = time.Now().UTC()
	}
	var realizedPnL, realizedPct sql.NullString
	if t.RealizedPnL != nil {
		realizedPnL = sql.NullString{String: t.RealizedPnL.String(), Valid: true}
	}
	if t.RealizedPnLPct != nil {
		realizedPct = sql.NullString{String: t.RealizedPnLPct.String(), Valid: true}
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO trades
		(id, portfolio_id, position_id, symbol, side, quantity, price, total_value, fee, net_cost,
		 realized_pnl, realized_pnl_pct, order_type, status, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PortfolioID, t.PositionID, t.Symbol, string(t.Side), t.Quantity.String(), t.Price.String(),
		t.TotalValue.String(), t.Fee.String(), t.NetCost.String(), realizedPnL, realizedPct,
		string(t.OrderType), t.Status, t.Ts.Unix())
	if err != nil {
		return Trade{}, apperrors.Wrap(apperrors.Internal, "paper: insert trade", err)
	}
	return t, nil
}

// GetActivePosition returns the open position for (portfolioID,
// symbol), or nil if none exists.
func (r *Repository) GetActivePosition(ctx context.Context, portfolioID, symbol string) (*Position, error) {
	return getActivePosition(ctx, r.db, portfolioID, symbol)
}

// ListActivePositions returns every open position in a portfolio.
func (r *Repository) ListActivePositions(ctx context.Context, portfolioID string) ([]Position, error) {
	return listActivePositions(ctx, r.db, portfolioID)
}

// RecentTrades returns the most recent trades for a portfolio, newest
// first, capped at limit.
func (r *Repository) RecentTrades(ctx context.Context, portfolioID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, portfolio_id, position_id, symbol, side, quantity, price, total_value, fee, net_cost,
		       realized_pnl, realized_pnl_pct, order_type, status, ts
		FROM trades WHERE portfolio_id = ? ORDER BY ts DESC LIMIT ?`, portfolioID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "paper: query trades", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var side, qty, price, totalValue, fee, netCost, orderType string
		var realizedPnL, realizedPct sql.NullString
		var tsUnix int64
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.PositionID, &t.Symbol, &side, &qty, &price, &totalValue,
			&fee, &netCost, &realizedPnL, &realizedPct, &orderType, &t.Status, &tsUnix); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "paper: scan trade", err)
		}
		t.Side = Side(side)
		t.OrderType = OrderType(orderType)
		t.Ts = time.Unix(tsUnix, 0).UTC()
		for _, pair := range []struct {
			dst *decimal.Decimal
			src string
		}{{&t.Quantity, qty}, {&t.Price, price}, {&t.TotalValue, totalValue}, {&t.Fee, fee}, {&t.NetCost, netCost}} {
			d, err := decimal.NewFromString(pair.src)
			if err != nil {
				return nil, err
			}
			*pair.dst = d
		}
		if realizedPnL.Valid {
			d, err := decimal.NewFromString(realizedPnL.String)
			if err != nil {
				return nil, err
			}
			t.RealizedPnL = &d
		}
		if realizedPct.Valid {
			d, err := decimal.NewFromString(realizedPct.String)
			if err != nil {
				return nil, err
			}
			t.RealizedPnLPct = &d
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertBalance writes a (portfolio, asset) ledger line, enforcing
// total = free + locked at write time rather than trusting the caller.
func (r *Repository) UpsertBalance(ctx context.Context, b Balance) error {
	b.Total = b.Free.Add(b.Locked)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO balances (portfolio_id, asset, free, locked, total, usd_value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, asset) DO UPDATE SET
			free = excluded.free, locked = excluded.locked, total = excluded.total, usd_value = excluded.usd_value`,
		b.PortfolioID, b.Asset, b.Free.String(), b.Locked.String(), b.Total.String(), b.USDValue.String())
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "paper: upsert balance", err)
	}
	return nil
}

// GetBalance returns one (portfolio, asset) ledger line, or a zeroed
// Balance if none has been recorded yet.
func (r *Repository) GetBalance(ctx context.Context, portfolioID, asset string) (Balance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT free, locked, total, usd_value FROM balances WHERE portfolio_id = ? AND asset = ?`, portfolioID, asset)
	var free, locked, total, usd string
	err := row.Scan(&free, &locked, &total, &usd)
	if err == sql.ErrNoRows {
		return Balance{PortfolioID: portfolioID, Asset: asset, Free: decimal.Zero, Locked: decimal.Zero, Total: decimal.Zero, USDValue: decimal.Zero}, nil
	}
	if err != nil {
		return Balance{}, apperrors.Wrap(apperrors.Internal, "paper: scan balance", err)
	}
	b := Balance{PortfolioID: portfolioID, Asset: asset}
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{{&b.Free, free}, {&b.Locked, locked}, {&b.Total, total}, {&b.USDValue, usd}} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return Balance{}, err
		}
		*pair.dst = d
	}
	return b, nil
}

// querier and execer narrow *sql.DB and *sql.Tx to exactly what the
// package-level helpers above need, so every helper works unmodified
// inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
