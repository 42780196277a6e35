package strategy

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/candlestore"
	"github.com/aristath/sentinel-core/internal/scheduler"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := OpenRepository(filepath.Join(t.TempDir(), "strategy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newTestSignalStore(t *testing.T, repo *Repository) *SignalStore {
	t.Helper()
	s, err := OpenSignalStore(repo.db)
	require.NoError(t, err)
	return s
}

func newTestCandleStore(t *testing.T) *candlestore.Store {
	t.Helper()
	s, err := candlestore.Open(filepath.Join(t.TempDir(), "candles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func syntheticCandles(n int, start float64, symbol string, tf candlestore.Timeframe) []candlestore.Candle {
	out := make([]candlestore.Candle, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		open := price
		price += 1.0
		if i%7 == 0 {
			price -= 4.0
		}
		closeP := price
		high := closeP + 1
		low := open - 1
		if low > closeP {
			low = closeP - 0.5
		}
		out[i] = candlestore.Candle{
			Symbol: symbol, Timeframe: tf, TsOpen: base.Add(time.Duration(i) * time.Hour),
			Open: decimal.NewFromFloat(open), High: decimal.NewFromFloat(high),
			Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(closeP),
			Volume: decimal.NewFromFloat(1000),
		}
	}
	return out
}

func TestRepository_CreateAndStatusTransitions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s, err := repo.Create(ctx, Strategy{Owner: "u1", Type: "rsi", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)
	require.Equal(t, StatusInactive, s.Status)
	require.NotEmpty(t, s.ID)

	require.NoError(t, repo.UpdateStatus(ctx, s.ID, StatusActive))
	loaded, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, loaded.Status)

	require.NoError(t, repo.SetJobID(ctx, s.ID, "job-123"))
	loaded, err = repo.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "job-123", loaded.JobID)
}

func TestRepository_CreateRejectsMissingFields(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Create(context.Background(), Strategy{Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.Error(t, err)
}

func TestRepository_ListActiveFiltersByStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, Strategy{Type: "rsi", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Strategy{Type: "macd", Symbol: "ETHUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, a.ID, StatusActive))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, a.ID, active[0].ID)
}

func TestSignalStore_AppendAndRecentForStrategy(t *testing.T) {
	repo := newTestRepo(t)
	store := newTestSignalStore(t, repo)
	ctx := context.Background()

	qty := decimal.NewFromFloat(0.01)
	_, err := store.Append(ctx, Signal{StrategyID: "s1", Symbol: "BTCUSDT", Action: ActionBuy, Price: decimal.NewFromFloat(50000), Quantity: &qty, Reasoning: "test"})
	require.NoError(t, err)
	_, err = store.Append(ctx, Signal{StrategyID: "s1", Symbol: "BTCUSDT", Action: ActionHold, Price: decimal.NewFromFloat(50500)})
	require.NoError(t, err)

	recent, err := store.RecentForStrategy(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, ActionHold, recent[0].Action, "newest first")
	require.NotNil(t, recent[1].Quantity)
}

func TestExecutor_Tick_PersistsSignalAndUpdatesCounters(t *testing.T) {
	candles := newTestCandleStore(t)
	repo := newTestRepo(t)
	signals := newTestSignalStore(t, repo)
	handlers := NewHandlerRegistry()
	RegisterBuiltins(handlers)

	ctx := context.Background()
	for _, c := range syntheticCandles(60, 100, "BTCUSDT", candlestore.Tf1h) {
		_, err := candles.UpsertCandle(ctx, c)
		require.NoError(t, err)
	}

	st, err := repo.Create(ctx, Strategy{Type: "dca", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h, Parameters: map[string]any{"amount_quote": 50.0}})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, st.ID, StatusActive))

	exec := &Executor{Store: candles, Repo: repo, Signals: signals, Handlers: handlers}
	require.NoError(t, exec.Tick(ctx, st.ID))

	recent, err := signals.RecentForStrategy(ctx, st.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, ActionBuy, recent[0].Action)

	loaded, err := repo.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.TotalSignals)
}

func TestExecutor_Tick_SkipsInactiveStrategies(t *testing.T) {
	candles := newTestCandleStore(t)
	repo := newTestRepo(t)
	signals := newTestSignalStore(t, repo)
	handlers := NewHandlerRegistry()
	RegisterBuiltins(handlers)

	ctx := context.Background()
	st, err := repo.Create(ctx, Strategy{Type: "dca", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)

	exec := &Executor{Store: candles, Repo: repo, Signals: signals, Handlers: handlers}
	require.NoError(t, exec.Tick(ctx, st.ID)) // StatusInactive, no-op

	recent, err := signals.RecentForStrategy(ctx, st.ID, 10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestExecutor_Tick_UnregisteredHandlerReturnsNotFound(t *testing.T) {
	candles := newTestCandleStore(t)
	repo := newTestRepo(t)
	signals := newTestSignalStore(t, repo)
	handlers := NewHandlerRegistry()

	ctx := context.Background()
	st, err := repo.Create(ctx, Strategy{Type: "nonexistent", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, st.ID, StatusActive))

	exec := &Executor{Store: candles, Repo: repo, Signals: signals, Handlers: handlers}
	err = exec.Tick(ctx, st.ID)
	require.Error(t, err)
}

// recordingScheduler is a fake JobScheduler: it fabricates a job ID per
// AddJob call and counts invocations, enough to assert Manager's
// create-once / resume-on-restart behavior without a real C6 scheduler.
type recordingScheduler struct {
	addCalls    int
	pauseCalls  int
	resumeCalls int
	removeCalls int
	nextID      int
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{}
}

func (r *recordingScheduler) AddJob(ctx context.Context, name, handler string, args map[string]any, trigger scheduler.Trigger, enabled bool) (scheduler.Job, error) {
	r.addCalls++
	r.nextID++
	return scheduler.Job{ID: fmt.Sprintf("job-%d", r.nextID), Name: name, Handler: handler}, nil
}

func (r *recordingScheduler) Pause(ctx context.Context, jobID string) error {
	r.pauseCalls++
	return nil
}

func (r *recordingScheduler) Resume(ctx context.Context, jobID string) error {
	r.resumeCalls++
	return nil
}

func (r *recordingScheduler) Remove(ctx context.Context, jobID string) error {
	r.removeCalls++
	return nil
}

func TestManager_StartCreatesJobAndPersistsJobID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	st, err := repo.Create(ctx, Strategy{Type: "rsi", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)

	sched := newRecordingScheduler()
	mgr := &Manager{Repo: repo, Scheduler: sched}
	require.NoError(t, mgr.Start(ctx, st.ID))

	loaded, err := repo.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, loaded.Status)
	require.NotEmpty(t, loaded.JobID)
	require.Equal(t, 1, sched.addCalls)
}

func TestManager_PauseThenResumeReusesExistingJob(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	st, err := repo.Create(ctx, Strategy{Type: "rsi", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)

	sched := newRecordingScheduler()
	mgr := &Manager{Repo: repo, Scheduler: sched}
	require.NoError(t, mgr.Start(ctx, st.ID))
	require.NoError(t, mgr.Pause(ctx, st.ID))

	loaded, err := repo.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, loaded.Status)
	require.Equal(t, 1, sched.pauseCalls)

	require.NoError(t, mgr.Resume(ctx, st.ID))
	loaded, err = repo.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, loaded.Status)
	require.Equal(t, 1, sched.resumeCalls)
	require.Equal(t, 1, sched.addCalls, "resume must not create a second job")
}

func TestManager_StopRemovesJob(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	st, err := repo.Create(ctx, Strategy{Type: "rsi", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)

	sched := newRecordingScheduler()
	mgr := &Manager{Repo: repo, Scheduler: sched}
	require.NoError(t, mgr.Start(ctx, st.ID))
	require.NoError(t, mgr.Stop(ctx, st.ID))

	loaded, err := repo.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInactive, loaded.Status)
	require.Equal(t, 1, sched.removeCalls)
}

func TestManager_CannotPauseInactiveStrategy(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	st, err := repo.Create(ctx, Strategy{Type: "rsi", Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h})
	require.NoError(t, err)

	mgr := &Manager{Repo: repo, Scheduler: newRecordingScheduler()}
	require.Error(t, mgr.Pause(ctx, st.ID))
}
