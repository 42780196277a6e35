package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
	"github.com/aristath/sentinel-core/internal/exchange"
)

func newTestStore(t *testing.T) *candlestore.Store {
	t.Helper()
	s, err := candlestore.Open(filepath.Join(t.TempDir(), "candles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRepo(t *testing.T) *ConfigRepository {
	t.Helper()
	r, err := OpenConfigRepository(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

type fakeAdapter struct {
	exchange.Adapter
	klines     []candlestore.Candle
	failTimes  int // number of Transient failures before succeeding
	callsMade  int
	neverError bool
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) FetchKlines(ctx context.Context, symbol string, tf candlestore.Timeframe, limit int) ([]candlestore.Candle, error) {
	f.callsMade++
	if !f.neverError && f.callsMade <= f.failTimes {
		return nil, apperrors.New(apperrors.Transient, "rate limited")
	}
	return f.klines, nil
}

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(topic string, data any) { p.published = append(p.published, topic) }

func dec(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func sampleCandles() []candlestore.Candle {
	return []candlestore.Candle{{
		Symbol: "BTCUSDT", Timeframe: candlestore.Tf1h, TsOpen: time.Unix(1700000000, 0).UTC(),
		Open: dec("100"), High: dec("110"), Low: dec("90"), Close: dec("105"), Volume: dec("10"),
	}}
}

func TestCollect_UpsertsCandlesAndRecomputesIndicators(t *testing.T) {
	store := newTestStore(t)
	adapter := &fakeAdapter{klines: sampleCandles(), neverError: true}
	pub := &fakePublisher{}
	c := New(adapter, store, pub, zerolog.Nop())

	cfg := DataCollectionConfig{Symbol: "BTCUSDT", Timeframes: []candlestore.Timeframe{candlestore.Tf1h}, IntervalSeconds: 60}
	result, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, result.RecordsCollected)
	require.Contains(t, result.TimeframesRun, candlestore.Tf1h)
	require.Contains(t, pub.published, "market_data")

	latest, err := store.LatestCandle(context.Background(), "BTCUSDT", candlestore.Tf1h)
	require.NoError(t, err)
	require.True(t, latest.Close.Equal(dec("105")))
}

func TestCollect_DedupsOnSecondRun(t *testing.T) {
	store := newTestStore(t)
	adapter := &fakeAdapter{klines: sampleCandles(), neverError: true}
	c := New(adapter, store, nil, zerolog.Nop())
	cfg := DataCollectionConfig{Symbol: "BTCUSDT", Timeframes: []candlestore.Timeframe{candlestore.Tf1h}, IntervalSeconds: 60}

	first, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, first.RecordsCollected)

	second, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 0, second.RecordsCollected, "re-ingesting the same candle must not insert a duplicate row")
}

func TestCollect_RetriesTransientFailuresThenSucceeds(t *testing.T) {
	store := newTestStore(t)
	adapter := &fakeAdapter{klines: sampleCandles(), failTimes: 2}
	c := New(adapter, store, nil, zerolog.Nop())
	cfg := DataCollectionConfig{Symbol: "BTCUSDT", Timeframes: []candlestore.Timeframe{candlestore.Tf1h}, IntervalSeconds: 60}

	result, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, result.RecordsCollected)
	require.Equal(t, 3, adapter.callsMade)
}

func TestCollect_GivesUpAfterExhaustingRetries(t *testing.T) {
	store := newTestStore(t)
	adapter := &fakeAdapter{klines: sampleCandles(), failTimes: 10}
	c := New(adapter, store, nil, zerolog.Nop())
	cfg := DataCollectionConfig{Symbol: "BTCUSDT", Timeframes: []candlestore.Timeframe{candlestore.Tf1h}, IntervalSeconds: 60}

	_, err := c.Collect(context.Background(), cfg)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.Transient))
	require.Equal(t, 3, adapter.callsMade)
}

func TestCollect_NonTransientFailureDoesNotRetry(t *testing.T) {
	store := newTestStore(t)
	adapter := &permanentFailAdapter{}
	c := New(adapter, store, nil, zerolog.Nop())
	cfg := DataCollectionConfig{Symbol: "BTCUSDT", Timeframes: []candlestore.Timeframe{candlestore.Tf1h}, IntervalSeconds: 60}

	_, err := c.Collect(context.Background(), cfg)
	require.Error(t, err)
	require.Equal(t, 1, adapter.calls)
}

type permanentFailAdapter struct {
	exchange.Adapter
	calls int
}

func (p *permanentFailAdapter) Name() string { return "fake" }
func (p *permanentFailAdapter) FetchKlines(ctx context.Context, symbol string, tf candlestore.Timeframe, limit int) ([]candlestore.Candle, error) {
	p.calls++
	return nil, apperrors.New(apperrors.BadRequest, "bad symbol")
}

func TestConfigRepository_CRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg, err := repo.Create(ctx, DataCollectionConfig{
		Symbol:          "ETHUSDT",
		Timeframes:      []candlestore.Timeframe{candlestore.Tf1h, candlestore.Tf1d},
		IntervalSeconds: 300,
		Enabled:         true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ID)

	got, err := repo.Get(ctx, cfg.ID)
	require.NoError(t, err)
	require.Equal(t, "ETHUSDT", got.Symbol)
	require.ElementsMatch(t, []candlestore.Timeframe{candlestore.Tf1h, candlestore.Tf1d}, got.Timeframes)

	got.Enabled = false
	require.NoError(t, repo.Update(ctx, got))

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Empty(t, enabled)

	require.NoError(t, repo.Delete(ctx, cfg.ID))
	_, err = repo.Get(ctx, cfg.ID)
	require.True(t, apperrors.Is(err, apperrors.NotFound))
}

func TestConfigRepository_CreateRejectsInvalid(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, DataCollectionConfig{Symbol: "", Timeframes: []candlestore.Timeframe{candlestore.Tf1h}, IntervalSeconds: 60})
	require.Error(t, err)

	_, err = repo.Create(ctx, DataCollectionConfig{Symbol: "BTCUSDT", IntervalSeconds: 60})
	require.Error(t, err)

	_, err = repo.Create(ctx, DataCollectionConfig{Symbol: "BTCUSDT", Timeframes: []candlestore.Timeframe{candlestore.Tf1h}, IntervalSeconds: 0})
	require.Error(t, err)
}
