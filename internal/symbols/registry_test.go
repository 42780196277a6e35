package symbols

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/exchange"
)

type fakeAdapter struct {
	exchange.Adapter
	infoCalls int32
	infos     []exchange.SymbolInfo
	tickers   []exchange.Ticker
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) FetchExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	atomic.AddInt32(&f.infoCalls, 1)
	time.Sleep(5 * time.Millisecond) // widen the race window for singleflight collapse test
	return f.infos, nil
}

func (f *fakeAdapter) Fetch24hTickers(ctx context.Context) ([]exchange.Ticker, error) {
	return f.tickers, nil
}

func qty(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func baseInfos() []exchange.SymbolInfo {
	return []exchange.SymbolInfo{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: "TRADING"},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Status: "TRADING"},
		{Symbol: "OLDCOIN", BaseAsset: "OLD", QuoteAsset: "USDT", Status: "HALT"},
	}
}

func TestValidate_KnownTradableSymbol(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, time.Hour)

	ok, err := r.Validate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidate_HaltedSymbolIsInvalid(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, time.Hour)

	ok, err := r.Validate(context.Background(), "OLDCOIN")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidate_UnknownSymbol(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, time.Hour)

	ok, err := r.Validate(context.Background(), "NOPE")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInfo_ReturnsNotFoundForUnknownSymbol(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, time.Hour)

	_, err := r.Info(context.Background(), "NOPE")
	require.Error(t, err)
}

func TestRefresh_OnlyOneVenueCallUnderConcurrentMisses(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, time.Hour)

	const n = 10
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _ = r.Validate(context.Background(), "BTCUSDT")
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&fa.infoCalls), "concurrent cache misses must collapse into one venue call")
}

func TestEnsureFresh_RefreshesAfterTTLExpiry(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, 10*time.Millisecond)

	_, err := r.Validate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&fa.infoCalls))

	time.Sleep(20 * time.Millisecond)
	_, err = r.Validate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&fa.infoCalls))
}

func TestPopularByVolume_FiltersByQuoteAndStatus(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, time.Hour)

	out, err := r.PopularByVolume(context.Background(), "USDT", 10)
	require.NoError(t, err)
	require.Len(t, out, 2, "halted symbol must be excluded")
}

func TestForStrategy_AppliesVolumeFloor(t *testing.T) {
	fa := &fakeAdapter{
		infos: baseInfos(),
		tickers: []exchange.Ticker{
			{Symbol: "BTCUSDT", QuoteVolume: qty("50000000")},
			{Symbol: "ETHUSDT", QuoteVolume: qty("500000")},
		},
	}
	r := New(fa, time.Hour)

	out, err := r.ForStrategy(context.Background(), BucketScalping)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "BTCUSDT", out[0].Symbol)
}

func TestForStrategy_RejectsUnknownBucket(t *testing.T) {
	fa := &fakeAdapter{infos: baseInfos()}
	r := New(fa, time.Hour)

	_, err := r.ForStrategy(context.Background(), Bucket("nonsense"))
	require.Error(t, err)
}
