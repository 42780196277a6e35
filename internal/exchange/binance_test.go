package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*BinanceAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfgJSON, err := json.Marshal(BinanceConfig{BaseURL: srv.URL, RateLimitPerSecond: 100})
	require.NoError(t, err)

	a, err := NewBinanceAdapter(cfgJSON)
	require.NoError(t, err)
	return a.(*BinanceAdapter), srv
}

func TestFetchKlines_ParsesCandles(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			[1700000000000, "100.0", "110.0", "95.0", "105.0", "42.5", 1700003600000, "4500.0", 10, "20.0", "2100.0", "0"]
		]`))
	})

	candles, err := a.FetchKlines(t.Context(), "BTCUSDT", candlestore.Tf1h, 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	require.Equal(t, "BTCUSDT", candles[0].Symbol)
	require.True(t, candles[0].Close.Equal(d("105.0")))
	require.Equal(t, int64(10), candles[0].Trades)
}

func TestFetchKlines_RejectsUnsupportedTimeframe(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not make an HTTP call for an invalid timeframe")
	})

	_, err := a.FetchKlines(t.Context(), "BTCUSDT", "3m", 10)
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.BadRequest))
}

func TestDoRequest_ClassifiesUnauthorized(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{}`))
	})

	_, err := a.FetchTicker(t.Context(), "BTCUSDT")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.Unauthorized))
}

func TestDoRequest_ClassifiesTransientOn5xx(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{}`))
	})

	_, err := a.FetchTicker(t.Context(), "BTCUSDT")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.Transient))
}

func TestDoRequest_ClassifiesVenueReject(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance"}`))
	})

	_, err := a.CreateOrder(t.Context(), Order{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket, Quantity: d("1")})
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.VenueReject))
}

func TestDoRequest_CircuitBreakerTripsAfterRepeatedFailures(t *testing.T) {
	calls := 0
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	a.breaker.Reset()

	for i := 0; i < 5; i++ {
		_, _ = a.FetchTicker(t.Context(), "BTCUSDT")
	}
	require.True(t, a.breaker.IsTripped())

	before := calls
	_, err := a.FetchTicker(t.Context(), "BTCUSDT")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.Transient))
	require.Equal(t, before, calls, "tripped breaker must short-circuit before making the HTTP call")
}

func TestFetchTicker_ParsesFields(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50000.0","bidPrice":"49999.0","askPrice":"50001.0","volume":"100.0","quoteVolume":"5000000.0","closeTime":1700003600000}`))
	})

	ticker, err := a.FetchTicker(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", ticker.Symbol)
	require.True(t, ticker.LastPrice.Equal(d("50000.0")))
}

func TestCreateOrder_MapsStatus(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":123456,"status":"FILLED","clientOrderId":"abc"}`))
	})

	resp, err := a.CreateOrder(t.Context(), Order{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket, Quantity: d("0.5")})
	require.NoError(t, err)
	require.Equal(t, "123456", resp.OrderID)
	require.Equal(t, OrderStatusFilled, resp.Status)
}

func TestGetTrades_MapsSide(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"orderId":1,"price":"100.0","qty":"2.0","commission":"0.01","time":1700000000000,"isBuyer":true}]`))
	})

	trades, err := a.GetTrades(t.Context(), "BTCUSDT", time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, SideBuy, trades[0].Side)
}
