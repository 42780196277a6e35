// binance.go implements Adapter against a Binance-style spot REST API.
// It is the one concrete venue adapter; built the way the teacher's
// DhanBroker was built — a JSON config struct, an http.Client with a
// fixed timeout, and response structs mapped onto the canonical types.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/candlestore"
	"github.com/aristath/sentinel-core/internal/circuitbreaker"
)

const defaultCallTimeout = 10 * time.Second

// BinanceConfig holds venue-specific adapter configuration.
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	BaseURL   string `json:"base_url"`

	// RateLimitPerSecond bounds outbound calls; exhausting it returns
	// apperrors.Transient instead of making the request.
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`

	Breaker circuitbreaker.Config `json:"-"`
}

// BinanceAdapter implements Adapter against the Binance spot REST API.
type BinanceAdapter struct {
	cfg     BinanceConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
}

func init() {
	Registry["binance"] = NewBinanceAdapter
}

// NewBinanceAdapter builds an adapter from JSON configuration.
func NewBinanceAdapter(configJSON []byte) (Adapter, error) {
	var cfg BinanceConfig
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &cfg); err != nil {
			return nil, fmt.Errorf("binance adapter: parse config: %w", err)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 10
	}

	return &BinanceAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), int(cfg.RateLimitPerSecond)),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			MaxConsecutiveFailures: 5,
			MaxFailuresPerWindow:   20,
			Window:                 time.Hour,
			Cooldown:               5 * time.Minute,
		}, zerolog.Nop()),
	}, nil
}

func (b *BinanceAdapter) Name() string { return "binance" }

// doRequest performs a rate-limited, circuit-breaker-guarded HTTP call
// and classifies any failure into a spec §7 apperrors.Kind.
func (b *BinanceAdapter) doRequest(ctx context.Context, method, path string, signed bool, body any) ([]byte, error) {
	if b.breaker.IsTripped() {
		return nil, apperrors.New(apperrors.Transient, fmt.Sprintf("exchange adapter circuit open: %s", b.breaker.TripReason()))
	}
	if !b.limiter.Allow() {
		return nil, apperrors.New(apperrors.Transient, "exchange adapter rate limit exhausted")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "marshal request", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.breaker.RecordFailure(err.Error())
		return nil, apperrors.Wrap(apperrors.Transient, "http request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		b.breaker.RecordFailure(err.Error())
		return nil, apperrors.Wrap(apperrors.Transient, "read response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b.breaker.RecordSuccess()
		return respBody, nil
	}

	b.breaker.RecordFailure(fmt.Sprintf("http %d", resp.StatusCode))
	return nil, classifyHTTPError(resp.StatusCode, respBody)
}

// classifyHTTPError maps a venue HTTP response to a spec §7 error kind.
func classifyHTTPError(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.New(apperrors.Unauthorized, fmt.Sprintf("venue auth failed (%d): %s", status, body))
	case status == http.StatusNotFound:
		return apperrors.New(apperrors.NotFound, fmt.Sprintf("venue resource not found (%d): %s", status, body))
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.New(apperrors.Transient, fmt.Sprintf("venue transient error (%d): %s", status, body))
	case status >= 400:
		var venueErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &venueErr) == nil && venueErr.Msg != "" {
			return apperrors.New(apperrors.VenueReject, fmt.Sprintf("venue rejected (%d): %s", venueErr.Code, venueErr.Msg))
		}
		return apperrors.New(apperrors.BadRequest, fmt.Sprintf("venue bad request (%d): %s", status, body))
	default:
		return apperrors.New(apperrors.Internal, fmt.Sprintf("unexpected venue status %d: %s", status, body))
	}
}

// --- Market data ---

type binanceKline []any

func (b *BinanceAdapter) FetchKlines(ctx context.Context, symbol string, tf candlestore.Timeframe, limit int) ([]candlestore.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	interval := binanceInterval(tf)
	if interval == "" {
		return nil, apperrors.New(apperrors.BadRequest, fmt.Sprintf("unsupported timeframe %q", tf))
	}

	path := fmt.Sprintf("/api/v3/klines?symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
	respBody, err := b.doRequest(ctx, http.MethodGet, path, false, nil)
	if err != nil {
		return nil, err
	}

	var raw []binanceKline
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "parse klines", err)
	}

	candles := make([]candlestore.Candle, 0, len(raw))
	for _, row := range raw {
		c, err := parseBinanceKline(symbol, tf, row)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "parse kline row", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseBinanceKline(symbol string, tf candlestore.Timeframe, row binanceKline) (candlestore.Candle, error) {
	if len(row) < 9 {
		return candlestore.Candle{}, fmt.Errorf("kline row too short: %d fields", len(row))
	}
	openTimeMs, ok := row[0].(float64)
	if !ok {
		return candlestore.Candle{}, fmt.Errorf("kline open time not numeric")
	}

	return candlestore.Candle{
		Symbol:          symbol,
		Timeframe:       tf,
		TsOpen:          time.UnixMilli(int64(openTimeMs)).UTC(),
		Open:            decFromAny(row[1]),
		High:            decFromAny(row[2]),
		Low:             decFromAny(row[3]),
		Close:           decFromAny(row[4]),
		Volume:          decFromAny(row[5]),
		QuoteVolume:     decFromAny(row[7]),
		Trades:          int64(row[8].(float64)),
		TakerBuyVolume:  decFromAnyOpt(row, 9),
		TakerBuyQuoteVolume: decFromAnyOpt(row, 10),
	}, nil
}

func decFromAny(v any) decimal.Decimal {
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decFromAnyOpt(row binanceKline, idx int) decimal.Decimal {
	if idx >= len(row) {
		return decimal.Zero
	}
	return decFromAny(row[idx])
}

func binanceInterval(tf candlestore.Timeframe) string {
	switch tf {
	case candlestore.Tf1m:
		return "1m"
	case candlestore.Tf5m:
		return "5m"
	case candlestore.Tf15m:
		return "15m"
	case candlestore.Tf30m:
		return "30m"
	case candlestore.Tf1h:
		return "1h"
	case candlestore.Tf4h:
		return "4h"
	case candlestore.Tf1d:
		return "1d"
	case candlestore.Tf1w:
		return "1w"
	default:
		return ""
	}
}

type binanceTickerResp struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (b *BinanceAdapter) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/api/v3/ticker/24hr?symbol="+symbol, false, nil)
	if err != nil {
		return nil, err
	}
	var t binanceTickerResp
	if err := json.Unmarshal(respBody, &t); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "parse ticker", err)
	}
	return tickerFromResp(t), nil
}

func (b *BinanceAdapter) Fetch24hTickers(ctx context.Context) ([]Ticker, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/api/v3/ticker/24hr", false, nil)
	if err != nil {
		return nil, err
	}
	var raw []binanceTickerResp
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "parse tickers", err)
	}
	out := make([]Ticker, 0, len(raw))
	for _, t := range raw {
		out = append(out, *tickerFromResp(t))
	}
	return out, nil
}

func tickerFromResp(t binanceTickerResp) *Ticker {
	return &Ticker{
		Symbol:      t.Symbol,
		LastPrice:   decFromAny(t.LastPrice),
		BidPrice:    decFromAny(t.BidPrice),
		AskPrice:    decFromAny(t.AskPrice),
		Volume24h:   decFromAny(t.Volume),
		QuoteVolume: decFromAny(t.QuoteVolume),
		Timestamp:   time.UnixMilli(t.CloseTime).UTC(),
	}
}

type binanceExchangeInfoResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			MinQty     string `json:"minQty"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (b *BinanceAdapter) FetchExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", false, nil)
	if err != nil {
		return nil, err
	}
	var raw binanceExchangeInfoResp
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "parse exchange info", err)
	}

	out := make([]SymbolInfo, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		info := SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Status:     s.Status,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				info.MinQty = decFromAny(f.MinQty)
				info.StepSize = decFromAny(f.StepSize)
			case "PRICE_FILTER":
				info.TickSize = decFromAny(f.TickSize)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// --- Trading ---

type binanceOrderReq struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price,omitempty"`
	NewClientID string `json:"newClientOrderId,omitempty"`
}

type binanceOrderResp struct {
	OrderID       int64  `json:"orderId"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
}

func (b *BinanceAdapter) CreateOrder(ctx context.Context, order Order) (*OrderResponse, error) {
	req := binanceOrderReq{
		Symbol:      order.Symbol,
		Side:        string(order.Side),
		Type:        string(order.Type),
		Quantity:    order.Quantity.String(),
		NewClientID: order.ClientID,
	}
	if order.Type == OrderTypeLimit {
		req.Price = order.Price.String()
	}

	respBody, err := b.doRequest(ctx, http.MethodPost, "/api/v3/order", true, req)
	if err != nil {
		return nil, err
	}
	var resp binanceOrderResp
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "parse order response", err)
	}

	return &OrderResponse{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Status:    mapBinanceStatus(resp.Status),
		Message:   fmt.Sprintf("order placed: %s %s %s", order.Side, order.Quantity, order.Symbol),
		Timestamp: time.Now(),
	}, nil
}

func (b *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	path := fmt.Sprintf("/api/v3/order?symbol=%s&orderId=%s", symbol, orderID)
	_, err := b.doRequest(ctx, http.MethodDelete, path, true, nil)
	return err
}

type binanceBalanceResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (b *BinanceAdapter) GetBalances(ctx context.Context) ([]Balance, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/api/v3/account", true, nil)
	if err != nil {
		return nil, err
	}
	var resp binanceBalanceResp
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "parse balances", err)
	}
	out := make([]Balance, 0, len(resp.Balances))
	for _, bal := range resp.Balances {
		out = append(out, Balance{
			Asset:     bal.Asset,
			Available: decFromAny(bal.Free),
			Locked:    decFromAny(bal.Locked),
		})
	}
	return out, nil
}

type binanceTradeResp struct {
	OrderID int64  `json:"orderId"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Commission string `json:"commission"`
	Time    int64  `json:"time"`
	IsBuyer bool   `json:"isBuyer"`
}

func (b *BinanceAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]Trade, error) {
	path := fmt.Sprintf("/api/v3/myTrades?symbol=%s&startTime=%d", symbol, since.UnixMilli())
	respBody, err := b.doRequest(ctx, http.MethodGet, path, true, nil)
	if err != nil {
		return nil, err
	}
	var raw []binanceTradeResp
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "parse trades", err)
	}
	out := make([]Trade, 0, len(raw))
	for _, t := range raw {
		side := SideSell
		if t.IsBuyer {
			side = SideBuy
		}
		out = append(out, Trade{
			OrderID:   strconv.FormatInt(t.OrderID, 10),
			Symbol:    symbol,
			Side:      side,
			Price:     decFromAny(t.Price),
			Quantity:  decFromAny(t.Qty),
			Fee:       decFromAny(t.Commission),
			Timestamp: time.UnixMilli(t.Time).UTC(),
		})
	}
	return out, nil
}

func mapBinanceStatus(s string) OrderStatus {
	switch s {
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return OrderStatusCancelled
	case "REJECTED":
		return OrderStatusRejected
	case "PARTIALLY_FILLED":
		return OrderStatusOpen
	default:
		return OrderStatusPending
	}
}
