// Package webhook receives asynchronous order-update push notifications
// from a venue (fills, cancellations, rejections arriving after the
// synchronous CreateOrder response), maps them onto the
// exchange-agnostic OrderUpdate shape, and hands each one to the
// handlers registered with OnOrderUpdate; nothing in this package
// changes C9/C10 state. Grounded on the teacher's internal/webhook, generalized
// from the Dhan-specific postback payload to a venue-neutral JSON body
// and from broker.OrderStatus to C2's exchange.OrderStatus.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel-core/internal/exchange"
)

// Config holds webhook server settings.
type Config struct {
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// postback is the JSON body a venue posts when an order's status
// changes. Field names follow the shape common to the pack's
// exchange adapters (Binance-style order update pushes) rather than
// any single venue's wire format, since the server is meant to be
// reused across adapters.
type postback struct {
	OrderID        string  `json:"order_id"`
	ClientOrderID  string  `json:"client_order_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Status         string  `json:"status"`
	Quantity       float64 `json:"quantity"`
	FilledQuantity float64 `json:"filled_quantity"`
	AveragePrice   float64 `json:"average_price"`
	ErrorCode      string  `json:"error_code"`
	ErrorMessage   string  `json:"error_message"`
}

// OrderUpdate is the venue-agnostic representation of a status change.
type OrderUpdate struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        exchange.OrderStatus
	Side          exchange.OrderSide
	Quantity      decimal.Decimal
	FilledQty     decimal.Decimal
	AveragePrice  decimal.Decimal
	ErrorCode     string
	ErrorMessage  string
	ReceivedAt    time.Time
}

// OrderUpdateHandler is called whenever a valid postback is received.
type OrderUpdateHandler func(update OrderUpdate)

// Server is the HTTP webhook receiver.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	srv      *http.Server
	mu       sync.RWMutex
	handlers []OrderUpdateHandler
	updates  []OrderUpdate
}

func NewServer(cfg Config, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// OnOrderUpdate registers a handler called for every validated
// postback. Multiple handlers may be registered; C9/C10 can each
// register their own without coordinating.
func (s *Server) OnOrderUpdate(h OrderUpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// RecentUpdates returns a copy of the last n order updates, for
// status/debug endpoints.
func (s *Server) RecentUpdates(n int) []OrderUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.updates) {
		n = len(s.updates)
	}
	out := make([]OrderUpdate, n)
	copy(out, s.updates[len(s.updates)-n:])
	return out
}

// Start begins listening for postback requests in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/webhook/order"
	}
	mux.HandleFunc(path, s.handlePostback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.srv.Addr).Str("path", path).Msg("webhook: starting server")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("webhook: server error")
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.log.Info().Msg("webhook: shutting down server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var pb postback
	if err := json.NewDecoder(r.Body).Decode(&pb); err != nil {
		s.log.Warn().Err(err).Msg("webhook: invalid JSON payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if pb.OrderID == "" {
		s.log.Warn().Msg("webhook: missing order_id in postback")
		http.Error(w, "missing order_id", http.StatusBadRequest)
		return
	}

	update := OrderUpdate{
		OrderID:       pb.OrderID,
		ClientOrderID: pb.ClientOrderID,
		Symbol:        pb.Symbol,
		Status:        mapPostbackStatus(pb.Status),
		Side:          mapPostbackSide(pb.Side),
		Quantity:      decimal.NewFromFloat(pb.Quantity),
		FilledQty:     decimal.NewFromFloat(pb.FilledQuantity),
		AveragePrice:  decimal.NewFromFloat(pb.AveragePrice),
		ErrorCode:     pb.ErrorCode,
		ErrorMessage:  pb.ErrorMessage,
		ReceivedAt:    time.Now(),
	}

	s.log.Info().
		Str("order_id", update.OrderID).
		Str("symbol", update.Symbol).
		Str("status", string(update.Status)).
		Msg("webhook: postback received")

	s.mu.Lock()
	s.updates = append(s.updates, update)
	if len(s.updates) > 100 {
		s.updates = s.updates[len(s.updates)-100:]
	}
	handlers := make([]OrderUpdateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(update)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"received":true}`)
}

func mapPostbackStatus(s string) exchange.OrderStatus {
	switch s {
	case "FILLED", "TRADED", "COMPLETE":
		return exchange.OrderStatusFilled
	case "CANCELLED", "EXPIRED":
		return exchange.OrderStatusCancelled
	case "REJECTED":
		return exchange.OrderStatusRejected
	case "OPEN", "PART_FILLED", "TRIGGERED":
		return exchange.OrderStatusOpen
	default:
		return exchange.OrderStatusPending
	}
}

func mapPostbackSide(s string) exchange.OrderSide {
	if s == string(exchange.SideSell) {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
