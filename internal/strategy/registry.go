package strategy

import "sync"

// HandlerRegistry maps handler names to implementations, the same
// register-by-name shape C6's scheduler uses for job handlers. Spec
// fixes the built-in set (RegisterBuiltins); callers may register
// additional pluggable handlers before Start.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

func (r *HandlerRegistry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *HandlerRegistry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// RegisterBuiltins registers the spec's fixed built-in handler set.
func RegisterBuiltins(r *HandlerRegistry) {
	r.Register("dca", DCAHandler)
	r.Register("rsi", RSIHandler)
	r.Register("macd", MACDHandler)
	r.Register("ma_crossover", MACrossoverHandler)
	r.Register("bollinger_bands", BollingerBandsHandler)
	r.Register("range_trading", RangeTradingHandler)
	r.Register("grid_trading", GridTradingHandler)
	r.Register("fear_greed", FearGreedHandler)
}
