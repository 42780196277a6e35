// Package symbols caches the tradable instrument universe for an
// exchange adapter behind a TTL, so strategies and the collector never
// hit the venue directly to validate or enumerate symbols.
package symbols

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/exchange"
)

// Bucket names the strategy-facing filters ForStrategy applies.
type Bucket string

const (
	BucketScalping Bucket = "scalping"
	BucketSwing    Bucket = "swing"
	BucketAny      Bucket = "any"
)

// bucketVolumeFloor is the minimum 24h quote volume a symbol needs to
// qualify for a bucket. Scalping needs deep liquidity; swing trading
// tolerates thinner books.
var bucketVolumeFloor = map[Bucket]float64{
	BucketScalping: 10_000_000,
	BucketSwing:    1_000_000,
	BucketAny:      0,
}

type snapshot struct {
	symbols   []exchange.SymbolInfo
	byName    map[string]exchange.SymbolInfo
	fetchedAt time.Time
}

// Registry holds a versioned in-memory snapshot of the tradable
// universe for one exchange adapter, refreshed on TTL expiry.
type Registry struct {
	adapter exchange.Adapter
	ttl     time.Duration

	mu   sync.RWMutex
	snap *snapshot

	group singleflight.Group
}

// New creates a registry backed by adapter, refreshing its snapshot at
// most once per ttl.
func New(adapter exchange.Adapter, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{adapter: adapter, ttl: ttl}
}

// Refresh forces a fetch from the venue and replaces the snapshot.
// Concurrent Refresh/cache-miss calls collapse into a single venue
// request via singleflight.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (any, error) {
		infos, err := r.adapter.FetchExchangeInfo(ctx)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]exchange.SymbolInfo, len(infos))
		for _, s := range infos {
			byName[s.Symbol] = s
		}
		r.mu.Lock()
		r.snap = &snapshot{symbols: infos, byName: byName, fetchedAt: time.Now()}
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// ensureFresh refreshes the snapshot inline if it's missing or expired.
func (r *Registry) ensureFresh(ctx context.Context) (*snapshot, error) {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()

	if snap != nil && time.Since(snap.fetchedAt) < r.ttl {
		return snap, nil
	}
	if err := r.Refresh(ctx); err != nil {
		if snap != nil {
			return snap, nil // serve stale data over a hard failure
		}
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap, nil
}

// PopularByVolume returns up to limit symbols quoted in quote, sorted by
// descending live 24h quote volume.
func (r *Registry) PopularByVolume(ctx context.Context, quote string, limit int) ([]exchange.SymbolInfo, error) {
	snap, err := r.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}

	tickers, err := r.adapter.Fetch24hTickers(ctx)
	if err != nil {
		return nil, err
	}
	volumeBySymbol := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		volumeBySymbol[t.Symbol] = t.QuoteVolume
	}

	filtered := make([]exchange.SymbolInfo, 0, len(snap.symbols))
	for _, s := range snap.symbols {
		if s.QuoteAsset == quote && s.Status == "TRADING" {
			filtered = append(filtered, s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return volumeBySymbol[filtered[i].Symbol].GreaterThan(volumeBySymbol[filtered[j].Symbol])
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// Validate reports whether symbol is a known, currently tradable
// instrument.
func (r *Registry) Validate(ctx context.Context, symbol string) (bool, error) {
	snap, err := r.ensureFresh(ctx)
	if err != nil {
		return false, err
	}
	info, ok := snap.byName[symbol]
	return ok && info.Status == "TRADING", nil
}

// Info returns the cached SymbolInfo for symbol, or apperrors.NotFound.
func (r *Registry) Info(ctx context.Context, symbol string) (*exchange.SymbolInfo, error) {
	snap, err := r.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}
	info, ok := snap.byName[symbol]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, fmt.Sprintf("unknown symbol %q", symbol))
	}
	return &info, nil
}

// ForStrategy returns the tradable universe filtered by a bucket's
// minimum-liquidity floor, analogous to the teacher's sector-concentration
// lookups applied over a fixed universe.
func (r *Registry) ForStrategy(ctx context.Context, bucket Bucket) ([]exchange.SymbolInfo, error) {
	snap, err := r.ensureFresh(ctx)
	if err != nil {
		return nil, err
	}
	floor, ok := bucketVolumeFloor[bucket]
	if !ok {
		return nil, apperrors.New(apperrors.BadRequest, fmt.Sprintf("unknown bucket %q", bucket))
	}

	tickers, err := r.adapter.Fetch24hTickers(ctx)
	if err != nil {
		return nil, err
	}
	volumeBySymbol := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		v, _ := t.QuoteVolume.Float64()
		volumeBySymbol[t.Symbol] = v
	}

	out := make([]exchange.SymbolInfo, 0, len(snap.symbols))
	for _, s := range snap.symbols {
		if s.Status != "TRADING" {
			continue
		}
		if volumeBySymbol[s.Symbol] >= floor {
			out = append(out, s)
		}
	}
	return out, nil
}
