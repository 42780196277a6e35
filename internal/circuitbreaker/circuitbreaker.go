// Package circuitbreaker provides a reusable failure-halting primitive:
// trip after too many consecutive or too many rolling-window failures,
// auto-reset after a cooldown. It backs both the exchange adapter's
// outbound-call breaker and the scheduler's per-job error budget — the
// same "repeated failure halts forward progress" shape, two call sites.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls trip thresholds and cooldown.
type Config struct {
	MaxConsecutiveFailures int           // 0 disables the consecutive check
	MaxFailuresPerWindow   int           // 0 disables the windowed check
	Window                 time.Duration // rolling window for MaxFailuresPerWindow
	Cooldown               time.Duration // 0 disables auto-reset
}

// Breaker is thread-safe and intended to be shared across every call
// site that feeds it failures/successes.
type Breaker struct {
	mu                  sync.Mutex
	config              Config
	consecutiveFailures int
	windowFailures      []time.Time
	tripped             bool
	trippedAt           time.Time
	tripReason          string
	log                 zerolog.Logger
}

// New creates a breaker with the given configuration.
func New(cfg Config, log zerolog.Logger) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Breaker{config: cfg, log: log}
}

// RecordFailure records a failure and trips the breaker if a threshold
// is breached. reason is attached to the trip for diagnostics.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		return
	}

	now := time.Now()
	b.consecutiveFailures++
	b.windowFailures = append(b.windowFailures, now)
	b.pruneWindow(now)

	if b.config.MaxConsecutiveFailures > 0 && b.consecutiveFailures >= b.config.MaxConsecutiveFailures {
		b.trip(reason)
		return
	}
	if b.config.MaxFailuresPerWindow > 0 && len(b.windowFailures) >= b.config.MaxFailuresPerWindow {
		b.trip(reason)
		return
	}

	b.log.Debug().
		Str("reason", reason).
		Int("consecutive", b.consecutiveFailures).
		Int("windowed", len(b.windowFailures)).
		Msg("circuit breaker: failure recorded")
}

// RecordSuccess resets the consecutive-failure counter. Windowed
// failures are not cleared by successes — a breaker that's about to
// trip on volume shouldn't be reset by one lucky call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// IsTripped reports whether the breaker currently blocks forward
// progress, auto-resetting if the cooldown has elapsed.
func (b *Breaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return false
	}
	if b.config.Cooldown > 0 && time.Since(b.trippedAt) >= b.config.Cooldown {
		b.log.Info().Dur("cooldown", b.config.Cooldown).Msg("circuit breaker: cooldown expired, auto-reset")
		b.resetLocked()
		return false
	}
	return true
}

// TripReason returns the reason the breaker tripped, or "" if untripped.
func (b *Breaker) TripReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return ""
	}
	return b.tripReason
}

// Reset manually clears the breaker, regardless of cooldown.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		b.log.Info().Str("was", b.tripReason).Msg("circuit breaker: manually reset")
	}
	b.resetLocked()
}

// ConsecutiveFailures reports the current consecutive-failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// WindowFailures reports the current rolling-window failure count.
func (b *Breaker) WindowFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneWindow(time.Now())
	return len(b.windowFailures)
}

func (b *Breaker) trip(reason string) {
	b.tripped = true
	b.trippedAt = time.Now()
	b.tripReason = reason
	b.log.Warn().Str("reason", reason).Msg("circuit breaker: TRIPPED")
}

func (b *Breaker) resetLocked() {
	b.tripped = false
	b.trippedAt = time.Time{}
	b.tripReason = ""
	b.consecutiveFailures = 0
	b.windowFailures = nil
}

func (b *Breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.config.Window)
	i := 0
	for i < len(b.windowFailures) && b.windowFailures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.windowFailures = b.windowFailures[i:]
	}
}
