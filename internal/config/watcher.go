// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5 seconds)
// and notifies registered callbacks when operational tuning parameters
// change.
//
// Only scheduler, retention, cache, commission, and risk-limit tuning
// are reloadable. Exchange credentials, database path, and trading
// mode require a process restart.
package config

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Watcher monitors the config file for changes and invokes callbacks
// when tunable fields change. It uses stat-based polling, matching the
// rest of the system's preference for dependency-free primitives over
// filesystem-event libraries.
type Watcher struct {
	path     string
	log      zerolog.Logger
	mu       sync.RWMutex
	current  *Config
	lastMod  time.Time
	onChange []func(old, new *Config)
	done     chan struct{}
	stopped  bool
}

// NewWatcher creates a watcher for the given config file path. initial is
// the currently loaded config. The watcher does not start until Start()
// is called.
func NewWatcher(path string, initial *Config, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:    path,
		log:     log,
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback invoked when the config file changes and
// the new config passes validation and actually differs in a reloadable
// field. Multiple callbacks may be registered.
func (w *Watcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns immediately;
// the watcher runs in a background goroutine. Returns an error if the
// initial file stat fails.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.log.Info().Str("path", w.path).Dur("interval", 5*time.Second).Msg("config watcher started")

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.log.Info().Msg("config watcher stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *Watcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("config watcher: stat failed")
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("config watcher: read failed")
		return
	}

	newCfg := Default()
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.log.Warn().Err(err).Msg("config watcher: parse failed, keeping old config")
		return
	}
	if err := newCfg.Validate(); err != nil {
		w.log.Warn().Err(err).Msg("config watcher: validation failed, keeping old config")
		return
	}

	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !tunablesChanged(oldCfg, &newCfg) {
		return
	}
	w.logTunableChanges(oldCfg, &newCfg)

	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

// tunablesChanged reports whether any hot-reloadable field changed.
// Exchange credentials, database path, and trading mode are deliberately
// excluded: those require a restart.
func tunablesChanged(old, new *Config) bool {
	return old.Scheduler != new.Scheduler ||
		old.Retention != new.Retention ||
		old.Cache != new.Cache ||
		old.CommissionRate != new.CommissionRate ||
		old.Risk != new.Risk
}

func (w *Watcher) logTunableChanges(old, new *Config) {
	if old.Scheduler != new.Scheduler {
		w.log.Info().
			Interface("old", old.Scheduler).
			Interface("new", new.Scheduler).
			Msg("config watcher: scheduler tuning changed")
	}
	if old.Retention != new.Retention {
		w.log.Info().
			Interface("old", old.Retention).
			Interface("new", new.Retention).
			Msg("config watcher: retention policy changed")
	}
	if old.Cache != new.Cache {
		w.log.Info().
			Interface("old", old.Cache).
			Interface("new", new.Cache).
			Msg("config watcher: cache tuning changed")
	}
	if old.CommissionRate != new.CommissionRate {
		w.log.Info().
			Float64("old", old.CommissionRate).
			Float64("new", new.CommissionRate).
			Msg("config watcher: commission rate changed")
	}
	if old.Risk != new.Risk {
		w.log.Info().
			Interface("old", old.Risk).
			Interface("new", new.Risk).
			Msg("config watcher: risk limits changed")
	}
}
