// Package config implements the Config Provider: the dynamic tuning layer
// for loop intervals, resolved document → local cache → defaults, with live
// updates fed by the Document Watcher and validated against hard-coded
// bounds.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Key names a tunable interval, matching the config/intervals document
// fields.
type Key string

const (
	KeyHeartbeat         Key = "heartbeat_interval_s"
	KeyHardwareStateSync Key = "hardware_state_sync_interval_s"
	KeyLocalHardwareRead Key = "local_hardware_read_interval_s"
	KeyWindowRecheck     Key = "window_recheck_interval_s"
	KeyCommandTimeout    Key = "command_timeout_s"
)

// bound is the hard-coded [min,max] for one key. Out-of-bound values are
// rejected.
type bound struct {
	min, max int
}

var bounds = map[Key]bound{
	KeyHeartbeat:         {min: 5, max: 300},
	KeyHardwareStateSync: {min: 5, max: 3600},
	KeyLocalHardwareRead: {min: 1, max: 300},
	KeyWindowRecheck:     {min: 1, max: 3600},
	KeyCommandTimeout:    {min: 1, max: 120},
}

// Defaults holds the named default cadence for each tunable interval.
var Defaults = map[Key]int{
	KeyHeartbeat:         30,
	KeyHardwareStateSync: 30,
	KeyLocalHardwareRead: 5,
	KeyWindowRecheck:     60,
	KeyCommandTimeout:    10,
}

// Store is the local cache tier consulted before Defaults, resolved in
// document → local cache → defaults order. Implemented by
// internal/config.SQLiteStore; tests may pass nil to skip the cache tier.
type Store interface {
	Load() (map[Key]int, error)
	Save(key Key, value int) error
}

// Provider holds the current interval map and serves it to every interval-
// driven worker (Window Evaluator, Hardware Sync Loop, Document Watcher's
// command-TTL check). Every accessor re-reads the live value so a config
// update from the document takes effect on the worker's next tick.
type Provider struct {
	mu     sync.RWMutex
	values map[Key]int
	store  Store
	log    zerolog.Logger
}

// NewProvider resolves the initial interval map: values supplied by the
// document snapshot (docValues, may be nil/partial) take priority, then the
// local store, then Defaults.
func NewProvider(docValues map[Key]int, store Store, log zerolog.Logger) *Provider {
	p := &Provider{
		values: make(map[Key]int, len(Defaults)),
		store:  store,
		log:    log.With().Str("component", "config_provider").Logger(),
	}

	cached := map[Key]int{}
	if store != nil {
		if loaded, err := store.Load(); err != nil {
			p.log.Warn().Err(err).Msg("failed to load cached intervals, falling back to defaults")
		} else {
			cached = loaded
		}
	}

	for key, def := range Defaults {
		v, ok := docValues[key]
		if !ok {
			v, ok = cached[key]
		}
		if !ok || !inBounds(key, v) {
			v = def
		}
		p.values[key] = v
	}
	return p
}

func inBounds(key Key, v int) bool {
	b, ok := bounds[key]
	if !ok {
		return true
	}
	return v >= b.min && v <= b.max
}

// Update validates and applies a single interval change from the Document
// Watcher. Out-of-bound values are rejected: the previous value is kept
// and the rejection is logged at WARN.
func (p *Provider) Update(key Key, value int) error {
	b, known := bounds[key]
	if !known {
		return fmt.Errorf("config: unknown interval key %q", key)
	}
	if value < b.min || value > b.max {
		p.mu.RLock()
		previous := p.values[key]
		p.mu.RUnlock()
		p.log.Warn().Str("key", string(key)).Int("value", value).Int("min", b.min).Int("max", b.max).
			Int("kept", previous).Msg("ConfigInvalid: value out of bounds, keeping previous")
		return fmt.Errorf("config: %s=%d out of bounds [%d,%d]", key, value, b.min, b.max)
	}

	p.mu.Lock()
	p.values[key] = value
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Save(key, value); err != nil {
			p.log.Error().Err(err).Str("key", string(key)).Msg("failed to persist interval to local cache")
		}
	}
	p.log.Info().Str("key", string(key)).Int("value", value).Msg("interval updated")
	return nil
}

func (p *Provider) get(key Key) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[key]; ok {
		return v
	}
	return Defaults[key]
}

// HeartbeatInterval returns the current heartbeat cadence.
func (p *Provider) HeartbeatInterval() time.Duration {
	return time.Duration(p.get(KeyHeartbeat)) * time.Second
}

// HardwareStateSyncInterval returns the current slow-push cadence.
func (p *Provider) HardwareStateSyncInterval() time.Duration {
	return time.Duration(p.get(KeyHardwareStateSync)) * time.Second
}

// LocalHardwareReadInterval returns the current fast-read cadence.
func (p *Provider) LocalHardwareReadInterval() time.Duration {
	return time.Duration(p.get(KeyLocalHardwareRead)) * time.Second
}

// WindowRecheckInterval returns the current Window Evaluator cadence; it
// satisfies schedule.IntervalProvider structurally.
func (p *Provider) WindowRecheckInterval() time.Duration {
	return time.Duration(p.get(KeyWindowRecheck)) * time.Second
}

// CommandTimeout returns the current max wait for a command to be regarded
// as fresh before it is skipped rather than applied.
func (p *Provider) CommandTimeout() time.Duration {
	return time.Duration(p.get(KeyCommandTimeout)) * time.Second
}

// Snapshot returns a copy of every current interval, keyed by name, for the
// diagnostics health endpoint.
func (p *Provider) Snapshot() map[Key]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Key]int, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
