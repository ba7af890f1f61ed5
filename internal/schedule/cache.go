package schedule

import (
	"sync"
	"time"
)

// entry is the cache's internal record: the definition plus its
// window-evaluated active flag.
type entry struct {
	def    Definition
	active bool
}

// Flip records a schedule whose active flag changed during a
// ReevaluateWindows sweep.
type Flip struct {
	Pin        int
	ScheduleID string
	Active     bool
}

// Cache is the thread-safe store of every schedule definition per pin.
type Cache struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[key]*entry)}
}

// Upsert creates or replaces the schedule at (pin, scheduleID). It preserves
// LastRunAt from a prior definition when the incoming one doesn't set it, so
// that a document edit that omits last_run_at doesn't erase history.
func (c *Cache) Upsert(pin int, scheduleID string, def Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{Pin: pin, ID: scheduleID}
	def = def.Clamped()
	if def.LastRunAt.IsZero() {
		if existing, ok := c.entries[k]; ok {
			def.LastRunAt = existing.def.LastRunAt
		}
	}
	c.entries[k] = &entry{def: def}
}

// Remove deletes the schedule at (pin, scheduleID).
func (c *Cache) Remove(pin int, scheduleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key{Pin: pin, ID: scheduleID})
}

// Get returns a copy of one schedule's definition and active flag.
func (c *Cache) Get(pin int, scheduleID string) (Definition, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key{Pin: pin, ID: scheduleID}]
	if !ok {
		return Definition{}, false, false
	}
	return e.def, e.active, true
}

// List returns every schedule id and definition attached to pin.
func (c *Cache) List(pin int) map[string]Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Definition)
	for k, e := range c.entries {
		if k.Pin == pin {
			out[k.ID] = e.def
		}
	}
	return out
}

// All returns every schedule in the cache, keyed by pin then schedule id.
func (c *Cache) All() map[int]map[string]Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]map[string]Definition)
	for k, e := range c.entries {
		if out[k.Pin] == nil {
			out[k.Pin] = make(map[string]Definition)
		}
		out[k.Pin][k.ID] = e.def
	}
	return out
}

// AnyActive reports whether any schedule attached to pin is currently
// window-active. Used by the Reconciler to decide whether an explicit user
// OFF command should register as an override, and to stop the auto-repair
// pass from fighting a pin a schedule executor is actively driving.
func (c *Cache) AnyActive(pin int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if k.Pin == pin && e.active {
			return true
		}
	}
	return false
}

// RecordRun stamps a schedule's LastRunAt, e.g. when an executor's run loop
// exits.
func (c *Cache) RecordRun(pin int, scheduleID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key{Pin: pin, ID: scheduleID}]; ok {
		e.def.LastRunAt = at
	}
}

// ReevaluateWindows walks every schedule and flips its active flag iff
// enabled && in_window(now). It returns every schedule whose flag changed
// during this sweep, in no particular order.
func (c *Cache) ReevaluateWindows(now time.Time) []Flip {
	c.mu.Lock()
	defer c.mu.Unlock()

	var flips []Flip
	for k, e := range c.entries {
		shouldBeActive := e.def.Enabled && e.def.InWindow(now)
		if shouldBeActive != e.active {
			e.active = shouldBeActive
			flips = append(flips, Flip{Pin: k.Pin, ScheduleID: k.ID, Active: shouldBeActive})
		}
	}
	return flips
}
