package gpio

import (
	"sync"
	"time"
)

// Pin is the logical view of one GPIO pin.
type Pin struct {
	ID             int
	Name           string
	DefaultName    string
	NameCustomized bool
	Mode           Mode
	ActiveLow      bool
	Enabled        bool
	Desired        bool
	Hardware       bool
	Mismatch       bool
	PWMDuty        int
	FaultStreak    int
	Unavailable    bool
	LastHardware   time.Time
}

// Attrs is the subset of Pin fields a caller supplies on Upsert; fields the
// registry itself owns (Desired/Hardware/Mismatch/fault tracking) are left
// untouched unless the corresponding setter is called.
type Attrs struct {
	Name           string
	NameCustomized bool
	Mode           Mode
	ActiveLow      bool
	Enabled        bool
	PWMDuty        int
}

// Registry is the in-memory map of known pins. It never
// touches the Driver; it only records intent and last-known state. Only the
// Reconciler mutates it (single-writer discipline); everyone else reads a
// copy-on-read Snapshot.
type Registry struct {
	mu   sync.RWMutex
	pins map[int]*Pin
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pins: make(map[int]*Pin)}
}

// Upsert creates or updates a pin's configured attributes (hot-init / document
// edit). A name is only overwritten when the existing
// pin's name has not been user-customized, or attrs explicitly customizes it.
func (r *Registry) Upsert(id int, attrs Attrs) *Pin {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pins[id]
	if !exists {
		p = &Pin{ID: id, DefaultName: attrs.Name}
		r.pins[id] = p
	}

	if !p.NameCustomized || attrs.NameCustomized {
		p.Name = attrs.Name
		p.NameCustomized = attrs.NameCustomized
	}
	p.Mode = attrs.Mode
	p.ActiveLow = attrs.ActiveLow
	p.Enabled = attrs.Enabled
	p.PWMDuty = attrs.PWMDuty

	cp := *p
	return &cp
}

// Remove deletes a pin from the registry (hot-remove).
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pins, id)
}

// Get returns a copy of the named pin, or false if unknown.
func (r *Registry) Get(id int) (Pin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pins[id]
	if !ok {
		return Pin{}, false
	}
	return *p, true
}

// Snapshot returns a copy-on-read map of every pin, safe for the caller to
// retain or mutate without affecting the registry.
func (r *Registry) Snapshot() map[int]Pin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]Pin, len(r.pins))
	for id, p := range r.pins {
		out[id] = *p
	}
	return out
}

// SetDesired records the pin's desired logical state.
func (r *Registry) SetDesired(id int, state bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pins[id]; ok {
		p.Desired = state
	}
}

// SetHardware records the pin's last-read hardware state and recomputes the
// mismatch flag against the current desired state.
func (r *Registry) SetHardware(id int, state bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pins[id]; ok {
		p.Hardware = state
		p.Mismatch = p.Desired != p.Hardware
		p.LastHardware = time.Now()
		p.FaultStreak = 0
		p.Unavailable = false
	}
}

// SetPWM records the pin's last-known PWM duty.
func (r *Registry) SetPWM(id int, duty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pins[id]; ok {
		p.PWMDuty = duty
	}
}

// SetMismatch forces the mismatch flag directly, bypassing the
// Desired/Hardware comparison SetHardware would otherwise apply. A schedule
// executor that owns a pin wants mismatch to read false even if a readback
// lands mid-transition, so callers suppress the computed value here instead
// of publishing a transient false positive.
func (r *Registry) SetMismatch(id int, mismatch bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pins[id]; ok {
		p.Mismatch = mismatch
	}
}

// RecordFault increments the pin's consecutive-fault streak and marks it
// unavailable once it reaches two.
func (r *Registry) RecordFault(id int) (streak int, unavailable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[id]
	if !ok {
		return 0, false
	}
	p.FaultStreak++
	if p.FaultStreak >= 2 {
		p.Unavailable = true
	}
	return p.FaultStreak, p.Unavailable
}

// ClearFault resets a pin's fault streak, e.g. after a document change
// brings the pin unavailable state back to normal.
func (r *Registry) ClearFault(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pins[id]; ok {
		p.FaultStreak = 0
		p.Unavailable = false
	}
}

// Len returns the number of known pins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pins)
}
