// Package reconciler implements the single-writer State Reconciler: every
// pin/driver mutation, whatever its origin — a document diff, an explicit
// user command, or a schedule tick — is serialized through one inbox so the
// Pin Registry and the Driver never see concurrent writes.
package reconciler

import (
	"context"
	"sync"

	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/safety"
	"github.com/aristath/harvestd/internal/schedule"
	"github.com/rs/zerolog"
)

// Notifier is told about a pin whose desired/hardware state just changed so
// it can queue an async write-back to the remote document. Implementations
// must not block; a slow
// Notifier stalls every future mutation because it runs on the Reconciler's
// single worker goroutine.
type Notifier interface {
	PinStateChanged(pin int)
}

type requestKind int

const (
	kindUpsertPin requestKind = iota
	kindRemovePin
	kindCommand
	kindScheduleTick
	kindReconcileMismatches
	kindSetPWM
)

type request struct {
	kind   requestKind
	pin    int
	attrs  gpio.Attrs
	on     bool
	duty   int
	result chan error
}

// Reconciler is the single writer of both the Pin Registry and the Driver.
type Reconciler struct {
	registry  *gpio.Registry
	driver    gpio.Driver
	overrides *safety.OverrideSet
	schedules *schedule.Cache // optional: nil disables schedule-aware override logic
	notifier  Notifier        // optional
	log       zerolog.Logger

	inbox chan request

	runOnce sync.Once
}

// New builds a Reconciler. schedules and notifier may be nil.
func New(registry *gpio.Registry, driver gpio.Driver, overrides *safety.OverrideSet, schedules *schedule.Cache, notifier Notifier, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		registry:  registry,
		driver:    driver,
		overrides: overrides,
		schedules: schedules,
		notifier:  notifier,
		log:       log.With().Str("component", "reconciler").Logger(),
		inbox:     make(chan request, 64),
	}
}

// Run drains the inbox until ctx is cancelled. Callers must invoke Run
// exactly once, typically in its own goroutine from the composition root.
func (r *Reconciler) Run(ctx context.Context) {
	r.runOnce.Do(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-r.inbox:
				err := r.handle(req)
				if req.result != nil {
					req.result <- err
				}
			}
		}
	})
}

func (r *Reconciler) enqueue(ctx context.Context, req request) error {
	req.result = make(chan error, 1)
	select {
	case r.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertPin hot-initializes or edits a pin.
func (r *Reconciler) UpsertPin(ctx context.Context, id int, attrs gpio.Attrs) error {
	return r.enqueue(ctx, request{kind: kindUpsertPin, pin: id, attrs: attrs})
}

// RemovePin hot-removes a pin: cleans up the driver resource, then drops it
// from the registry.
func (r *Reconciler) RemovePin(ctx context.Context, id int) error {
	return r.enqueue(ctx, request{kind: kindRemovePin, pin: id})
}

// Command applies an explicit user command: turning a pin ON always clears
// any override; turning it OFF while one of its schedules is window-active
// registers an override so the schedule won't immediately re-assert ON.
func (r *Reconciler) Command(ctx context.Context, pin int, on bool) error {
	return r.enqueue(ctx, request{kind: kindCommand, pin: pin, on: on})
}

// SetPinState satisfies schedule.Commander: the Schedule Executor calls this
// on every ON/OFF transition of its cycle. A pin currently held by the
// override set is silently skipped.
func (r *Reconciler) SetPinState(ctx context.Context, pin int, on bool) error {
	return r.enqueue(ctx, request{kind: kindScheduleTick, pin: pin, on: on})
}

// SetPWM applies an explicit pwm_control command: it writes the duty cycle
// to the driver and registry unconditionally, since PWM-duty changes
// trigger a write even when logical state is unchanged. Duty 0 also forces
// the pin's desired/hardware state to logical OFF, so PWM-stopped and
// pin-LOW always agree.
func (r *Reconciler) SetPWM(ctx context.Context, pin int, dutyPercent int) error {
	return r.enqueue(ctx, request{kind: kindSetPWM, pin: pin, duty: dutyPercent})
}

// ReconcileMismatches walks the registry and rewrites the driver for every
// pin whose hardware readback disagrees with its desired state, unless a
// schedule is actively driving that pin. The Hardware Sync Loop calls this
// after each fast read pass.
func (r *Reconciler) ReconcileMismatches(ctx context.Context) error {
	return r.enqueue(ctx, request{kind: kindReconcileMismatches})
}

func (r *Reconciler) handle(req request) error {
	switch req.kind {
	case kindUpsertPin:
		return r.handleUpsertPin(req.pin, req.attrs)
	case kindRemovePin:
		return r.handleRemovePin(req.pin)
	case kindCommand:
		return r.handleCommand(req.pin, req.on)
	case kindScheduleTick:
		return r.handleScheduleTick(req.pin, req.on)
	case kindReconcileMismatches:
		return r.handleReconcileMismatches()
	case kindSetPWM:
		return r.handleSetPWM(req.pin, req.duty)
	default:
		return nil
	}
}

func (r *Reconciler) handleUpsertPin(id int, attrs gpio.Attrs) error {
	prev, existed := r.registry.Get(id)
	pin := r.registry.Upsert(id, attrs)

	// Only a new pin, or a mode/polarity change, reconfigures the driver and
	// resets desired state; an unchanged pin keeps its state across snapshots.
	if !existed || prev.Mode != attrs.Mode || prev.ActiveLow != attrs.ActiveLow {
		initialLevel := gpio.ToLevel(false, pin.ActiveLow)
		if err := r.driver.Configure(id, attrs.Mode, initialLevel); err != nil {
			r.log.Error().Err(err).Int("pin", id).Msg("configure failed on upsert")
			return err
		}
		r.registry.SetDesired(id, false)
		r.registry.SetHardware(id, gpio.FromLevel(initialLevel, pin.ActiveLow))
	}
	r.registry.ClearFault(id)

	if attrs.Mode == gpio.ModePWM && attrs.PWMDuty > 0 {
		if err := r.driver.SetPWM(id, attrs.PWMDuty); err != nil {
			r.log.Error().Err(err).Int("pin", id).Msg("set_pwm failed on upsert")
		} else {
			r.registry.SetPWM(id, attrs.PWMDuty)
		}
	}

	r.notify(id)
	return nil
}

func (r *Reconciler) handleRemovePin(id int) error {
	err := r.driver.Cleanup(id)
	r.registry.Remove(id)
	if err != nil {
		r.log.Error().Err(err).Int("pin", id).Msg("cleanup failed on remove")
	}
	return err
}

func (r *Reconciler) handleCommand(pinID int, on bool) error {
	pin, ok := r.registry.Get(pinID)
	if !ok {
		return gpio.ErrPinNotConfigured
	}

	scheduleActive := r.schedules != nil && r.schedules.AnyActive(pinID)
	safety.ApplyOverrideRule(r.overrides, pinID, on, scheduleActive)

	if pin.Desired == on && !pin.Mismatch {
		// No state transition: skip the driver write. A repeated document
		// snapshot commanding the same state is the common case, not a rare
		// one.
		return nil
	}
	return r.writePin(pinID, pin, on)
}

func (r *Reconciler) handleScheduleTick(pinID int, on bool) error {
	if r.overrides.Contains(pinID) {
		r.log.Debug().Int("pin", pinID).Msg("schedule tick skipped: pin overridden")
		return nil
	}
	pin, ok := r.registry.Get(pinID)
	if !ok {
		return gpio.ErrPinNotConfigured
	}
	return r.writePin(pinID, pin, on)
}

func (r *Reconciler) writePin(id int, pin gpio.Pin, on bool) error {
	level := gpio.ToLevel(on, pin.ActiveLow)
	err := r.driver.Write(id, level)
	r.registry.SetDesired(id, on)
	if err != nil {
		r.log.Error().Err(err).Int("pin", id).Bool("on", on).Msg("write failed")
		streak, unavailable := r.registry.RecordFault(id)
		r.log.Warn().Int("pin", id).Int("streak", streak).Bool("unavailable", unavailable).Msg("fault streak updated")
		r.notify(id)
		return err
	}
	r.registry.SetHardware(id, gpio.FromLevel(level, pin.ActiveLow))
	r.notify(id)
	return nil
}

func (r *Reconciler) handleReconcileMismatches() error {
	snapshot := r.registry.Snapshot()
	var firstErr error
	for id, pin := range snapshot {
		if !pin.Mismatch {
			continue
		}
		if r.schedules != nil && r.schedules.AnyActive(id) {
			// A schedule executor currently owns this pin's desired state;
			// let it drive the pin instead of fighting it here, and make
			// sure the published mismatch doesn't lag behind that decision.
			r.registry.SetMismatch(id, false)
			r.notify(id)
			continue
		}
		level := gpio.ToLevel(pin.Desired, pin.ActiveLow)
		if err := r.driver.Write(id, level); err != nil {
			r.log.Error().Err(err).Int("pin", id).Msg("auto-repair write failed")
			r.registry.RecordFault(id)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.registry.SetHardware(id, gpio.FromLevel(level, pin.ActiveLow))
		r.log.Info().Int("pin", id).Msg("auto-repair: mismatch corrected")
		r.notify(id)
	}
	return firstErr
}

func (r *Reconciler) handleSetPWM(id int, duty int) error {
	pin, ok := r.registry.Get(id)
	if !ok {
		return gpio.ErrPinNotConfigured
	}
	if duty < 0 {
		duty = 0
	}
	if duty > 100 {
		duty = 100
	}

	if err := r.driver.SetPWM(id, duty); err != nil {
		r.log.Error().Err(err).Int("pin", id).Int("duty", duty).Msg("set_pwm failed")
		streak, unavailable := r.registry.RecordFault(id)
		r.log.Warn().Int("pin", id).Int("streak", streak).Bool("unavailable", unavailable).Msg("fault streak updated")
		return err
	}
	r.registry.SetPWM(id, duty)

	if duty == 0 {
		level := gpio.ToLevel(false, pin.ActiveLow)
		r.registry.SetDesired(id, false)
		r.registry.SetHardware(id, gpio.FromLevel(level, pin.ActiveLow))
	}

	r.notify(id)
	return nil
}

func (r *Reconciler) notify(pin int) {
	if r.notifier != nil {
		r.notifier.PinStateChanged(pin)
	}
}
