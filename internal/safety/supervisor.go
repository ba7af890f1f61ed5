package safety

import (
	"fmt"
	"time"

	"github.com/aristath/harvestd/internal/gpio"
	"github.com/rs/zerolog"
)

// DocumentSync is the narrow write-back contract the Supervisor needs to
// record boot-safety corrections and emergency stops in the remote
// document. Implemented by internal/document so this package stays
// independent of the wire format.
type DocumentSync interface {
	ClearPinState(pin int) error
	RecordEmergencyStop(at time.Time) error
}

// Supervisor owns boot safety, emergency stop, and the user-override
// registry.
type Supervisor struct {
	Overrides *OverrideSet

	registry *gpio.Registry
	driver   gpio.Driver
	doc      DocumentSync
	log      zerolog.Logger
}

// NewSupervisor builds a Supervisor. doc may be nil in tests that don't
// care about document write-back.
func NewSupervisor(registry *gpio.Registry, driver gpio.Driver, doc DocumentSync, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		Overrides: NewOverrideSet(),
		registry:  registry,
		driver:    driver,
		doc:       doc,
		log:       log.With().Str("component", "safety").Logger(),
	}
}

// LogPinInventory logs a one-line INFO record per known pin (id, mode,
// polarity) after hot-init and before the boot-safety sweep, giving every
// startup a readable audit trail of what was discovered.
func (s *Supervisor) LogPinInventory() {
	snapshot := s.registry.Snapshot()
	for id, pin := range snapshot {
		s.log.Info().Int("pin", id).Str("name", pin.Name).Str("mode", string(pin.Mode)).
			Bool("active_low", pin.ActiveLow).Msg("pin discovered")
	}
	s.log.Info().Int("pins", len(snapshot)).Msg("startup pin discovery complete")
}

// BootSafety forces every known pin's desired state to OFF and clears every
// pin's state field in the document, so a state recorded as on before the
// restart is not re-applied. It must run
// after the registry has been hot-initialized from the document's first
// snapshot and before any other worker starts mutating pins.
func (s *Supervisor) BootSafety() {
	snapshot := s.registry.Snapshot()
	for id, pin := range snapshot {
		level := gpio.ToLevel(false, pin.ActiveLow)
		if err := s.driver.Write(id, level); err != nil {
			s.log.Error().Err(err).Int("pin", id).Msg("boot safety write failed")
		}
		s.registry.SetDesired(id, false)
		s.registry.SetHardware(id, gpio.FromLevel(level, pin.ActiveLow))

		if pin.Desired {
			s.log.Warn().Int("pin", id).Str("name", pin.Name).Msg("boot safety: forcing pin off after restart")
		}
		// Hot-init has already reset the registry's desired state, so it no
		// longer shows what the document held; clear the document for every pin.
		if s.doc != nil {
			if err := s.doc.ClearPinState(id); err != nil {
				s.log.Error().Err(err).Int("pin", id).Msg("failed to clear pin state in document after boot safety")
			}
		}
	}
	s.log.Info().Int("pins", len(snapshot)).Msg("boot safety sweep complete, all pins forced off")
}

// EmergencyStop forces OFF on every known pin, clears PWM, empties the
// schedule executor set (via stopExecutors), adds every pin to the
// override set, and issues a synchronous document update. It never returns
// early on a driver fault: the sweep continues to completion and the
// document update is attempted regardless. Each pin's state and
// hardwareState are cleared in the document synchronously, in the same
// sweep, so a caller observes the pins OFF there the moment this call
// returns rather than waiting for the next hardware-sync push.
func (s *Supervisor) EmergencyStop(stopExecutors func()) error {
	if stopExecutors != nil {
		stopExecutors()
	}

	snapshot := s.registry.Snapshot()
	var firstErr error
	for id, pin := range snapshot {
		level := gpio.ToLevel(false, pin.ActiveLow)
		if err := s.driver.Write(id, level); err != nil {
			s.log.Error().Err(err).Int("pin", id).Msg("emergency stop: write failed, continuing sweep")
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := s.driver.SetPWM(id, 0); err != nil {
			s.log.Error().Err(err).Int("pin", id).Msg("emergency stop: pwm clear failed, continuing sweep")
			if firstErr == nil {
				firstErr = err
			}
		}
		s.registry.SetDesired(id, false)
		s.registry.SetHardware(id, gpio.FromLevel(level, pin.ActiveLow))
		s.registry.SetPWM(id, 0)
		s.Overrides.Add(id)

		if s.doc != nil {
			if err := s.doc.ClearPinState(id); err != nil {
				s.log.Error().Err(err).Int("pin", id).Msg("emergency stop: failed to clear pin state in document")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	now := time.Now()
	if s.doc != nil {
		if err := s.doc.RecordEmergencyStop(now); err != nil {
			s.log.Error().Err(err).Msg("emergency stop: document update failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("document update: %w", err)
			}
		}
	}

	s.log.Warn().Int("pins", len(snapshot)).Time("at", now).Msg("emergency stop executed")
	return firstErr
}

// HandleUserCommand applies the user-override rule: when a pin is commanded
// OFF while scheduleActive holds, the pin joins the override set;
// commanding ON clears it.
func (s *Supervisor) HandleUserCommand(pin int, turnOn bool, scheduleActive bool) {
	ApplyOverrideRule(s.Overrides, pin, turnOn, scheduleActive)
}

// ApplyOverrideRule is the user-override rule, exported so
// internal/reconciler can apply it against its own OverrideSet reference
// without going through a Supervisor.
func ApplyOverrideRule(overrides *OverrideSet, pin int, turnOn bool, scheduleActive bool) {
	if turnOn {
		overrides.Clear(pin)
		return
	}
	if scheduleActive {
		overrides.Add(pin)
	}
}

// ClearByIntent removes pin from the override set when one of its schedules
// exits its active window. An OFF-while-running override does not persist
// past the schedule period it was raised against, so the schedule resumes
// normally the next time its window opens rather than being silently
// suppressed forever (see DESIGN.md).
func (s *Supervisor) ClearByIntent(pin int) {
	s.Overrides.Clear(pin)
}
