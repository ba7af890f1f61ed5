// Package hardwaresync implements the Hardware Sync Loop: a fast local
// readback pass that feeds the Reconciler's mismatch auto-repair, and a
// slower batched push of every pin's hardware state back to the remote
// document, plus a heartbeat write at its own cadence. All three cadences
// share one worker goroutine, each re-reading
// its interval from the Config Provider on every cycle the way the Window
// Evaluator does (internal/schedule.Evaluator).
package hardwaresync

import (
	"context"
	"time"

	"github.com/aristath/harvestd/internal/document"
	"github.com/aristath/harvestd/internal/gpio"
	"github.com/rs/zerolog"
)

// IntervalProvider supplies all three loop cadences. Satisfied structurally
// by *internal/config.Provider.
type IntervalProvider interface {
	LocalHardwareReadInterval() time.Duration
	HardwareStateSyncInterval() time.Duration
	HeartbeatInterval() time.Duration
}

// Reconciler is the mismatch auto-repair surface this loop drives after
// every fast read. Satisfied structurally by *internal/reconciler.Reconciler.
type Reconciler interface {
	ReconcileMismatches(ctx context.Context) error
}

const (
	defaultFastInterval      = 5 * time.Second
	defaultSlowInterval      = 30 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// Loop runs the fast-read/slow-push pair.
type Loop struct {
	registry   *gpio.Registry
	driver     gpio.Driver
	reconciler Reconciler
	client     document.Client
	intervals  IntervalProvider
	log        zerolog.Logger
}

// New builds a Loop.
func New(registry *gpio.Registry, driver gpio.Driver, reconciler Reconciler, client document.Client, intervals IntervalProvider, log zerolog.Logger) *Loop {
	return &Loop{
		registry:   registry,
		driver:     driver,
		reconciler: reconciler,
		client:     client,
		intervals:  intervals,
		log:        log.With().Str("component", "hardware_sync").Logger(),
	}
}

// Run drives all three cadences until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	fastTimer := time.NewTimer(durationOr(l.intervals.LocalHardwareReadInterval(), defaultFastInterval))
	slowTimer := time.NewTimer(durationOr(l.intervals.HardwareStateSyncInterval(), defaultSlowInterval))
	heartbeatTimer := time.NewTimer(durationOr(l.intervals.HeartbeatInterval(), defaultHeartbeatInterval))
	defer fastTimer.Stop()
	defer slowTimer.Stop()
	defer heartbeatTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fastTimer.C:
			l.fastRead(ctx)
			fastTimer.Reset(durationOr(l.intervals.LocalHardwareReadInterval(), defaultFastInterval))
		case <-slowTimer.C:
			l.slowPush(ctx)
			slowTimer.Reset(durationOr(l.intervals.HardwareStateSyncInterval(), defaultSlowInterval))
		case <-heartbeatTimer.C:
			if err := l.client.PushHeartbeat(ctx, time.Now()); err != nil {
				l.log.Error().Err(err).Msg("failed to push heartbeat")
			}
			heartbeatTimer.Reset(durationOr(l.intervals.HeartbeatInterval(), defaultHeartbeatInterval))
		}
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// fastRead reads every output-mode pin's live electrical level (input and
// PWM pins are skipped), records it in the registry as logical state
// (recomputing mismatch), and asks the Reconciler to repair any
// pin that now disagrees with its desired state. The Reconciler itself
// suppresses mismatch for any pin a schedule is actively driving, so a
// readback that lands mid-transition never gets published as a false
// mismatch.
func (l *Loop) fastRead(ctx context.Context) {
	snapshot := l.registry.Snapshot()
	for id, pin := range snapshot {
		if pin.Mode != gpio.ModeOutput {
			continue
		}
		level, err := l.driver.Read(id)
		if err != nil {
			l.log.Error().Err(err).Int("pin", id).Msg("hardware read failed")
			l.registry.RecordFault(id)
			continue
		}
		l.registry.SetHardware(id, gpio.FromLevel(level, pin.ActiveLow))
	}

	if err := l.reconciler.ReconcileMismatches(ctx); err != nil {
		l.log.Error().Err(err).Msg("mismatch reconciliation pass reported at least one failure")
	}
}

// slowPush batches every pin's current hardware state into one document
// write.
func (l *Loop) slowPush(ctx context.Context) {
	snapshot := l.registry.Snapshot()
	pins := make(map[int]document.PinHardware, len(snapshot))
	for id, pin := range snapshot {
		pins[id] = document.PinHardware{
			HardwareState: pin.Hardware,
			Mismatch:      pin.Mismatch,
			ReadAt:        pin.LastHardware,
		}
	}

	if err := l.client.PushHardwareSnapshot(ctx, pins); err != nil {
		l.log.Error().Err(err).Msg("failed to push hardware snapshot")
	}
}
