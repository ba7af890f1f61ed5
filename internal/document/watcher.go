package document

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/harvestd/internal/config"
	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/schedule"
	"github.com/rs/zerolog"
)

// ReconcilerSink is the pin-mutation surface the Watcher needs. Satisfied
// structurally by *internal/reconciler.Reconciler, keeping this package's
// dependency on reconciler one-directional (document never imports it).
type ReconcilerSink interface {
	UpsertPin(ctx context.Context, id int, attrs gpio.Attrs) error
	RemovePin(ctx context.Context, id int) error
	Command(ctx context.Context, pin int, on bool) error
	SetPWM(ctx context.Context, pin int, dutyPercent int) error
}

// ScheduleSink is the Schedule Cache surface the Watcher feeds. Satisfied
// structurally by *internal/schedule.Cache.
type ScheduleSink interface {
	Upsert(pin int, scheduleID string, def schedule.Definition)
	Remove(pin int, scheduleID string)
}

// ScheduleStarter lets the Watcher start an executor immediately for a
// schedule that lands already inside its window on a hot-add/hot-edit,
// rather than waiting for the Window Evaluator's next tick. Satisfied
// structurally by *internal/schedule.Manager.
type ScheduleStarter interface {
	Start(ctx context.Context, pin int, scheduleID string)
}

// ConfigSink validates and applies one interval update. Satisfied
// structurally by *internal/config.Provider.
type ConfigSink interface {
	Update(key config.Key, value int) error
}

type scheduleKey struct {
	pin int
	id  string
}

// Watcher translates remote document snapshots into calls against the
// State Reconciler, Schedule Cache, and Config Provider. It tracks which
// pins and schedules it has seen so it can detect hot-removal, and
// distinguishes the very first snapshot (populate-only, boot safety has
// primacy) from every later one (fully applied).
type Watcher struct {
	client     Client
	reconciler ReconcilerSink
	schedules  ScheduleSink
	starter    ScheduleStarter
	cfg        ConfigSink
	log        zerolog.Logger

	mu             sync.Mutex
	knownPins      map[int]struct{}
	knownSchedules map[scheduleKey]struct{}
}

// NewWatcher builds a Watcher. starter and cfg may be nil if the caller
// doesn't need immediate schedule starts or live interval updates (e.g. in
// focused tests).
func NewWatcher(client Client, reconciler ReconcilerSink, schedules ScheduleSink, starter ScheduleStarter, cfg ConfigSink, log zerolog.Logger) *Watcher {
	return &Watcher{
		client:         client,
		reconciler:     reconciler,
		schedules:      schedules,
		starter:        starter,
		cfg:            cfg,
		log:            log.With().Str("component", "document_watcher").Logger(),
		knownPins:      make(map[int]struct{}),
		knownSchedules: make(map[scheduleKey]struct{}),
	}
}

// Run subscribes to the remote document until ctx is cancelled. This
// Watcher handles each snapshot synchronously but keeps that work cheap —
// registry/cache mutations, no blocking I/O other than the reconciler's
// inbox send, which is itself bounded.
func (w *Watcher) Run(ctx context.Context) error {
	return w.client.Subscribe(ctx, func(snap Snapshot, initial bool) {
		w.HandleSnapshot(context.Background(), snap, initial)
	})
}

// HandleSnapshot applies one document snapshot. It is exported so the
// composition root can subscribe directly (via the same Client) and observe
// the initial/non-initial distinction itself — needed to sequence the Safety
// Supervisor's boot-safety sweep after hot-init populates the registry but
// before any other worker starts.
func (w *Watcher) HandleSnapshot(ctx context.Context, snap Snapshot, initial bool) {
	seenPins := make(map[int]struct{}, len(snap.Pins))
	seenSchedules := make(map[scheduleKey]struct{})

	for id, doc := range snap.Pins {
		mode := gpio.Mode(doc.Mode)
		if mode != gpio.ModeOutput && mode != gpio.ModeInput && mode != gpio.ModePWM {
			w.log.Error().Int("pin", id).Str("mode", doc.Mode).Msg("ProtocolInvalid: unknown pin mode, skipping pin")
			continue
		}

		isNewPin := !w.isKnownPin(id)
		seenPins[id] = struct{}{}

		attrs := gpio.Attrs{
			Name:           doc.Name,
			NameCustomized: doc.NameCustomized,
			Mode:           mode,
			ActiveLow:      doc.ActiveLow,
			Enabled:        doc.Enabled,
			PWMDuty:        doc.PWMDutyCycle,
		}
		if err := w.reconciler.UpsertPin(ctx, id, attrs); err != nil {
			w.log.Error().Err(err).Int("pin", id).Msg("failed to upsert pin from document")
			continue
		}

		for schedID, schedDoc := range doc.Schedules {
			def := schedule.Definition{
				Enabled:         schedDoc.Enabled,
				StartTime:       schedDoc.StartTime,
				EndTime:         schedDoc.EndTime,
				DurationSeconds: schedDoc.DurationSeconds,
				OffSeconds:      schedDoc.FrequencySeconds,
				Description:     schedDoc.Name,
				LastRunAt:       schedDoc.LastRunAt,
			}.Clamped()
			w.schedules.Upsert(id, schedID, def)
			seenSchedules[scheduleKey{pin: id, id: schedID}] = struct{}{}

			if !initial && w.starter != nil && def.Enabled && def.InWindow(time.Now()) {
				w.starter.Start(ctx, id, schedID)
			}
		}

		if !initial {
			want := doc.State
			if isNewPin {
				want = attrs.Enabled && doc.State
			}
			if err := w.reconciler.Command(ctx, id, want); err != nil {
				w.log.Error().Err(err).Int("pin", id).Msg("failed to apply document state")
			}
		}
	}

	w.applyRemovals(ctx, seenPins, seenSchedules)

	if w.cfg != nil {
		for rawKey, v := range snap.Intervals {
			if err := w.cfg.Update(config.Key(rawKey), v); err != nil {
				w.log.Warn().Err(err).Str("key", rawKey).Int("value", v).Msg("rejected interval from document")
			}
		}
	}
}

func (w *Watcher) applyRemovals(ctx context.Context, seenPins map[int]struct{}, seenSchedules map[scheduleKey]struct{}) {
	w.mu.Lock()
	removedPins := make([]int, 0)
	for id := range w.knownPins {
		if _, ok := seenPins[id]; !ok {
			removedPins = append(removedPins, id)
		}
	}
	removedSchedules := make([]scheduleKey, 0)
	for k := range w.knownSchedules {
		if _, ok := seenSchedules[k]; !ok {
			removedSchedules = append(removedSchedules, k)
		}
	}
	w.knownPins = seenPins
	w.knownSchedules = seenSchedules
	w.mu.Unlock()

	for _, id := range removedPins {
		if err := w.reconciler.RemovePin(ctx, id); err != nil {
			w.log.Error().Err(err).Int("pin", id).Msg("failed to hot-remove pin")
		}
	}
	for _, k := range removedSchedules {
		w.schedules.Remove(k.pin, k.id)
	}
}

func (w *Watcher) isKnownPin(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.knownPins[id]
	return ok
}
