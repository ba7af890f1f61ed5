package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Commander is the pin-mutation surface an executor needs. It is satisfied
// structurally by internal/reconciler.Reconciler — schedule never imports
// reconciler, keeping the dependency one-directional. Executors only ever
// synchronize with each other through the Reconciler's single writer.
type Commander interface {
	SetPinState(ctx context.Context, pin int, on bool) error
}

// OverrideChecker reports whether a pin is currently held by the user
// override set. Satisfied structurally by internal/safety.OverrideSet.
type OverrideChecker interface {
	Contains(pin int) bool
}

// Persister durably records a schedule's last run so it survives a restart
// even when the async document push-back never lands. Satisfied
// structurally by *internal/config.SQLiteStore (its SaveScheduleRun method,
// adapted to this signature by the composition root).
type Persister interface {
	SaveRun(pin int, scheduleID string, at time.Time) error
}

const pollInterval = time.Second

// Manager runs one cooperative worker per active (pin, scheduleID),
// enforcing at most one executor per key. Writes from concurrent executors
// race through the Commander/Reconciler, which serializes them.
type Manager struct {
	cache     *Cache
	commander Commander
	overrides OverrideChecker
	log       zerolog.Logger

	persisterMu sync.RWMutex
	persister   Persister // optional, set via SetPersister

	mu      sync.Mutex
	running map[key]context.CancelFunc
}

// NewManager builds a Manager. ctx passed to Start derives each executor's
// lifetime from the caller, honouring the process-wide stop signal.
func NewManager(cache *Cache, commander Commander, overrides OverrideChecker, log zerolog.Logger) *Manager {
	return &Manager{
		cache:     cache,
		commander: commander,
		overrides: overrides,
		log:       log.With().Str("component", "schedule_executor").Logger(),
		running:   make(map[key]context.CancelFunc),
	}
}

// Start begins executing (pin, scheduleID) if it isn't already running;
// at most one executor runs per key at any time.
func (m *Manager) Start(ctx context.Context, pin int, scheduleID string) {
	k := key{Pin: pin, ID: scheduleID}

	m.mu.Lock()
	if _, alreadyRunning := m.running[k]; alreadyRunning {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running[k] = cancel
	m.mu.Unlock()

	go m.run(runCtx, pin, scheduleID)
}

// IsRunning reports whether an executor for (pin, scheduleID) is active.
func (m *Manager) IsRunning(pin int, scheduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[key{Pin: pin, ID: scheduleID}]
	return ok
}

// SetPersister wires a durable store for schedule run history. It may be
// called at most once, before any executor starts; nil (the zero value)
// disables persistence and is the correct choice for tests that don't care.
func (m *Manager) SetPersister(p Persister) {
	m.persisterMu.Lock()
	defer m.persisterMu.Unlock()
	m.persister = p
}

// RunningCount returns the number of live executors (test/diagnostic helper).
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// StopAll cancels every running executor immediately, used by the Safety
// Supervisor's emergency-stop sweep to empty the executor set without
// waiting for the normal poll cadence.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, cancel := range m.running {
		cancel()
		delete(m.running, k)
	}
}

// Stop cancels a single executor, e.g. when its schedule is deleted from
// the document while running.
func (m *Manager) Stop(pin int, scheduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{Pin: pin, ID: scheduleID}
	if cancel, ok := m.running[k]; ok {
		cancel()
		delete(m.running, k)
	}
}

func (m *Manager) run(ctx context.Context, pin int, scheduleID string) {
	defer func() {
		m.mu.Lock()
		delete(m.running, key{Pin: pin, ID: scheduleID})
		m.mu.Unlock()

		if err := m.commander.SetPinState(context.Background(), pin, false); err != nil {
			m.log.Error().Err(err).Int("pin", pin).Str("schedule", scheduleID).Msg("failed to command pin off on executor exit")
		}
		ranAt := time.Now()
		m.cache.RecordRun(pin, scheduleID, ranAt)

		m.persisterMu.RLock()
		persister := m.persister
		m.persisterMu.RUnlock()
		if persister != nil {
			if err := persister.SaveRun(pin, scheduleID, ranAt); err != nil {
				m.log.Error().Err(err).Int("pin", pin).Str("schedule", scheduleID).Msg("failed to persist schedule run")
			}
		}
	}()

	for {
		def, _, ok := m.cache.Get(pin, scheduleID)
		if !ok || !m.mayRun(def, pin) {
			return
		}

		if err := m.commander.SetPinState(ctx, pin, true); err != nil {
			m.log.Error().Err(err).Int("pin", pin).Str("schedule", scheduleID).Msg("failed to command pin on")
		}
		if !m.sleepInterruptible(ctx, pin, scheduleID, time.Duration(def.DurationSeconds)*time.Second) {
			return
		}

		if err := m.commander.SetPinState(ctx, pin, false); err != nil {
			m.log.Error().Err(err).Int("pin", pin).Str("schedule", scheduleID).Msg("failed to command pin off")
		}
		if !m.sleepInterruptible(ctx, pin, scheduleID, time.Duration(def.OffSeconds*float64(time.Second))) {
			return
		}
	}
}

func (m *Manager) mayRun(def Definition, pin int) bool {
	return def.Enabled && def.InWindow(time.Now()) && !m.overrides.Contains(pin)
}

// sleepInterruptible waits up to d, polling every pollInterval (or less for
// the final chunk) so cancellation, window exit, disable, and override are
// observed within at most one poll interval.
func (m *Manager) sleepInterruptible(ctx context.Context, pin int, scheduleID string, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}

		def, ok := m.peekStillRunnable(pin, scheduleID)
		if !ok || !def {
			return false
		}
	}
}

func (m *Manager) peekStillRunnable(pin int, scheduleID string) (bool, bool) {
	def, _, ok := m.cache.Get(pin, scheduleID)
	if !ok {
		return false, false
	}
	return m.mayRun(def, pin), true
}
