package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWindowRecheckInterval is used when the IntervalProvider reports a
// non-positive interval.
const DefaultWindowRecheckInterval = 10 * time.Second

// IntervalProvider supplies the Window Evaluator's recheck cadence. It is
// satisfied structurally by internal/config.Provider, read fresh on every
// tick so a live config update takes effect on the following cycle.
type IntervalProvider interface {
	WindowRecheckInterval() time.Duration
}

type staticInterval time.Duration

func (s staticInterval) WindowRecheckInterval() time.Duration { return time.Duration(s) }

// StaticInterval wraps a fixed duration as an IntervalProvider, for callers
// that don't need live config (tests, simple deployments).
func StaticInterval(d time.Duration) IntervalProvider { return staticInterval(d) }

// Evaluator periodically reevaluates every schedule's active window and
// starts or lets expire the corresponding executor. It is the sole caller
// of Manager.Start for window-entry transitions; the Document Watcher
// calls Manager.Start directly for hot-add/hot-edit transitions that land
// already inside the window.
type Evaluator struct {
	cache     *Cache
	manager   *Manager
	intervals IntervalProvider
	log       zerolog.Logger

	onDeactivate func(pin int) // invoked when a schedule leaves its window

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewEvaluator builds a window Evaluator. onDeactivate, if non-nil, is
// called with the pin whenever one of its schedules exits its active
// window — used to drive the Safety Supervisor's cleared-by-intent logic.
func NewEvaluator(cache *Cache, manager *Manager, intervals IntervalProvider, onDeactivate func(pin int), log zerolog.Logger) *Evaluator {
	return &Evaluator{
		cache:        cache,
		manager:      manager,
		intervals:    intervals,
		onDeactivate: onDeactivate,
		log:          log.With().Str("component", "window_evaluator").Logger(),
	}
}

// Start launches the recheck loop. It is a no-op if already running.
func (e *Evaluator) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running = true
	e.mu.Unlock()

	go e.loop(ctx)
}

// Stop halts the recheck loop and waits for it to exit.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stop := e.stop
	done := e.done
	e.running = false
	e.mu.Unlock()

	close(stop)
	<-done
}

func (e *Evaluator) loop(ctx context.Context) {
	defer close(e.done)

	interval := e.intervals.WindowRecheckInterval()
	if interval <= 0 {
		interval = DefaultWindowRecheckInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-timer.C:
			e.tick(ctx)
			next := e.intervals.WindowRecheckInterval()
			if next <= 0 {
				next = DefaultWindowRecheckInterval
			}
			timer.Reset(next)
		}
	}
}

func (e *Evaluator) tick(ctx context.Context) {
	flips := e.cache.ReevaluateWindows(time.Now())
	for _, f := range flips {
		if f.Active {
			e.manager.Start(ctx, f.Pin, f.ScheduleID)
			e.log.Debug().Int("pin", f.Pin).Str("schedule", f.ScheduleID).Msg("schedule entered window")
			continue
		}
		e.log.Debug().Int("pin", f.Pin).Str("schedule", f.ScheduleID).Msg("schedule exited window")
		if e.onDeactivate != nil {
			e.onDeactivate(f.Pin)
		}
	}
}
