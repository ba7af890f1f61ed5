package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCommander struct {
	mu    sync.Mutex
	calls []bool // true = on, false = off
}

func (r *recordingCommander) SetPinState(_ context.Context, _ int, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, on)
	return nil
}

func (r *recordingCommander) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.calls))
	copy(out, r.calls)
	return out
}

type fakeOverrides struct {
	mu  sync.Mutex
	set map[int]bool
}

func newFakeOverrides() *fakeOverrides { return &fakeOverrides{set: make(map[int]bool)} }

func (f *fakeOverrides) Contains(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set[pin]
}

func (f *fakeOverrides) add(pin int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[pin] = true
}

func TestManager_Start_RunsOnOffCycleUntilDisabled(t *testing.T) {
	cache := NewCache()
	cache.Upsert(19, "s1", Definition{Enabled: true, DurationSeconds: 0, OffSeconds: MinOffSeconds})
	cmd := &recordingCommander{}
	overrides := newFakeOverrides()
	mgr := NewManager(cache, cmd, overrides, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, 19, "s1")

	require.Eventually(t, func() bool { return mgr.IsRunning(19, "s1") }, time.Second, time.Millisecond)

	cache.Upsert(19, "s1", Definition{Enabled: false, DurationSeconds: 0, OffSeconds: MinOffSeconds})
	require.Eventually(t, func() bool { return !mgr.IsRunning(19, "s1") }, 3*time.Second, 10*time.Millisecond)

	calls := cmd.snapshot()
	require.NotEmpty(t, calls)
	assert.True(t, calls[0])
	assert.False(t, calls[len(calls)-1])
}

func TestManager_Start_IsIdempotent(t *testing.T) {
	cache := NewCache()
	cache.Upsert(19, "s1", Definition{Enabled: true, DurationSeconds: 0, OffSeconds: 1})
	mgr := NewManager(cache, &recordingCommander{}, newFakeOverrides(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, 19, "s1")
	mgr.Start(ctx, 19, "s1")
	mgr.Start(ctx, 19, "s1")

	require.Eventually(t, func() bool { return mgr.IsRunning(19, "s1") }, time.Second, time.Millisecond)
	assert.Equal(t, 1, mgr.RunningCount())
}

func TestManager_StopAll_CancelsEveryExecutor(t *testing.T) {
	cache := NewCache()
	cache.Upsert(19, "s1", Definition{Enabled: true, DurationSeconds: 0, OffSeconds: 5})
	cache.Upsert(20, "s1", Definition{Enabled: true, DurationSeconds: 0, OffSeconds: 5})
	mgr := NewManager(cache, &recordingCommander{}, newFakeOverrides(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, 19, "s1")
	mgr.Start(ctx, 20, "s1")
	require.Eventually(t, func() bool { return mgr.RunningCount() == 2 }, time.Second, time.Millisecond)

	mgr.StopAll()
	require.Eventually(t, func() bool { return mgr.RunningCount() == 0 }, time.Second, time.Millisecond)
}

type recordingPersister struct {
	mu    sync.Mutex
	saved []key
}

func (p *recordingPersister) SaveRun(pin int, scheduleID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, key{Pin: pin, ID: scheduleID})
	return nil
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

func TestManager_Run_PersistsLastRunOnExit(t *testing.T) {
	cache := NewCache()
	cache.Upsert(19, "s1", Definition{Enabled: true, DurationSeconds: 0, OffSeconds: MinOffSeconds})
	mgr := NewManager(cache, &recordingCommander{}, newFakeOverrides(), zerolog.Nop())
	persister := &recordingPersister{}
	mgr.SetPersister(persister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, 19, "s1")
	require.Eventually(t, func() bool { return mgr.IsRunning(19, "s1") }, time.Second, time.Millisecond)

	cache.Remove(19, "s1")
	require.Eventually(t, func() bool { return !mgr.IsRunning(19, "s1") }, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return persister.count() == 1 }, time.Second, time.Millisecond)

	_, active, ok := cache.Get(19, "s1")
	assert.False(t, active)
	assert.False(t, ok, "schedule was removed from the cache while the executor was running")
}

func TestManager_Run_AbortsOnOverride(t *testing.T) {
	cache := NewCache()
	cache.Upsert(19, "s1", Definition{Enabled: true, DurationSeconds: 5, OffSeconds: MinOffSeconds})
	cmd := &recordingCommander{}
	overrides := newFakeOverrides()
	mgr := NewManager(cache, cmd, overrides, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx, 19, "s1")
	require.Eventually(t, func() bool { return len(cmd.snapshot()) >= 1 }, time.Second, time.Millisecond)

	overrides.add(19)
	require.Eventually(t, func() bool { return !mgr.IsRunning(19, "s1") }, 3*time.Second, 10*time.Millisecond)

	calls := cmd.snapshot()
	assert.False(t, calls[len(calls)-1])
}
