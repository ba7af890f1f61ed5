package document

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/reconciler"
	"github.com/aristath/harvestd/internal/safety"
	"github.com/aristath/harvestd/internal/schedule"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, *MemoryClient, *gpio.Registry, *gpio.SimDriver, *schedule.Cache, *schedule.Manager, context.Context, context.CancelFunc) {
	t.Helper()
	registry := gpio.NewRegistry()
	driver := gpio.NewSimDriver()
	overrides := safety.NewOverrideSet()
	cache := schedule.NewCache()
	r := reconciler.New(registry, driver, overrides, cache, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	manager := schedule.NewManager(cache, r, overrides, zerolog.Nop())
	client := NewMemoryClient()
	w := NewWatcher(client, r, cache, manager, nil, zerolog.Nop())
	return w, client, registry, driver, cache, manager, ctx, cancel
}

func TestWatcher_InitialSnapshot_PopulatesWithoutApplyingState(t *testing.T) {
	w, client, registry, driver, _, _, ctx, cancel := newTestWatcher(t)
	defer cancel()
	go w.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushSnapshot(Snapshot{
		Pins: map[int]PinDoc{
			19: {Pin: 19, Name: "fan", Mode: "output", Enabled: true, State: true},
		},
	})
	time.Sleep(20 * time.Millisecond)

	pin, ok := registry.Get(19)
	require.True(t, ok)
	assert.False(t, pin.Desired, "initial snapshot must not apply desired state")
	assert.False(t, driver.Level(19))
}

func TestWatcher_SubsequentSnapshot_AppliesState(t *testing.T) {
	w, client, registry, _, _, _, ctx, cancel := newTestWatcher(t)
	defer cancel()
	go w.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushSnapshot(Snapshot{
		Pins: map[int]PinDoc{19: {Pin: 19, Name: "fan", Mode: "output", Enabled: true, State: false}},
	})
	time.Sleep(20 * time.Millisecond)

	client.PushSnapshot(Snapshot{
		Pins: map[int]PinDoc{19: {Pin: 19, Name: "fan", Mode: "output", Enabled: true, State: true}},
	})
	time.Sleep(20 * time.Millisecond)

	pin, _ := registry.Get(19)
	assert.True(t, pin.Desired)
}

func TestWatcher_HotRemovePin(t *testing.T) {
	w, client, registry, _, _, _, ctx, cancel := newTestWatcher(t)
	defer cancel()
	go w.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushSnapshot(Snapshot{Pins: map[int]PinDoc{19: {Pin: 19, Name: "fan", Mode: "output"}}})
	time.Sleep(20 * time.Millisecond)
	_, ok := registry.Get(19)
	require.True(t, ok)

	client.PushSnapshot(Snapshot{Pins: map[int]PinDoc{}})
	time.Sleep(20 * time.Millisecond)

	_, ok = registry.Get(19)
	assert.False(t, ok, "pin absent from a later snapshot must be hot-removed")
}

func TestWatcher_HotAddScheduleAlreadyInWindow_StartsImmediately(t *testing.T) {
	w, client, _, _, cache, manager, ctx, cancel := newTestWatcher(t)
	defer cancel()
	go w.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushSnapshot(Snapshot{
		Pins: map[int]PinDoc{19: {Pin: 19, Name: "fan", Mode: "output", Enabled: true}},
	})
	time.Sleep(20 * time.Millisecond)

	client.PushSnapshot(Snapshot{
		Pins: map[int]PinDoc{19: {
			Pin: 19, Name: "fan", Mode: "output", Enabled: true,
			Schedules: map[string]ScheduleDoc{
				"s1": {Enabled: true, DurationSeconds: 5, FrequencySeconds: 5},
			},
		}},
	})
	time.Sleep(30 * time.Millisecond)

	_, active, ok := cache.Get(19, "s1")
	require.True(t, ok)
	_ = active
	require.Eventually(t, func() bool { return manager.IsRunning(19, "s1") }, time.Second, time.Millisecond,
		"a hot-added in-window schedule must start without waiting for the window evaluator")
}
