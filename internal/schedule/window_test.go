package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_StartsExecutorOnWindowEntry(t *testing.T) {
	cache := NewCache()
	now := time.Now()
	start := now.Add(-time.Minute)
	end := now.Add(time.Minute)
	cache.Upsert(19, "s1", Definition{
		Enabled:         true,
		StartTime:       start.Format("15:04"),
		EndTime:         end.Format("15:04"),
		DurationSeconds: 0,
		OffSeconds:      5,
	})

	mgr := NewManager(cache, &recordingCommander{}, newFakeOverrides(), zerolog.Nop())
	ev := NewEvaluator(cache, mgr, StaticInterval(20*time.Millisecond), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ev.Start(ctx)
	defer ev.Stop()

	require.Eventually(t, func() bool { return mgr.IsRunning(19, "s1") }, time.Second, time.Millisecond)
}

func TestEvaluator_OnDeactivateFiresOnWindowExit(t *testing.T) {
	cache := NewCache()
	now := time.Now()
	cache.Upsert(19, "s1", Definition{
		Enabled:         true,
		StartTime:       now.Add(-2 * time.Minute).Format("15:04"),
		EndTime:         now.Add(-time.Minute).Format("15:04"),
		DurationSeconds: 0,
		OffSeconds:      5,
	})
	// Seed the cache's active flag as true directly, as if an earlier sweep had found s1 inside its window.
	cache.entries[key{Pin: 19, ID: "s1"}].active = true

	deactivated := make(chan int, 1)
	mgr := NewManager(cache, &recordingCommander{}, newFakeOverrides(), zerolog.Nop())
	ev := NewEvaluator(cache, mgr, StaticInterval(20*time.Millisecond), func(pin int) {
		deactivated <- pin
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ev.Start(ctx)
	defer ev.Stop()

	select {
	case pin := <-deactivated:
		require.Equal(t, 19, pin)
	case <-time.After(time.Second):
		t.Fatal("onDeactivate never fired")
	}
}

func TestEvaluator_StopIsIdempotentAndWaits(t *testing.T) {
	cache := NewCache()
	mgr := NewManager(cache, &recordingCommander{}, newFakeOverrides(), zerolog.Nop())
	ev := NewEvaluator(cache, mgr, StaticInterval(10*time.Millisecond), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ev.Start(ctx)
	ev.Stop()
	ev.Stop() // second call must not block or panic
}
