package world

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/harvestd/internal/document"
	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	ring := logging.NewRing(100)
	w, err := New(context.Background(), Config{
		Serial:          "HARV-TEST",
		DataDir:         t.TempDir(),
		Simulation:      true,
		DiagnosticsPort: 0,
	}, zerolog.Nop(), ring)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestNew_WiresEveryComponent(t *testing.T) {
	w := newTestWorld(t)
	require.NotNil(t, w.Reconciler)
	require.NotNil(t, w.Watcher)
	require.NotNil(t, w.Commands)
	require.NotNil(t, w.Windows)
	require.NotNil(t, w.HardwareSync)
	require.NotNil(t, w.Diagnostics)
	require.Nil(t, w.Archiver, "archiver should stay nil without an archive bucket configured")
}

func TestRun_HotInitsFromInitialSnapshotThenShutsDownCleanly(t *testing.T) {
	w := newTestWorld(t)
	mem := w.DocClient.(*document.MemoryClient)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	mem.PushSnapshot(document.Snapshot{
		Pins: map[int]document.PinDoc{
			17: {Pin: 17, Name: "pump", Mode: "output", Enabled: true, State: true},
		},
	})

	// The initial snapshot only populates the registry (spec.md §4.10); boot
	// safety, not the document's state=true, is what forces it off.
	require.Eventually(t, func() bool {
		pin, ok := w.Registry.Get(17)
		return ok && !pin.Desired
	}, time.Second, time.Millisecond, "hot-init pin should start forced off")

	// A subsequent (non-initial) snapshot is fully applied.
	mem.PushSnapshot(document.Snapshot{
		Pins: map[int]document.PinDoc{
			17: {Pin: 17, Name: "pump", Mode: "output", Enabled: true, State: true},
		},
	})
	require.Eventually(t, func() bool {
		pin, ok := w.Registry.Get(17)
		return ok && pin.Desired
	}, time.Second, time.Millisecond, "non-initial snapshot should apply state=true")

	// BootSafety is idempotent and can always force every known pin back off.
	w.Supervisor.BootSafety()
	pin, ok := w.Registry.Get(17)
	require.True(t, ok)
	require.False(t, pin.Desired)

	cancel()
	select {
	case err := <-runDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestNew_SeedsScheduleHistoryFromLocalStoreAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()
	ring := logging.NewRing(100)

	w1, err := New(context.Background(), Config{Serial: "HARV-TEST", DataDir: dataDir, Simulation: true}, zerolog.Nop(), ring)
	require.NoError(t, err)
	lastRun := time.Date(2026, 7, 30, 12, 5, 0, 0, time.UTC)
	require.NoError(t, w1.Store.SaveScheduleRun(19, "s1", lastRun.Format(time.RFC3339)))
	require.NoError(t, w1.Close())

	w2, err := New(context.Background(), Config{Serial: "HARV-TEST", DataDir: dataDir, Simulation: true}, zerolog.Nop(), ring)
	require.NoError(t, err)
	t.Cleanup(func() { w2.Close() })

	def, _, ok := w2.Schedules.Get(19, "s1")
	require.True(t, ok, "schedule history should be seeded from the local store before any document snapshot arrives")
	require.True(t, def.LastRunAt.Equal(lastRun))
}

func TestEmergencyStop_ForcesAllPinsOffAndRecordsOverride(t *testing.T) {
	w := newTestWorld(t)
	go w.Reconciler.Run(context.Background())

	require.NoError(t, w.Reconciler.UpsertPin(context.Background(), 5, gpio.Attrs{Name: "valve", Mode: gpio.ModeOutput, Enabled: true}))
	require.NoError(t, w.Reconciler.Command(context.Background(), 5, true))

	require.Eventually(t, func() bool {
		pin, _ := w.Registry.Get(5)
		return pin.Desired
	}, time.Second, time.Millisecond)

	require.NoError(t, w.EmergencyStop())

	pin, ok := w.Registry.Get(5)
	require.True(t, ok)
	require.False(t, pin.Desired)
	require.True(t, w.Supervisor.Overrides.Contains(5))
}
