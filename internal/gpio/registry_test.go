package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UpsertKeepsCustomizedName(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(17, Attrs{Name: "Pump", NameCustomized: true, Mode: ModeOutput})

	p := reg.Upsert(17, Attrs{Name: "auto-generated-17", NameCustomized: false, Mode: ModeOutput})
	assert.Equal(t, "Pump", p.Name)
	assert.True(t, p.NameCustomized)
}

func TestRegistry_UpsertOverwritesNonCustomizedName(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(17, Attrs{Name: "pin-17", NameCustomized: false, Mode: ModeOutput})
	p := reg.Upsert(17, Attrs{Name: "Irrigation Pump", NameCustomized: false, Mode: ModeOutput})
	assert.Equal(t, "Irrigation Pump", p.Name)
}

func TestRegistry_RemoveDeletesPin(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(18, Attrs{Name: "x", Mode: ModeOutput})
	reg.Remove(18)
	_, ok := reg.Get(18)
	assert.False(t, ok)
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(19, Attrs{Name: "x", Mode: ModeOutput})

	snap := reg.Snapshot()
	p := snap[19]
	p.Desired = true // mutate the copy
	reg.SetDesired(19, false)

	fresh, ok := reg.Get(19)
	require.True(t, ok)
	assert.False(t, fresh.Desired, "snapshot mutation must not leak back into the registry")
}

func TestRegistry_SetHardwareComputesMismatch(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(20, Attrs{Name: "x", Mode: ModeOutput})
	reg.SetDesired(20, true)
	reg.SetHardware(20, false)

	p, _ := reg.Get(20)
	assert.True(t, p.Mismatch)

	reg.SetHardware(20, true)
	p, _ = reg.Get(20)
	assert.False(t, p.Mismatch)
}

func TestRegistry_RecordFaultMarksUnavailableAfterTwo(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(21, Attrs{Name: "x", Mode: ModeOutput})

	streak, unavailable := reg.RecordFault(21)
	assert.Equal(t, 1, streak)
	assert.False(t, unavailable)

	streak, unavailable = reg.RecordFault(21)
	assert.Equal(t, 2, streak)
	assert.True(t, unavailable)

	reg.ClearFault(21)
	p, _ := reg.Get(21)
	assert.False(t, p.Unavailable)
	assert.Equal(t, 0, p.FaultStreak)
}
