package document

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/reconciler"
	"github.com/aristath/harvestd/internal/safety"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimeouts struct{ d time.Duration }

func (f fakeTimeouts) CommandTimeout() time.Duration { return f.d }

func newTestCommandProcessor(t *testing.T, timeout time.Duration, stop EmergencyTrigger) (*CommandProcessor, *MemoryClient, *gpio.Registry, *gpio.SimDriver, context.Context, context.CancelFunc) {
	t.Helper()
	registry := gpio.NewRegistry()
	driver := gpio.NewSimDriver()
	overrides := safety.NewOverrideSet()
	r := reconciler.New(registry, driver, overrides, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	require.NoError(t, r.UpsertPin(ctx, 19, gpio.Attrs{Name: "fan", Mode: gpio.ModeOutput}))

	client := NewMemoryClient()
	p := NewCommandProcessor(client, r, fakeTimeouts{d: timeout}, stop, zerolog.Nop())
	return p, client, registry, driver, ctx, cancel
}

func TestCommandProcessor_PinControl_AppliesAndDeletes(t *testing.T) {
	p, client, registry, _, ctx, cancel := newTestCommandProcessor(t, time.Minute, nil)
	defer cancel()
	go p.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushCommand(Command{Type: CommandPinControl, Pin: 19, Action: "on", IssuedAt: time.Now()})
	time.Sleep(20 * time.Millisecond)

	pin, _ := registry.Get(19)
	assert.True(t, pin.Desired)
	assert.Len(t, client.DeletedCommands, 1)
}

func TestCommandProcessor_PWMControl_AppliesDuty(t *testing.T) {
	p, client, registry, _, ctx, cancel := newTestCommandProcessor(t, time.Minute, nil)
	defer cancel()
	go p.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushCommand(Command{Type: CommandPWMControl, Pin: 19, DutyCycle: 42, IssuedAt: time.Now()})
	time.Sleep(20 * time.Millisecond)

	pin, _ := registry.Get(19)
	assert.Equal(t, 42, pin.PWMDuty)
}

func TestCommandProcessor_StaleCommand_SkippedAndDeleted(t *testing.T) {
	p, client, registry, _, ctx, cancel := newTestCommandProcessor(t, time.Millisecond, nil)
	defer cancel()
	go p.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushCommand(Command{Type: CommandPinControl, Pin: 19, Action: "on", IssuedAt: time.Now().Add(-time.Hour)})
	time.Sleep(20 * time.Millisecond)

	pin, _ := registry.Get(19)
	assert.False(t, pin.Desired, "stale command must not be applied")
	assert.Len(t, client.DeletedCommands, 1)
}

func TestCommandProcessor_EmergencyStop_InvokesTrigger(t *testing.T) {
	triggered := make(chan struct{}, 1)
	stop := func() error {
		triggered <- struct{}{}
		return nil
	}
	p, client, _, _, ctx, cancel := newTestCommandProcessor(t, time.Minute, stop)
	defer cancel()
	go p.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	client.PushCommand(Command{Type: CommandEmergencyStop, IssuedAt: time.Now()})

	select {
	case <-triggered:
	case <-time.After(time.Second):
		t.Fatal("emergency stop trigger was not invoked")
	}
}

func TestCommandProcessor_DurationAutoOff(t *testing.T) {
	p, client, registry, _, ctx, cancel := newTestCommandProcessor(t, time.Minute, nil)
	defer cancel()
	go p.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	d := 1
	client.PushCommand(Command{Type: CommandPinControl, Pin: 19, Action: "on", Duration: &d, IssuedAt: time.Now()})
	time.Sleep(1200 * time.Millisecond)

	pin, _ := registry.Get(19)
	assert.False(t, pin.Desired, "pin should auto-off after duration elapses")
}
