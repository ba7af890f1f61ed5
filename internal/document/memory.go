package document

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryClient is the in-memory fake Client used by tests and the
// simulated/local runtime. Test code drives it with
// PushSnapshot/PushCommand; production code drives a real implementation
// of Client talking to the managed document database, which is out of
// scope for this repository.
type MemoryClient struct {
	mu          sync.Mutex
	snapHandler SnapshotHandler
	cmdHandler  CommandHandler
	delivered   bool // has at least one snapshot been delivered yet

	commands map[string]Command

	// Recorded writes, inspectable by tests.
	PinUpdates        []PinUpdate
	ScheduleRuns      []ScheduleRunUpdate
	ConfigUpdates     []ConfigUpdate
	Heartbeats        []time.Time
	HardwareSnapshots []map[int]PinHardware
	EmergencyStops    []time.Time
	DeletedCommands   []string
}

// PinUpdate records one UpdatePin call.
type PinUpdate struct {
	Pin    int
	Fields map[string]any
}

// ScheduleRunUpdate records one UpdateScheduleRun call.
type ScheduleRunUpdate struct {
	Pin        int
	ScheduleID string
	At         time.Time
}

// ConfigUpdate records one UpdateConfig call.
type ConfigUpdate struct {
	Key   string
	Value int
}

// NewMemoryClient returns an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{commands: make(map[string]Command)}
}

func (m *MemoryClient) Subscribe(ctx context.Context, handler SnapshotHandler) error {
	m.mu.Lock()
	m.snapHandler = handler
	m.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (m *MemoryClient) SubscribeCommands(ctx context.Context, handler CommandHandler) error {
	m.mu.Lock()
	m.cmdHandler = handler
	m.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

// PushSnapshot delivers snap to the subscribed handler, if any. The first
// call after construction (or after Reset) is delivered as initial=true.
func (m *MemoryClient) PushSnapshot(snap Snapshot) {
	m.mu.Lock()
	handler := m.snapHandler
	initial := !m.delivered
	m.delivered = true
	m.mu.Unlock()

	if handler != nil {
		handler(snap, initial)
	}
}

// Reset marks the next PushSnapshot as initial again, simulating a fresh
// boot rather than a reconnect — a real reconnect treats its next snapshot
// as non-initial, so callers that want that behavior should NOT call
// Reset; Reset exists for tests of fresh-boot semantics.
func (m *MemoryClient) Reset() {
	m.mu.Lock()
	m.delivered = false
	m.mu.Unlock()
}

// PushCommand delivers cmd to the subscribed handler and records it as
// outstanding until DeleteCommand is called. A zero-value ID is assigned a
// fresh uuid; command ids are the only ids this package generates.
func (m *MemoryClient) PushCommand(cmd Command) Command {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}

	m.mu.Lock()
	m.commands[cmd.ID] = cmd
	handler := m.cmdHandler
	m.mu.Unlock()

	if handler != nil {
		handler(cmd)
	}
	return cmd
}

func (m *MemoryClient) DeleteCommand(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[id]; !ok {
		return fmt.Errorf("document: unknown command %q", id)
	}
	delete(m.commands, id)
	m.DeletedCommands = append(m.DeletedCommands, id)
	return nil
}

func (m *MemoryClient) UpdatePin(ctx context.Context, pin int, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PinUpdates = append(m.PinUpdates, PinUpdate{Pin: pin, Fields: fields})
	return nil
}

func (m *MemoryClient) UpdateScheduleRun(ctx context.Context, pin int, scheduleID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScheduleRuns = append(m.ScheduleRuns, ScheduleRunUpdate{Pin: pin, ScheduleID: scheduleID, At: at})
	return nil
}

func (m *MemoryClient) UpdateConfig(ctx context.Context, key string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfigUpdates = append(m.ConfigUpdates, ConfigUpdate{Key: key, Value: value})
	return nil
}

func (m *MemoryClient) PushHeartbeat(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heartbeats = append(m.Heartbeats, at)
	return nil
}

func (m *MemoryClient) PushHardwareSnapshot(ctx context.Context, pins map[int]PinHardware) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HardwareSnapshots = append(m.HardwareSnapshots, pins)
	return nil
}

// RecordEmergencyStop satisfies safety.DocumentSync by delegating to
// UpdatePin-style bookkeeping recorded purely for test assertions.
func (m *MemoryClient) RecordEmergencyStop(at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmergencyStops = append(m.EmergencyStops, at)
	return nil
}

// ClearPinState satisfies safety.DocumentSync.
func (m *MemoryClient) ClearPinState(pin int) error {
	return m.UpdatePin(context.Background(), pin, map[string]any{"state": false, "hardwareState": false})
}
