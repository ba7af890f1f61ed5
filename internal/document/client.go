package document

import (
	"context"
	"time"
)

// SnapshotHandler receives every full or incremental read of the device
// document. initial is true only for the very first snapshot delivered
// after Subscribe is called.
type SnapshotHandler func(snap Snapshot, initial bool)

// CommandHandler receives one command document as it appears under
// devices/{serial}/commands/.
type CommandHandler func(cmd Command)

// Client is the narrow remote-document contract the Watcher needs.
// Authentication, credentials, and transport are out of scope; a real
// implementation wraps whatever managed document database the deployment
// uses. MemoryClient below is the in-memory fake used by tests and
// local/simulated runs, the way the teacher favors fakes over mocks for
// its in-memory queue and document stores.
type Client interface {
	// Subscribe delivers every snapshot of devices/{serial} to handler
	// until ctx is cancelled. It must reconnect with backoff on
	// disconnection; on reconnect the next snapshot delivered is treated as
	// non-initial.
	Subscribe(ctx context.Context, handler SnapshotHandler) error

	// SubscribeCommands delivers every command document written under
	// devices/{serial}/commands/ to handler until ctx is cancelled.
	SubscribeCommands(ctx context.Context, handler CommandHandler) error

	// DeleteCommand removes a command document after it has been applied.
	DeleteCommand(ctx context.Context, id string) error

	// UpdatePin writes a partial update to gpioState.{pin}. fields uses the
	// document's own field names ("state", "hardwareState", "mismatch",
	// "pwmDutyCycle", "name", "lastHardwareRead", ...).
	UpdatePin(ctx context.Context, pin int, fields map[string]any) error

	// UpdateScheduleRun stamps gpioState.{pin}.schedules.{id}.last_run_at.
	UpdateScheduleRun(ctx context.Context, pin int, scheduleID string, at time.Time) error

	// UpdateConfig writes a single config/intervals field back (used only
	// to record the clamp/reject outcome; the authoritative copy lives in
	// internal/config).
	UpdateConfig(ctx context.Context, key string, value int) error

	// PushHeartbeat writes status="online" and lastHeartbeat.
	PushHeartbeat(ctx context.Context, at time.Time) error

	// PushHardwareSnapshot batches every pin's hardwareState/mismatch into
	// one document write.
	PushHardwareSnapshot(ctx context.Context, pins map[int]PinHardware) error
}

// PinHardware is one pin's reported state for a batched slow-push.
type PinHardware struct {
	HardwareState bool
	Mismatch      bool
	ReadAt        time.Time
}
