// Package document implements the Document Watcher: the translation layer
// between the remote desired-state document and the typed events consumed
// by the State Reconciler, Schedule Cache, and Config Provider.
// Remote-database authentication and credentials management are out of
// scope; Client is the narrow contract the rest of the system needs from
// whatever client library owns that.
package document

import "time"

// PinDoc is the typed view of one gpioState.{pin} entry. The Watcher checks
// its Mode and skips the pin with a ProtocolInvalid log when the mode is
// unknown; no other field is validated.
type PinDoc struct {
	Pin            int
	Name           string
	DefaultName    string
	NameCustomized bool
	Mode           string // "output" | "input" | "pwm"
	ActiveLow      bool
	Enabled        bool
	State          bool
	PWMDutyCycle   int
	Schedules      map[string]ScheduleDoc
}

// ScheduleDoc is the validated view of one gpioState.{pin}.schedules.{id}
// entry.
type ScheduleDoc struct {
	Enabled          bool
	StartTime        string // "HH:MM", empty means unset
	EndTime          string
	DurationSeconds  int
	FrequencySeconds float64 // OFF duration between ON cycles
	Name             string
	LastRunAt        time.Time
}

// Intervals is the validated view of the config/intervals document.
type Intervals struct {
	HeartbeatIntervalS         int
	HardwareStateSyncIntervalS int
	LocalHardwareReadIntervalS int
	WindowRecheckIntervalS     int
	CommandTimeoutS            int
}

// Snapshot is one full read of devices/{serial}: every known pin plus the
// sibling config/intervals map.
type Snapshot struct {
	Pins      map[int]PinDoc
	Intervals map[string]int // raw keys, validated by internal/config
}

// CommandType enumerates devices/{serial}/commands/{cmd_id}.type.
type CommandType string

const (
	CommandPinControl    CommandType = "pin_control"
	CommandPWMControl    CommandType = "pwm_control"
	CommandEmergencyStop CommandType = "emergency_stop"
)

// Command is one devices/{serial}/commands/{cmd_id} document.
type Command struct {
	ID        string
	Type      CommandType
	Pin       int
	Action    string // "on" | "off", for pin_control
	DutyCycle int    // for pwm_control
	Duration  *int   // optional auto-off seconds
	IssuedAt  time.Time
}
