package document

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CommandTimeoutProvider supplies the staleness bound applied to inbound
// commands. Satisfied structurally by *internal/config.Provider.
type CommandTimeoutProvider interface {
	CommandTimeout() time.Duration
}

// EmergencyTrigger invokes the Safety Supervisor's emergency stop sequence.
// Kept as a bare func so this package never imports internal/safety.
type EmergencyTrigger func() error

// CommandProcessor consumes command documents (pin_control, pwm_control,
// emergency_stop) and dispatches them to the Reconciler or the Safety
// Supervisor, deleting each command document once handled.
type CommandProcessor struct {
	client        Client
	reconciler    ReconcilerSink
	timeouts      CommandTimeoutProvider // optional
	emergencyStop EmergencyTrigger       // optional
	log           zerolog.Logger
}

// NewCommandProcessor builds a CommandProcessor. timeouts and emergencyStop
// may be nil; a nil timeouts disables the stale-command skip and a nil
// emergencyStop makes emergency_stop commands a no-op (deleted, logged).
func NewCommandProcessor(client Client, reconciler ReconcilerSink, timeouts CommandTimeoutProvider, emergencyStop EmergencyTrigger, log zerolog.Logger) *CommandProcessor {
	return &CommandProcessor{
		client:        client,
		reconciler:    reconciler,
		timeouts:      timeouts,
		emergencyStop: emergencyStop,
		log:           log.With().Str("component", "command_processor").Logger(),
	}
}

// Run subscribes to the command collection until ctx is cancelled.
func (p *CommandProcessor) Run(ctx context.Context) error {
	return p.client.SubscribeCommands(ctx, p.handle)
}

func (p *CommandProcessor) handle(cmd Command) {
	ctx := context.Background()
	log := p.log.With().Str("command_id", cmd.ID).Str("type", string(cmd.Type)).Int("pin", cmd.Pin).Logger()

	if p.timeouts != nil && !cmd.IssuedAt.IsZero() {
		if age := time.Since(cmd.IssuedAt); age > p.timeouts.CommandTimeout() {
			log.Warn().Dur("age", age).Msg("stale command skipped (command_timeout_s exceeded)")
			p.delete(ctx, cmd.ID, log)
			return
		}
	}

	var err error
	switch cmd.Type {
	case CommandPinControl:
		err = p.reconciler.Command(ctx, cmd.Pin, cmd.Action == "on")
	case CommandPWMControl:
		err = p.reconciler.SetPWM(ctx, cmd.Pin, cmd.DutyCycle)
	case CommandEmergencyStop:
		if p.emergencyStop != nil {
			err = p.emergencyStop()
		} else {
			log.Warn().Msg("emergency_stop command received but no trigger wired")
		}
	default:
		log.Error().Msg("ProtocolInvalid: unknown command type")
	}

	if err != nil {
		log.Error().Err(err).Msg("command handling failed")
	}

	if cmd.Type == CommandPinControl && cmd.Duration != nil && *cmd.Duration > 0 && cmd.Action == "on" && err == nil {
		p.scheduleAutoOff(cmd.Pin, *cmd.Duration, log)
	}

	p.delete(ctx, cmd.ID, log)
}

// scheduleAutoOff implements the optional pin_control duration field: the
// pin is turned back off after duration seconds unless something else
// commands it first.
func (p *CommandProcessor) scheduleAutoOff(pin int, durationSeconds int, log zerolog.Logger) {
	time.AfterFunc(time.Duration(durationSeconds)*time.Second, func() {
		if err := p.reconciler.Command(context.Background(), pin, false); err != nil {
			log.Error().Err(err).Msg("auto-off after command duration failed")
		}
	})
}

func (p *CommandProcessor) delete(ctx context.Context, id string, log zerolog.Logger) {
	if err := p.client.DeleteCommand(ctx, id); err != nil {
		log.Error().Err(err).Msg("failed to delete completed command document")
	}
}
