package archiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/logging"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule archives once a day, mirroring the teacher's scheduler
// jobs (internal/scheduler/r2_backup.go) that default to a daily cadence
// when no explicit schedule is configured.
const DefaultSchedule = "@daily"

// Registry is the read surface Archiver needs from the Pin Registry.
// Satisfied structurally by *internal/gpio.Registry.
type Registry interface {
	Snapshot() map[int]gpio.Pin
}

// bundle is the archived payload: every pin's last-known state plus the
// full log ring buffer at the moment of archival.
type bundle struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Serial      string           `json:"serial"`
	Pins        map[int]gpio.Pin `json:"pins"`
	Logs        []logging.Record `json:"logs"`
}

// Archiver periodically uploads a compressed bundle of the GPIO snapshot
// and the log ring buffer to S3-compatible object storage, on the cron
// cadence configured in Config.Schedule. This is additive: the in-memory
// ring buffer keeps serving the diagnostics API exactly as before,
// regardless of whether archival is configured.
type Archiver struct {
	serial   string
	registry Registry
	ring     *logging.Ring
	uploader Uploader
	schedule string
	log      zerolog.Logger

	cron *cron.Cron
}

// Config wires an Archiver's dependencies.
type Config struct {
	Serial   string
	Registry Registry
	Ring     *logging.Ring
	Uploader Uploader
	// Schedule is a robfig/cron expression; DefaultSchedule is used when empty.
	Schedule string
	Log      zerolog.Logger
}

// New builds an Archiver. It does not start the cron scheduler; call Run.
func New(cfg Config) *Archiver {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Archiver{
		serial:   cfg.Serial,
		registry: cfg.Registry,
		ring:     cfg.Ring,
		uploader: cfg.Uploader,
		schedule: schedule,
		log:      cfg.Log.With().Str("component", "archiver").Logger(),
	}
}

// Run starts the cron scheduler and blocks until ctx is cancelled, then
// stops it and waits for any in-flight archive job to finish.
func (a *Archiver) Run(ctx context.Context) error {
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(a.schedule, func() {
		if err := a.archiveOnce(context.Background()); err != nil {
			a.log.Error().Err(err).Msg("diagnostics archive failed")
		}
	}); err != nil {
		return fmt.Errorf("archiver: invalid schedule %q: %w", a.schedule, err)
	}

	a.cron.Start()
	a.log.Info().Str("schedule", a.schedule).Msg("archiver scheduled")

	<-ctx.Done()
	stopCtx := a.cron.Stop()
	<-stopCtx.Done()
	return nil
}

// archiveOnce builds and uploads a single bundle. Exported indirectly via
// Run's cron callback; also callable directly by tests.
func (a *Archiver) archiveOnce(ctx context.Context) error {
	now := time.Now().UTC()
	b := bundle{
		GeneratedAt: now,
		Serial:      a.serial,
		Pins:        a.registry.Snapshot(),
		Logs:        a.ring.Last(a.ring.Capacity(), ""),
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("archiver: marshal bundle: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("archiver: compress bundle: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archiver: flush compressed bundle: %w", err)
	}

	key := fmt.Sprintf("harvestd/%s/%s.json.gz", a.serial, now.Format("20060102T150405Z"))
	return a.uploader.Upload(ctx, key, &compressed, int64(compressed.Len()))
}
