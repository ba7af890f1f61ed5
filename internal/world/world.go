// Package world is the composition root: it owns every singleton the rest
// of harvestd would otherwise reach for as a package-level global (pin
// registry, override set, config map, log ring buffer), wiring them once in
// New and starting every worker goroutine in Run. Mutable state lives on a
// single *World owned by main; nothing else reaches for a package-level
// global.
package world

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/harvestd/internal/archiver"
	"github.com/aristath/harvestd/internal/config"
	"github.com/aristath/harvestd/internal/diagnostics"
	"github.com/aristath/harvestd/internal/document"
	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/hardwaresync"
	"github.com/aristath/harvestd/internal/logging"
	"github.com/aristath/harvestd/internal/reconciler"
	"github.com/aristath/harvestd/internal/safety"
	"github.com/aristath/harvestd/internal/schedule"
	"github.com/rs/zerolog"
)

// Config is every knob main reads from flags/environment before wiring the
// world.
type Config struct {
	Serial     string
	DataDir    string
	Simulation bool

	RPCSocketPath   string
	DiagnosticsPort int

	// Archive* configure the optional diagnostics archival job. ArchiveBucket
	// empty disables the archiver entirely: no S3 credentials is a normal
	// deployment, not an error.
	ArchiveSchedule  string
	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveAccessKey string
	ArchiveSecretKey string
}

// World holds every wired component. Fields are exported for diagnostics and
// test inspection; nothing outside this package ever constructs these types
// directly except through New.
type World struct {
	cfg Config
	log zerolog.Logger

	Ring      *logging.Ring
	Registry  *gpio.Registry
	Store     *config.SQLiteStore
	Provider  *config.Provider
	Driver    gpio.Driver
	DocClient document.Client

	Reconciler   *reconciler.Reconciler
	Schedules    *schedule.Cache
	Executors    *schedule.Manager
	Windows      *schedule.Evaluator
	Supervisor   *safety.Supervisor
	Watcher      *document.Watcher
	Commands     *document.CommandProcessor
	HardwareSync *hardwaresync.Loop
	Diagnostics  *diagnostics.Server
	Archiver     *archiver.Archiver // nil when ArchiveBucket is unset
}

// pinNotifier implements reconciler.Notifier by pushing the changed pin's
// current fields back to the document, asynchronously so the Reconciler's
// single worker goroutine never blocks on document I/O.
type pinNotifier struct {
	registry *gpio.Registry
	client   document.Client
	log      zerolog.Logger
}

// scheduleRunPersister adapts *config.SQLiteStore's string-keyed
// SaveScheduleRun to schedule.Persister so last_run_at survives a restart
// even when the remote document is unreachable.
type scheduleRunPersister struct {
	store *config.SQLiteStore
}

func (p *scheduleRunPersister) SaveRun(pin int, scheduleID string, at time.Time) error {
	return p.store.SaveScheduleRun(pin, scheduleID, at.UTC().Format(time.RFC3339))
}

// seedScheduleHistory loads every persisted last-run timestamp into the
// Schedule Cache before the Document Watcher's first snapshot arrives, so a
// schedule whose document-side last_run_at was lost to an async push-back
// failure still reports its true last run after a restart.
// Cache.Upsert preserves an existing entry's LastRunAt whenever the
// document's own definition omits one, so this placeholder entry is safely
// overwritten field-by-field once the real definition lands.
func seedScheduleHistory(store *config.SQLiteStore, schedules *schedule.Cache, log zerolog.Logger) {
	runs, err := store.LoadScheduleRuns()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load persisted schedule run history")
		return
	}
	for k, lastRun := range runs {
		pinStr, scheduleID, ok := strings.Cut(k, "/")
		if !ok {
			continue
		}
		pin, err := strconv.Atoi(pinStr)
		if err != nil {
			continue
		}
		at, err := time.Parse(time.RFC3339, lastRun)
		if err != nil {
			continue
		}
		schedules.Upsert(pin, scheduleID, schedule.Definition{LastRunAt: at})
	}
}

func (n *pinNotifier) PinStateChanged(pin int) {
	go func() {
		p, ok := n.registry.Get(pin)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fields := map[string]any{
			"state":         p.Desired,
			"hardwareState": p.Hardware,
			"mismatch":      p.Mismatch,
			"pwmDutyCycle":  p.PWMDuty,
			"name":          p.Name,
		}
		if err := n.client.UpdatePin(ctx, pin, fields); err != nil {
			n.log.Error().Err(err).Int("pin", pin).Msg("failed to push pin state to document")
		}
	}()
}

// New wires every component without starting any worker. Callers must call
// Run to actually start the system, and Close to release the local store and
// the RPC driver's socket on shutdown.
func New(ctx context.Context, cfg Config, log zerolog.Logger, ring *logging.Ring) (*World, error) {
	store, err := config.OpenSQLiteStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("world: open local store: %w", err)
	}

	provider := config.NewProvider(nil, store, log)

	registry := gpio.NewRegistry()

	var driver gpio.Driver
	if cfg.Simulation {
		driver = gpio.NewSimDriver()
	} else {
		driver = gpio.NewRPCDriver(cfg.RPCSocketPath, log)
	}

	docClient := document.NewMemoryClient()

	overrides := safety.NewOverrideSet()
	notifier := &pinNotifier{registry: registry, client: docClient, log: log}
	schedules := schedule.NewCache()
	seedScheduleHistory(store, schedules, log)

	recon := reconciler.New(registry, driver, overrides, schedules, notifier, log)

	executors := schedule.NewManager(schedules, recon, overrides, log)
	executors.SetPersister(&scheduleRunPersister{store: store})

	supervisor := safety.NewSupervisor(registry, driver, docClient, log)
	supervisor.Overrides = overrides

	windows := schedule.NewEvaluator(schedules, executors, provider, supervisor.ClearByIntent, log)

	// emergencyStop is shared by the document command processor and the
	// diagnostics HTTP endpoint: it empties the executor set before the
	// Supervisor's forced-OFF sweep so no schedule tick races it.
	emergencyStop := func() error {
		return supervisor.EmergencyStop(executors.StopAll)
	}

	watcher := document.NewWatcher(docClient, recon, schedules, executors, provider, log)
	commands := document.NewCommandProcessor(docClient, recon, provider, emergencyStop, log)

	hwSync := hardwaresync.New(registry, driver, recon, docClient, provider, log)

	diagServer := diagnostics.New(diagnostics.Config{
		Port:          cfg.DiagnosticsPort,
		Serial:        cfg.Serial,
		Registry:      registry,
		Ring:          ring,
		EmergencyStop: emergencyStop,
		Log:           log,
	})

	w := &World{
		cfg:          cfg,
		log:          log,
		Ring:         ring,
		Registry:     registry,
		Store:        store,
		Provider:     provider,
		Driver:       driver,
		DocClient:    docClient,
		Reconciler:   recon,
		Schedules:    schedules,
		Executors:    executors,
		Windows:      windows,
		Supervisor:   supervisor,
		Watcher:      watcher,
		Commands:     commands,
		HardwareSync: hwSync,
		Diagnostics:  diagServer,
	}

	if cfg.ArchiveBucket != "" {
		s3, err := archiver.NewS3Client(ctx, cfg.ArchiveEndpoint, cfg.ArchiveRegion, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket, log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("world: build archive uploader: %w", err)
		}
		w.Archiver = archiver.New(archiver.Config{
			Serial:   cfg.Serial,
			Registry: registry,
			Ring:     ring,
			Uploader: s3,
			Schedule: cfg.ArchiveSchedule,
			Log:      log,
		})
	}

	return w, nil
}

// EmergencyStop is the single emergency-stop entry point shared by the
// diagnostics HTTP endpoint and the document command processor. It empties
// the executor set before the Supervisor's sweep so no schedule tick races
// the forced-OFF write.
func (w *World) EmergencyStop() error {
	return w.Supervisor.EmergencyStop(w.Executors.StopAll)
}

// Run starts every worker and blocks until ctx is cancelled. Boot safety
// forces every pin OFF only after the document's initial snapshot has
// hot-initialized the registry, and before any other worker can mutate a
// pin: the initial pass populates the registry but never applies the
// document's state=true to hardware.
func (w *World) Run(ctx context.Context) error {
	go w.Reconciler.Run(ctx)

	bootDone := make(chan struct{})
	go func() {
		err := w.DocClient.Subscribe(ctx, func(snap document.Snapshot, initial bool) {
			w.Watcher.HandleSnapshot(context.Background(), snap, initial)
			if initial {
				select {
				case <-bootDone:
				default:
					close(bootDone)
				}
			}
		})
		if err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("document subscription ended unexpectedly")
		}
	}()

	select {
	case <-bootDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.Supervisor.LogPinInventory()
	w.Supervisor.BootSafety()

	go func() {
		if err := w.Commands.Run(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("command processor subscription ended unexpectedly")
		}
	}()
	w.Windows.Start(ctx)
	go w.HardwareSync.Run(ctx)

	go func() {
		if err := w.Diagnostics.Run(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("diagnostics server stopped unexpectedly")
		}
	}()

	if w.Archiver != nil {
		go func() {
			if err := w.Archiver.Run(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("archiver stopped unexpectedly")
			}
		}()
	}

	<-ctx.Done()
	w.Windows.Stop()
	w.Executors.StopAll()
	return nil
}

// Close releases the local store and, on hardware, the RPC driver's socket.
func (w *World) Close() error {
	var firstErr error
	if closer, ok := w.Driver.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			firstErr = err
		}
	}
	if err := w.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
