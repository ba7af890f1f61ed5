// Package main is the entry point for harvestd, the on-device GPIO
// scheduling and safety daemon. It wires the composition root (the "world"
// value, internal/world) once at startup and runs it until a shutdown signal
// arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aristath/harvestd/internal/logging"
	"github.com/aristath/harvestd/internal/world"
	"github.com/joho/godotenv"
)

// main orchestrates startup in the order the system depends on:
//  1. Parse flags (data directory, simulation mode override env)
//  2. Load .env, if present, into the process environment
//  3. Build the logger and its ring buffer
//  4. Wire the world (every component, no workers started yet)
//  5. Run the world in the foreground, blocking until a shutdown signal
//  6. Close the world's handles on the way out
func main() {
	var dataDirFlag string
	var simulationFlag bool
	flag.StringVar(&dataDirFlag, "data-dir", "", "local state directory (overrides HARVESTD_DATA_DIR)")
	flag.BoolVar(&simulationFlag, "simulate", false, "force the simulated Pin Driver regardless of HARVESTD_SIMULATION")
	flag.Parse()

	_ = godotenv.Load()

	log, ring := logging.New(logging.Config{
		Level:  getenv("HARVESTD_LOG_LEVEL", "info"),
		Pretty: getenvBool("HARVESTD_LOG_PRETTY", false),
	})

	log.Info().Msg("starting harvestd")

	dataDir := dataDirFlag
	if dataDir == "" {
		dataDir = getenv("HARVESTD_DATA_DIR", "./data")
	}

	cfg := world.Config{
		Serial:           getenv("HARVESTD_SERIAL", "unknown"),
		DataDir:          dataDir,
		Simulation:       simulationFlag || getenvBool("HARVESTD_SIMULATION", false),
		RPCSocketPath:    getenv("HARVESTD_RPC_SOCKET", ""),
		DiagnosticsPort:  getenvInt("HARVESTD_DIAGNOSTICS_PORT", 8090),
		ArchiveSchedule:  getenv("HARVESTD_ARCHIVE_SCHEDULE", ""),
		ArchiveBucket:    getenv("HARVESTD_ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getenv("HARVESTD_ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:    getenv("HARVESTD_ARCHIVE_REGION", ""),
		ArchiveAccessKey: getenv("HARVESTD_ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getenv("HARVESTD_ARCHIVE_SECRET_KEY", ""),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := world.New(ctx, cfg, log, ring)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire harvestd")
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Error().Err(err).Msg("error closing harvestd")
		}
	}()

	log.Info().Bool("simulation", cfg.Simulation).Str("dataDir", cfg.DataDir).Msg("harvestd wired")

	runDone := make(chan error, 1)
	go func() {
		runDone <- w.Run(ctx)
	}()
	log.Info().Int("port", cfg.DiagnosticsPort).Msg("harvestd running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping harvestd...")
	cancel()
	<-runDone
	log.Info().Msg("harvestd stopped")
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
