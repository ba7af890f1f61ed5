// Package logging wires zerolog for harvestd and feeds every log record into
// a bounded ring buffer the diagnostics server can serve and stream.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the process-wide logger.
type Config struct {
	// Level is a zerolog level name ("debug", "info", "warn", "error").
	Level string
	// Pretty enables a human-readable console writer instead of JSON.
	Pretty bool
	// RingCapacity bounds the in-memory log ring buffer. Zero uses DefaultRingCapacity.
	RingCapacity int
}

// DefaultRingCapacity is the default ring buffer size.
const DefaultRingCapacity = 2000

// New builds a zerolog.Logger that writes to stderr and duplicates every
// record into a Ring, returned alongside the logger so the diagnostics
// server can be handed the same ring.
func New(cfg Config) (zerolog.Logger, *Ring) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	capacity := cfg.RingCapacity
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	ring := NewRing(capacity)

	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	multi := zerolog.MultiLevelWriter(out, ring)
	log := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	return log, ring
}
