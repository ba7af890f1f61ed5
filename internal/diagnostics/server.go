// Package diagnostics implements the Log/Diagnostics Server: an HTTP
// surface bound to a fixed local port serving the dashboard, the log ring
// buffer (snapshot and live stream), the current Pin Registry snapshot, a
// health summary, and the emergency-stop trigger. It is intentionally
// unauthenticated, built for operator access on a trusted LAN rather than
// public exposure.
package diagnostics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/harvestd/internal/gpio"
	"github.com/aristath/harvestd/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// DefaultPort is the fixed local port the diagnostics server binds to when
// Config.Port is unset.
const DefaultPort = 8090

// Registry is the read surface the diagnostics server needs from the Pin
// Registry. Satisfied structurally by *internal/gpio.Registry.
type Registry interface {
	Snapshot() map[int]gpio.Pin
	Len() int
}

// EmergencyStopFunc triggers the Safety Supervisor's emergency-stop sweep.
// Kept as a bare func so this package never imports internal/safety.
type EmergencyStopFunc func() error

// Config wires every dependency the diagnostics server's handlers need.
type Config struct {
	Port          int
	Serial        string
	Registry      Registry
	Ring          *logging.Ring
	EmergencyStop EmergencyStopFunc
	Log           zerolog.Logger
}

// Server is the Log/Diagnostics Server: one accept loop plus one handler
// per connection. The streaming endpoint holds a bounded per-client queue
// supplied by logging.Ring.Subscribe, which drops rather than blocks the
// logger on a slow client.
type Server struct {
	cfg     Config
	log     zerolog.Logger
	httpSrv *http.Server
	started time.Time
}

// New builds a Server. Call Run to start accepting connections.
func New(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "diagnostics").Logger(),
		started: time.Now(),
	}
}

// Router builds the chi router. Exported so tests can exercise handlers
// with httptest.NewServer without going through Run's net.Listen.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleDashboard)
	r.Get("/api/logs", s.handleLogs)
	r.Get("/api/logs/stream", s.handleLogStream)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/gpio", s.handleGPIO)
	r.Post("/api/emergency-stop", s.handleEmergencyStop)

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// it down gracefully.
func (s *Server) Run(ctx context.Context) error {
	port := s.cfg.Port
	if port <= 0 {
		port = DefaultPort
	}

	s.httpSrv = &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the log stream holds the connection open indefinitely
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("diagnostics server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("diagnostics server forced to shutdown")
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Uptime returns how long the server has been constructed, backing the
// health endpoint's uptime-indicative field.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.started)
}
