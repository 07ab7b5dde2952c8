// Package httpserver serves the harvester's operational endpoints while a
// run is in progress: liveness, Prometheus metrics and per-provider progress.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/observability"
)

// ProgressSource provides the latest progress event of every provider.
type ProgressSource interface {
	Snapshot() []observability.ProgressEvent
}

// DatabaseHealth reports the health of the artifact database.
// *database.DB satisfies it.
type DatabaseHealth interface {
	Health(ctx context.Context) database.HealthStatus
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	MetricsPath     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Gatherer is scraped on MetricsPath. Nil means the default registry.
	Gatherer prometheus.Gatherer

	// Database is checked by /healthz when set.
	Database DatabaseHealth
}

// Server is the operational HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	progress   ProgressSource
	gatherer   prometheus.Gatherer
	cfg        Config
	started    time.Time
	logger     zerolog.Logger
}

// NewServer creates a server. progress may be nil.
func NewServer(cfg Config, progress ProgressSource, logger zerolog.Logger) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		progress: progress,
		gatherer: cfg.Gatherer,
		cfg:      cfg,
		started:  time.Now(),
		logger:   logger.With().Str("component", "http-server").Logger(),
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogMiddleware(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Method(http.MethodGet, s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/progress", s.progressHandler)
	r.Get("/progress/{provider}", s.providerProgressHandler)

	return r
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server, waiting at most the
// configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns liveness status, including the database when one
// is configured.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.started).Round(time.Second).String()
	if s.cfg.Database == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "uptime": uptime})
		return
	}

	health := s.cfg.Database.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "uptime": uptime, "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"uptime":   uptime,
		"database": health.Status,
		"error":    health.Error,
	})
}

type progressResponse struct {
	Providers []observability.ProgressEvent `json:"providers"`
}

// progressHandler returns the latest progress of every provider.
func (s *Server) progressHandler(w http.ResponseWriter, _ *http.Request) {
	events := []observability.ProgressEvent{}
	if s.progress != nil {
		events = append(events, s.progress.Snapshot()...)
	}
	writeJSON(w, http.StatusOK, progressResponse{Providers: events})
}

// providerProgressHandler returns the latest progress of one provider.
func (s *Server) providerProgressHandler(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if s.progress != nil {
		for _, e := range s.progress.Snapshot() {
			if e.Provider == provider {
				writeJSON(w, http.StatusOK, e)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("no progress for provider %q", provider))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
