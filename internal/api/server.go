// Package api exposes a small read-only admin surface: health, a snapshot
// of all timers, and a live event stream. It backs the watch TUI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/punchkit/punchclock/internal/events"
	"github.com/punchkit/punchclock/internal/timer"
)

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the bearer token granting access to /v1 routes.
	APIKey string
}

// Server represents the HTTP admin API server.
type Server struct {
	config    Config
	store     timer.Store
	engine    *timer.Engine
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, store timer.Store, engine *timer.Engine, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		store:     store,
		engine:    engine,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("api server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/timers", s.handleTimers)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status   string `json:"status"`
	UptimeMS int64  `json:"uptime_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		UptimeMS: time.Since(s.startedAt).Milliseconds(),
	})
}

// TimerInfo is one timer in the /v1/timers response.
type TimerInfo struct {
	UserID      string     `json:"user_id"`
	TaskID      string     `json:"task_id"`
	Running     bool       `json:"running"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Accumulated string     `json:"accumulated"`
	Status      string     `json:"status"`
}

// TimersResponse is the /v1/timers body.
type TimersResponse struct {
	Timers []TimerInfo `json:"timers"`
}

func (s *Server) handleTimers(w http.ResponseWriter, r *http.Request) {
	snapshot := s.store.Snapshot()

	resp := TimersResponse{Timers: make([]TimerInfo, 0, len(snapshot))}
	for _, key := range sortedKeys(snapshot) {
		rec := snapshot[key]
		info := TimerInfo{
			UserID:      key.UserID,
			TaskID:      key.TaskID,
			Running:     rec.Running(),
			StartedAt:   rec.StartedAt,
			Accumulated: timer.FormatDuration(rec.Accumulated),
		}
		if rec.Running() {
			info.Status = s.engine.RunningStatus(key)
		} else {
			info.Status = s.engine.StoppedStatus(key)
		}
		resp.Timers = append(resp.Timers, info)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// sortedKeys orders all snapshot keys (running and stopped) for stable
// output.
func sortedKeys(snapshot map[timer.Key]timer.Record) []timer.Key {
	keys := make([]timer.Key, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].TaskID < keys[j].TaskID
	})
	return keys
}

// writeJSON sends a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError sends a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
