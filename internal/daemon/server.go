// Package daemon serves mounted lesson views over HTTP and a websocket stream.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/checkpoint/internal/config"
	"github.com/felixgeelhaar/checkpoint/internal/domain"
	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/queue"
	"github.com/felixgeelhaar/checkpoint/internal/storage/sqlite"
)

// ProgressReader exposes stored completions
type ProgressReader interface {
	Summary(ctx context.Context) (*domain.ProgressSummary, error)
	Completions(ctx context.Context, lessonID string) ([]domain.Completion, error)
	Reset(ctx context.Context, lessonID string) error
}

// TallyReader exposes XP totals built from consumed completion events
type TallyReader interface {
	Lessons() []queue.LessonTally
}

// EventLog exposes recorded view events
type EventLog interface {
	Query(ctx context.Context, eventType, viewID string, since time.Time) ([]sqlite.AnalyticsEvent, error)
}

// Server represents the checkpoint daemon HTTP server
type Server struct {
	cfg      *config.LocalConfig
	server   *http.Server
	router   *http.ServeMux
	logger   *slog.Logger
	version  string
	started  time.Time
	validate *requestValidator
	upgrader websocket.Upgrader

	lessons  *lesson.Service
	progress ProgressReader
	tally    TallyReader
	events   EventLog
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config  *config.LocalConfig
	Lessons *lesson.Service
	Logger  *slog.Logger
	Version string

	// Optional
	Progress ProgressReader
	Tally    TallyReader
	Events   EventLog

	// AllowedOrigins restricts websocket origins; empty allows all
	AllowedOrigins []string
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("%w: config is required", domain.ErrInvalidInput)
	}
	if cfg.Lessons == nil {
		return nil, fmt.Errorf("%w: lesson service is required", domain.ErrInvalidInput)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:      cfg.Config,
		router:   http.NewServeMux(),
		logger:   logger,
		version:  version,
		started:  time.Now(),
		validate: newRequestValidator(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
		lessons:  cfg.Lessons,
		progress: cfg.Progress,
		tally:    cfg.Tally,
		events:   cfg.Events,
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Lessons
	s.router.HandleFunc("GET /v1/lessons", s.handleListLessons)
	s.router.HandleFunc("GET /v1/lessons/{id}", s.handleGetLesson)
	s.router.HandleFunc("GET /v1/lessons/{id}/segments", s.handleSegments)
	s.router.HandleFunc("GET /v1/lessons/{id}/audit", s.handleAudit)

	// Views
	s.router.HandleFunc("POST /v1/views", s.handleMountView)
	s.router.HandleFunc("GET /v1/views", s.handleListViews)
	s.router.HandleFunc("GET /v1/views/{id}", s.handleGetView)
	s.router.HandleFunc("DELETE /v1/views/{id}", s.handleUnmountView)
	s.router.HandleFunc("GET /v1/views/{id}/stream", s.handleStream)

	// Exercises
	s.router.HandleFunc("GET /v1/views/{id}/exercises/{instance}", s.handleGetExercise)
	s.router.HandleFunc("POST /v1/views/{id}/exercises/{instance}/expand", s.handleExpand)
	s.router.HandleFunc("PUT /v1/views/{id}/exercises/{instance}/answer", s.handleAnswer)
	s.router.HandleFunc("POST /v1/views/{id}/exercises/{instance}/submit", s.handleSubmit)
	s.router.HandleFunc("POST /v1/views/{id}/exercises/{instance}/retry", s.handleRetry)
	s.router.HandleFunc("POST /v1/views/{id}/exercises/{instance}/close", s.handleClose)

	// Progress & events
	s.router.HandleFunc("GET /v1/progress", s.handleProgress)
	s.router.HandleFunc("GET /v1/progress/{lesson}", s.handleLessonProgress)
	s.router.HandleFunc("DELETE /v1/progress/{lesson}", s.handleResetProgress)
	s.router.HandleFunc("GET /v1/events", s.handleEvents)
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return correlationIDMiddleware(recoveryMiddleware(s.logger, loggingMiddleware(s.logger, s.router)))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting checkpoint daemon",
		"addr", s.server.Addr,
		"gateway", s.cfg.Gateway.URL,
		"storage", s.cfg.Storage.Driver,
	)
	return s.server.ListenAndServe()
}

// Shutdown unmounts every view and gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down daemon...")
	s.lessons.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":        "running",
		"version":       s.version,
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"mounted_views": len(s.lessons.Views()),
		"gateway":       s.cfg.Gateway.URL,
		"storage":       s.cfg.Storage.Driver,
		"mode":          s.cfg.Runtime.Mode,
		"cache":         s.cfg.Cache.RedisURL != "",
		"queue":         s.cfg.Queue.RabbitMQURL != "",
	})
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// domainError maps domain failures onto HTTP statuses
func (s *Server) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrLessonNotFound):
		s.jsonError(w, http.StatusNotFound, "lesson not found", err)
	case errors.Is(err, domain.ErrViewNotFound):
		s.jsonError(w, http.StatusNotFound, "view not found", err)
	case errors.Is(err, domain.ErrInstanceNotFound), errors.Is(err, domain.ErrExerciseNotFound):
		s.jsonError(w, http.StatusNotFound, "exercise not found", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		s.jsonError(w, http.StatusConflict, "action not allowed in current phase", err)
	case errors.Is(err, domain.ErrStaleResponse):
		s.jsonError(w, http.StatusConflict, "exercise was closed before grading finished", err)
	case errors.Is(err, domain.ErrBlankAnswer), errors.Is(err, domain.ErrInvalidInput):
		s.jsonError(w, http.StatusUnprocessableEntity, "invalid answer", err)
	default:
		s.jsonError(w, http.StatusInternalServerError, "internal error", err)
	}
}
