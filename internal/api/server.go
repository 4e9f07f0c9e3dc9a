// Package api serves the dispatch client over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/journal"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/registry"
)

// CommandClient is the part of the dispatch client the API exposes.
type CommandClient interface {
	Submit(ctx context.Context, req client.SubmitRequest) (client.SubmitResult, error)
	Poll(ctx context.Context, ids []int64, opts client.PollOptions) ([]registry.Response, error)
	Lookup(id int64) (registry.Request, *registry.Response, bool)
	WorkerStatus(worker int) (monitor.WorkerStatus, bool)
	WorkersStatus() map[int]monitor.WorkerStatus
	State() client.State
	Session() string
}

// History lists journal entries.
type History interface {
	List(ctx context.Context, session string, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxBlock caps how long a blocking submit or poll may hold a request.
	MaxBlock time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	client    CommandClient
	history   History
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. history may be nil when the
// journal is disabled.
func New(config Config, c CommandClient, history History, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxBlock <= 0 {
		config.MaxBlock = 5 * time.Minute
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		client:    c,
		history:   history,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Blocking submits and the event stream hold responses open.
		WriteTimeout: s.config.MaxBlock + 30*time.Second,
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
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeCommandsRW)).Post("/commands", s.handleSubmit)
		r.With(s.requireScopes(auth.ScopeCommandsRO)).Post("/commands/poll", s.handlePoll)
		r.With(s.requireScopes(auth.ScopeCommandsRO)).Get("/commands/{id}", s.handleGetCommand)
		r.With(s.requireScopes(auth.ScopeWorkersRO)).Get("/workers", s.handleListWorkers)
		r.With(s.requireScopes(auth.ScopeWorkersRO)).Get("/workers/{id}", s.handleGetWorker)
		r.With(s.requireScopes(auth.ScopeHistoryRO)).Get("/history", s.handleHistory)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
