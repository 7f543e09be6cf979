// Package server exposes the worker's HTTP surface: job creation, queued
// task execution, status queries, retries, and chain orchestration.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/leadfoundry/enrichworker/metrics"
	"github.com/leadfoundry/enrichworker/orchestrator"
	"github.com/leadfoundry/enrichworker/queue"
	"github.com/leadfoundry/enrichworker/task"
)

// Server wires the HTTP routes to the task runtime.
type Server struct {
	registry     *task.Registry
	runner       *task.Runner
	store        task.StatusStore
	queue        queue.TaskQueue
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
	authToken    string
	healthDetail func() map[string]string

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAuthToken sets the bearer token checked in local mode. In production
// the platform's IAM layer authenticates callers and only token presence is
// enforced.
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = token }
}

// WithOrchestrator enables the chain-orchestration endpoint.
func WithOrchestrator(o *orchestrator.Orchestrator) Option {
	return func(s *Server) { s.orchestrator = o }
}

// WithHealthDetail adds a per-provider health snapshot to the /health
// payload.
func WithHealthDetail(detail func() map[string]string) Option {
	return func(s *Server) { s.healthDetail = detail }
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server.
func New(registry *task.Registry, runner *task.Runner, store task.StatusStore, q queue.TaskQueue, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		runner:   runner,
		store:    store,
		queue:    q,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(s.traceMiddleware)
	r.Use(s.logMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/tasks/create/{name}", s.handleCreate)
		r.Post("/tasks/{name}", s.handleExecute)
		r.Get("/tasks/{jobID}/status", s.handleStatus)
		r.Get("/tasks/failed", s.handleListFailed)
		r.Post("/tasks/{jobID}/retry", s.handleRetry)

		if s.orchestrator != nil {
			r.Post("/orchestrations", s.handleOrchestrate)
		}
	})

	return r
}

// Start listens on the given port until ctx is cancelled, then drains.
func (s *Server) Start(ctx context.Context, port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
