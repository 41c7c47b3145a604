// Package server is the admin HTTP surface: health probes, Prometheus
// metrics, rate-limit inspection and conversation review.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahrav/go-convgen/internal/config"
	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	"github.com/ahrav/go-convgen/internal/llm/circuitbreaker"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/storage"
)

// RateLimiter is the limiter surface the admin routes use.
type RateLimiter interface {
	Status(ctx context.Context, key string) ratelimit.Status
	Reset(ctx context.Context, key string) error
	Stats() ratelimit.Stats
}

// Generator is the pipeline surface the conversation routes use.
type Generator interface {
	GenerateSingle(ctx context.Context, params domain.GenerationParams) (*generation.Result, error)
	Unflag(ctx context.Context, id, performedBy, comment string) error
}

// CircuitBreakers is the breaker surface the circuit routes use.
type CircuitBreakers interface {
	Snapshot() map[string]circuitbreaker.State
	Reset(key string)
}

// Deps are the collaborators behind the routes. Metrics may be nil, which
// leaves /metrics unregistered.
type Deps struct {
	Store     storage.Store
	Limiter   RateLimiter
	Generator Generator
	Breakers  CircuitBreakers
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Server wraps the chi router and its http.Server.
type Server struct {
	router *chi.Mux
	srv    *http.Server
	deps   Deps
	logger *slog.Logger
}

// New builds the router. The server is not listening until Start.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "NOT_FOUND", "the requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed for this resource")
	})

	s := &Server{router: r, deps: deps, logger: logger}
	s.registerRoutes()
	s.srv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }
