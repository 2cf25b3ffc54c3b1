// Package api provides the HTTP server for the sync service
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	v0 "github.com/campuskit/feedersync/internal/api/v0"
	"github.com/campuskit/feedersync/internal/logger"
	"github.com/campuskit/feedersync/internal/service"
)

// Server is the HTTP server wrapping the sync API
type Server struct {
	address        string
	requestTimeout time.Duration
	svc            service.SyncService
	pool           *pgxpool.Pool

	httpServer *http.Server
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithAddress sets the listen address
func WithAddress(address string) ServerOption {
	return func(s *Server) {
		if address != "" {
			s.address = address
		}
	}
}

// WithRequestTimeout sets the per-request timeout
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

// WithReadinessPool sets the database pool probed by the readiness endpoint
func WithReadinessPool(pool *pgxpool.Pool) ServerOption {
	return func(s *Server) {
		s.pool = pool
	}
}

// NewServer creates the HTTP server for the sync service
func NewServer(svc service.SyncService, opts ...ServerOption) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("sync service is required")
	}

	s := &Server{
		address:        ":8080",
		requestTimeout: 60 * time.Second,
		svc:            svc,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/health", s.health)
	r.Get("/readiness", s.readiness)
	r.Mount("/api/v0", v0.Router(s.svc))

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pool.Ping(ctx); err != nil {
			logger.Warnf("readiness probe failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Start begins serving requests and blocks until the server stops
func (s *Server) Start() error {
	logger.Infof("HTTP server listening on %s", s.address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
