// Package api provides the HTTP REST API for Roadkit.
//
// Endpoints:
//
//	GET  /health           →  liveness probe
//	GET  /ready            →  readiness probe (pings the database)
//	POST /api/search       →  tenant-scoped similarity search
//	GET  /api/queue/stats  →  queue depth and dead-letter count
//	POST /api/queue/drain  →  trigger one drain cycle manually
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: Health check endpoints (/health, /ready)
//   - search.go: Similarity search endpoint
//   - queue.go: Queue observability and manual drain
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadkit/roadkit/internal/embedding"
	"github.com/roadkit/roadkit/internal/log"
	"github.com/roadkit/roadkit/internal/queue"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for Roadkit's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	// Handlers
	health *HealthHandler
	search *SearchHandler
	queue  *QueueHandler
}

// NewServer creates a new HTTP server with all routes registered.
// drainer may be nil when the process does not run the pipeline; the drain
// endpoint then reports 503.
func NewServer(pool *pgxpool.Pool, store *embedding.Store, q *queue.Queue, queueName string, dr *embedding.Drainer, logger log.Logger) *Server {
	mux := http.NewServeMux()

	// Avoid a typed-nil interface so the handler's nil check still works.
	var d drainer
	if dr != nil {
		d = dr
	}

	s := &Server{
		mux:    mux,
		logger: logger,
		health: NewHealthHandler(pool, logger),
		search: NewSearchHandler(store, logger),
		queue:  NewQueueHandler(q, queueName, d, logger),
	}

	s.health.RegisterRoutes(mux)
	s.search.RegisterRoutes(mux)
	s.queue.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
