// Package api serves a read-only HTTP view of a running spool.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/spool/internal/events"
	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/queue"
	"github.com/mattjoyce/spool/internal/request"
)

// QueueReader is the part of the queue the API reads.
type QueueReader interface {
	Snapshot() []request.Snapshot
	Stats() queue.Stats
	PollInterval() time.Duration
}

// LedgerReader is the part of the ledger the API reads.
type LedgerReader interface {
	Latest(ctx context.Context, key string) (*ledger.Entry, error)
	Recent(ctx context.Context, limit int) ([]ledger.Entry, error)
	Summary(ctx context.Context) (*ledger.Summary, error)
}

// EventSource feeds the SSE stream.
type EventSource interface {
	Since(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	queue     QueueReader
	ledger    LedgerReader
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, q QueueReader, l LedgerReader, ev EventSource, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		queue:     q,
		ledger:    l,
		events:    ev,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/{key}", s.handleGetRequest)
		r.Get("/ledger/summary", s.handleLedgerSummary)
		r.Get("/ledger/recent", s.handleLedgerRecent)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
