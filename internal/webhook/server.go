package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mattjoyce/spool/internal/spooldir"
)

// Server represents the webhook HTTP server.
type Server struct {
	config  Config
	inbox   Dropper
	logger  *slog.Logger
	server  *http.Server
	newUUID func() string

	endpoints map[string]*EndpointConfig
}

// New creates a webhook server dropping into inbox.
func New(config Config, inbox Dropper, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		inbox:     inbox,
		logger:    logger,
		newUUID:   uuid.NewString,
		endpoints: endpoints,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleDrop)
	}
	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if err := verifyHMACSignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature rejected",
			"path", r.URL.Path,
			"header", endpoint.SignatureHeader,
			"missing", signature == "",
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		s.respondError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	key := strings.TrimSpace(r.Header.Get(KeyHeader))
	if key == "" {
		key = endpoint.KeyPrefix + s.newUUID() + ".json"
	}
	if !spooldir.IsCandidate(key) {
		s.respondError(w, http.StatusBadRequest, "invalid request key")
		return
	}

	if err := s.inbox.Drop(key, body); err != nil {
		if errors.Is(err, spooldir.ErrExists) {
			s.respondError(w, http.StatusConflict, "request key already pending")
			return
		}
		s.logger.Error("failed to drop request", "path", r.URL.Path, "key", key, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to store request")
		return
	}

	s.logger.Info("request dropped into inbox", "path", r.URL.Path, "key", key, "bytes", len(body))
	s.respondJSON(w, http.StatusAccepted, DropResponse{Key: key})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
