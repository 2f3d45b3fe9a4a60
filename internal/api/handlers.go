package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/request"
)

const maxRecentLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.queue.Stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		InMemory:       stats.InMemory,
		Alive:          stats.Alive,
		PollIntervalMs: s.queue.PollInterval().Milliseconds(),
	})
}

// handleListRequests handles GET /requests.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	snap := s.queue.Snapshot()
	if snap == nil {
		snap = []request.Snapshot{}
	}
	respondJSON(w, http.StatusOK, RequestsResponse{Requests: snap})
}

// handleGetRequest handles GET /requests/{key}.
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, err := s.ledger.Latest(r.Context(), key)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read ledger", "request", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleLedgerSummary handles GET /ledger/summary.
func (s *Server) handleLedgerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.logger.Error("failed to summarise ledger", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to summarise ledger")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleLedgerRecent handles GET /ledger/recent?limit=N.
func (s *Server) handleLedgerRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	entries, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read ledger", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	respondJSON(w, http.StatusOK, LedgerResponse{Entries: entries})
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
