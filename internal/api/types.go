package api

import (
	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/request"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	InMemory       int    `json:"in_memory"`
	Alive          int    `json:"alive"`
	PollIntervalMs int64  `json:"poll_interval_ms"`
}

// RequestsResponse is returned by GET /requests.
type RequestsResponse struct {
	Requests []request.Snapshot `json:"requests"`
}

// LedgerResponse is returned by GET /ledger/recent.
type LedgerResponse struct {
	Entries []ledger.Entry `json:"entries"`
}
