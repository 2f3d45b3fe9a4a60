// Package adapter defines the boundary between the spool and whatever fetches
// data for a request.
//
// The queue hands an adapter the request payload merged with the resolved
// outbox path and expects a response file at that path afterwards. Adapters
// report failure by returning an error; they should still leave something at
// the path when they can.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/spool/internal/config"
	"github.com/mattjoyce/spool/internal/request"
)

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks github.com/mattjoyce/spool/internal/adapter Adapter

// Adapter turns one request into a response file.
type Adapter interface {
	CreateDump(ctx context.Context, req map[string]any) error
}

// Func adapts a plain function to the Adapter interface.
type Func func(ctx context.Context, req map[string]any) error

// CreateDump calls f.
func (f Func) CreateDump(ctx context.Context, req map[string]any) error {
	return f(ctx, req)
}

// ErrorResponse is the single-field document written when a request cannot
// be answered with data.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OutputPath extracts the resolved outbox path from an adapter request.
func OutputPath(req map[string]any) (string, error) {
	raw, ok := req[request.PathField]
	if !ok {
		return "", fmt.Errorf("request has no %q field", request.PathField)
	}
	path, ok := raw.(string)
	if !ok || strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("request field %q must be a non-empty string", request.PathField)
	}
	return filepath.Clean(path), nil
}

// FromConfig builds the adapter selected by cfg.Kind.
func FromConfig(cfg config.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", config.AdapterEcho:
		return NewEcho(cfg.EchoMaxLatency), nil
	case config.AdapterExec:
		return NewExec(cfg.Exec, logger)
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", cfg.Kind)
	}
}
