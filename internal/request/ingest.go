// Package request models a request document taken off the inbox and the
// ingestion step that turns an inbox file into an in-memory Record.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattjoyce/spool/internal/log"
	"github.com/mattjoyce/spool/internal/spooldir"
)

// DefaultRetryDelay is how long ingestion waits before re-reading a file
// that did not parse, in case the producer was still writing it.
const DefaultRetryDelay = 500 * time.Millisecond

// IngestOptions tunes Ingest. The zero value is usable.
type IngestOptions struct {
	RetryDelay time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
	// Sleep waits between the first read and the retry.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o IngestOptions) withDefaults() IngestOptions {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Logger == nil {
		o.Logger = log.WithComponent("ingest")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Ingest reads key from the inbox and returns its Record. It never fails:
// unreadable or malformed files come back as failed records. Whatever the
// parse outcome, a file that still exists is copied to the archive and
// removed from the inbox; trouble doing so is only logged.
func Ingest(ctx context.Context, layout *spooldir.Layout, key string, opts IngestOptions) *Record {
	opts = opts.withDefaults()
	logger := log.WithRequest(opts.Logger, key)
	id := uuid.NewString()
	path := layout.InboxPath(key)

	// mtime first: it orders the request even if the rest is slow.
	info, err := os.Stat(path)
	if err != nil {
		logger.Warn("request went missing before it could be read", "error", err)
		return NewFailedRecord(id, key, opts.Now(), "request file missing")
	}
	createdAt := info.ModTime()

	var (
		data     []byte
		payload  map[string]any
		parseErr error
		readErr  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		data, readErr = os.ReadFile(path)
		if readErr != nil {
			break
		}
		payload, parseErr = Decode(data)
		if parseErr == nil || attempt == 1 {
			break
		}
		logger.Debug("request did not parse, retrying", "error", parseErr, "delay", opts.RetryDelay)
		if err := opts.Sleep(ctx, opts.RetryDelay); err != nil {
			break
		}
	}

	var rec *Record
	switch {
	case readErr != nil:
		logger.Warn("request went missing", "error", readErr)
		rec = NewFailedRecord(id, key, createdAt, "request file missing")
	case parseErr != nil:
		logger.Info("request is malformed", "error", parseErr)
		rec = NewFailedRecord(id, key, createdAt, parseErr.Error())
		rec.Digest = spooldir.Digest(data)
	default:
		logger.Info("request opened", "fields", len(payload), "id", id)
		rec = NewRecord(id, key, createdAt, payload)
		rec.Digest = spooldir.Digest(data)
	}

	if errors.Is(readErr, os.ErrNotExist) {
		return rec
	}

	// The inbox copy is only removed once the archive holds the bytes.
	skipped, err := layout.CopyToArchive(key, rec.Digest)
	if err != nil {
		logger.Warn("unable to archive request, leaving it in the inbox", "error", err)
		return rec
	}
	if skipped {
		logger.Debug("identical request already archived")
	}
	if err := layout.Release(key); err != nil {
		logger.Warn("unable to delete request from inbox", "error", err)
	}
	return rec
}

// Decode parses a request document. It must be valid UTF-8 holding exactly
// one JSON object. Numbers are kept as json.Number so they pass through to
// adapters unchanged.
func Decode(data []byte) (map[string]any, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("request is not valid UTF-8")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("request is not a JSON object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("request has trailing data after the JSON object")
	}
	return payload, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
