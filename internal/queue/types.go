package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mattjoyce/spool/internal/ledger"
)

// ErrDuplicateEntry is returned by Merge when staged records collided with
// each other or with the table. The first record for a key wins.
var ErrDuplicateEntry = errors.New("duplicate entry")

// FormatErrorMessage is written back for requests that could not be parsed.
const FormatErrorMessage = "JSON format error."

const defaultRetention = 20 * time.Second

// Recorder persists resolutions. Errors are logged, never acted on.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
	MarkExpired(ctx context.Context, id string, at time.Time) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Publisher receives queue activity.
type Publisher interface {
	Publish(eventType string, data any)
}

// Options tunes a Queue. Zero values fall back to defaults; Recorder and
// Publisher are optional.
type Options struct {
	// Workers bounds concurrent dispatch. One or less dispatches serially in
	// key order.
	Workers int
	// Retention is how long a resolved record stays in the table.
	Retention time.Duration
	// RetryDelay is the pause before re-reading a request that did not parse.
	RetryDelay time.Duration

	ArchiveRetention  time.Duration
	ArchivePruneEvery time.Duration
	LedgerRetention   time.Duration

	Recorder  Recorder
	Publisher Publisher
	Logger    *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stats counts the in-memory table.
type Stats struct {
	InMemory int `json:"in_memory"`
	Alive    int `json:"alive"`
	Failed   int `json:"failed"`
}
