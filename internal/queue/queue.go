package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/spool/internal/adapter"
	"github.com/mattjoyce/spool/internal/events"
	"github.com/mattjoyce/spool/internal/log"
	"github.com/mattjoyce/spool/internal/pollrate"
	"github.com/mattjoyce/spool/internal/request"
	"github.com/mattjoyce/spool/internal/spooldir"
)

// Queue owns the in-memory request table.
type Queue struct {
	layout  *spooldir.Layout
	adapter adapter.Adapter
	rate    *pollrate.Controller
	opts    Options
	logger  *slog.Logger

	mu     sync.RWMutex
	table  map[string]*request.Record
	staged []*request.Record

	lastPrune time.Time
}

// New creates a Queue reading from layout and answering through a.
func New(layout *spooldir.Layout, a adapter.Adapter, rate *pollrate.Controller, opts Options) (*Queue, error) {
	if layout == nil {
		return nil, fmt.Errorf("layout is nil")
	}
	if a == nil {
		return nil, fmt.Errorf("adapter is nil")
	}
	if rate == nil {
		return nil, fmt.Errorf("poll rate controller is nil")
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("queue")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Queue{
		layout:  layout,
		adapter: a,
		rate:    rate,
		opts:    opts,
		logger:  opts.Logger,
		table:   make(map[string]*request.Record),
	}, nil
}

// Scan ingests every inbox file whose key is not in the table and stages
// the records for the next Merge. Each staged file triggers a poll burst.
func (q *Queue) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(q.layout.Inbox)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}

	ingestOpts := request.IngestOptions{
		RetryDelay: q.opts.RetryDelay,
		Logger:     q.logger,
		Now:        q.opts.Now,
		Sleep:      q.opts.Sleep,
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := entry.Name()
		if !entry.Type().IsRegular() || !spooldir.IsCandidate(key) {
			continue
		}
		if q.known(key) {
			continue
		}

		rec := request.Ingest(ctx, q.layout, key, ingestOpts)

		q.mu.Lock()
		q.staged = append(q.staged, rec)
		q.mu.Unlock()

		q.rate.TriggerBurst()
		q.publish(events.RequestIngested, rec, nil)
	}
	return nil
}

// Merge folds staged records into the table and clears the batch. Records
// whose key is already present are dropped and reported once through
// ErrDuplicateEntry.
func (q *Queue) Merge() error {
	q.mu.Lock()
	before := len(q.table) + len(q.staged)
	var dropped []string
	for _, rec := range q.staged {
		if _, exists := q.table[rec.Key]; exists {
			dropped = append(dropped, rec.Key)
			continue
		}
		q.table[rec.Key] = rec
	}
	after := len(q.table)
	q.staged = nil
	q.mu.Unlock()

	if before == after {
		return nil
	}
	if q.opts.Publisher != nil {
		q.opts.Publisher.Publish(events.QueueDuplicate, events.DuplicateData{Keys: dropped})
	}
	return fmt.Errorf("%w: %s", ErrDuplicateEntry, strings.Join(dropped, ", "))
}

// Process scans the inbox and merges what it found. Records staged before a
// scan error are still merged.
func (q *Queue) Process(ctx context.Context) error {
	scanErr := q.Scan(ctx)
	if err := q.Merge(); err != nil {
		if scanErr != nil {
			return fmt.Errorf("%w; %w", scanErr, err)
		}
		return err
	}
	return scanErr
}

// Snapshot returns every record in the table, oldest first.
func (q *Queue) Snapshot() []request.Snapshot {
	q.mu.RLock()
	recs := make([]*request.Record, 0, len(q.table))
	for _, rec := range q.table {
		recs = append(recs, rec)
	}
	q.mu.RUnlock()

	slices.SortFunc(recs, func(a, b *request.Record) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})

	out := make([]request.Snapshot, len(recs))
	for i, rec := range recs {
		out[i] = rec.Snapshot()
	}
	return out
}

// Stats counts the table.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Stats{InMemory: len(q.table)}
	for _, rec := range q.table {
		st := rec.State()
		if st.Alive {
			s.Alive++
		}
		if st.Failed {
			s.Failed++
		}
	}
	return s
}

// PollInterval is the interval the next wait would use.
func (q *Queue) PollInterval() time.Duration {
	return q.rate.Peek()
}

func (q *Queue) known(key string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.table[key]
	return ok
}

func (q *Queue) lookup(key string) *request.Record {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.table[key]
}

func (q *Queue) keys() []string {
	q.mu.RLock()
	keys := make([]string, 0, len(q.table))
	for key := range q.table {
		keys = append(keys, key)
	}
	q.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

func (q *Queue) publish(eventType string, rec *request.Record, cause error) {
	if q.opts.Publisher == nil {
		return
	}
	data := events.RequestData{ID: rec.ID, Key: rec.Key, Failed: rec.Failed()}
	if cause != nil {
		data.Error = cause.Error()
	}
	q.opts.Publisher.Publish(eventType, data)
}
