package queue

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/spool/internal/adapter"
	"github.com/mattjoyce/spool/internal/events"
	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/log"
	"github.com/mattjoyce/spool/internal/request"
	"github.com/mattjoyce/spool/internal/spooldir"
)

// Dispatch makes one pass over every key in the table and returns when all
// of them are handled.
func (q *Queue) Dispatch(ctx context.Context) {
	keys := q.keys()
	if len(keys) == 0 {
		return
	}

	if q.opts.Workers <= 1 {
		for _, key := range keys {
			q.dispatchKey(ctx, key)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(q.opts.Workers)
	for _, key := range keys {
		g.Go(func() error {
			q.dispatchKey(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
}

func (q *Queue) dispatchKey(ctx context.Context, key string) {
	rec := q.lookup(key)
	if rec == nil {
		return
	}

	if failed, claimed := rec.Claim(); claimed {
		if failed {
			q.reject(ctx, rec)
		} else {
			q.forward(ctx, rec)
		}
		return
	}

	if now := q.opts.Now(); rec.Expired(now, q.opts.Retention) {
		q.expire(ctx, rec, now)
	}
}

// reject answers a malformed request with the fixed error document.
func (q *Queue) reject(ctx context.Context, rec *request.Record) {
	logger := log.WithRequest(q.logger, rec.Key).With("id", rec.ID)
	logger.Info("rejecting malformed request", "reason", rec.ParseError)

	var cause error
	out := q.layout.OutboxPath(rec.Key)
	if err := spooldir.WriteJSONFile(out, adapter.ErrorResponse{Error: FormatErrorMessage}); err != nil {
		logger.Error("unable to write error response", "path", out, "error", err)
		cause = err
	}

	reason := rec.ParseError
	q.record(ctx, rec, ledger.OutcomeRejected, &reason)
	q.publish(events.RequestRejected, rec, cause)
}

// forward hands a well-formed request to the adapter. The record is
// resolved whatever the adapter returns.
func (q *Queue) forward(ctx context.Context, rec *request.Record) {
	logger := log.WithRequest(q.logger, rec.Key).With("id", rec.ID)
	out := q.layout.OutboxPath(rec.Key)

	start := time.Now()
	err := q.adapter.CreateDump(ctx, rec.AdapterRequest(out))
	elapsed := time.Since(start)

	if err != nil {
		logger.Error("adapter failed", "error", err, "duration", elapsed)
		msg := err.Error()
		q.record(ctx, rec, ledger.OutcomeAdapterFailed, &msg)
		q.publish(events.RequestAdapterFailed, rec, err)
		return
	}

	logger.Info("request dispatched", "path", out, "duration", elapsed)
	q.record(ctx, rec, ledger.OutcomeDispatched, nil)
	q.publish(events.RequestDispatched, rec, nil)
}

// expire removes rec from the table if it is still the entry for its key.
func (q *Queue) expire(ctx context.Context, rec *request.Record, now time.Time) {
	q.mu.Lock()
	current, ok := q.table[rec.Key]
	if !ok || current != rec {
		q.mu.Unlock()
		return
	}
	delete(q.table, rec.Key)
	q.mu.Unlock()

	q.logger.Debug("request expired", "request", rec.Key, "id", rec.ID, "age", rec.Age(now))
	if q.opts.Recorder != nil {
		if err := q.opts.Recorder.MarkExpired(ctx, rec.ID, now); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			q.logger.Error("unable to mark ledger entry expired", "request", rec.Key, "error", err)
		}
	}
	q.publish(events.RequestExpired, rec, nil)
}

func (q *Queue) record(ctx context.Context, rec *request.Record, outcome ledger.Outcome, errMsg *string) {
	if q.opts.Recorder == nil {
		return
	}
	err := q.opts.Recorder.Record(ctx, ledger.Entry{
		ID:         rec.ID,
		Key:        rec.Key,
		Digest:     rec.Digest,
		CreatedAt:  rec.CreatedAt,
		ResolvedAt: q.opts.Now(),
		Outcome:    outcome,
		Error:      errMsg,
	})
	if err != nil {
		q.logger.Error("unable to record resolution", "request", rec.Key, "outcome", outcome, "error", err)
	}
}
