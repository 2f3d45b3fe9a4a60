package queue

import (
	"context"
)

// Step runs one cycle: scan, merge, dispatch, then any due maintenance.
// Duplicate entries and scan failures are logged and do not stop the step.
func (q *Queue) Step(ctx context.Context) {
	if err := q.Scan(ctx); err != nil {
		q.logger.Error("inbox scan failed", "error", err)
	}
	if err := q.Merge(); err != nil {
		q.logger.Warn("duplicate entries dropped", "error", err)
	}
	q.Dispatch(ctx)
	q.maintain(ctx)
}

// Run waits on the poll controller and steps until ctx is cancelled. A step
// already under way when ctx is cancelled runs to completion.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("queue started",
		"inbox", q.layout.Inbox,
		"outbox", q.layout.Outbox,
		"workers", q.opts.Workers,
		"retention", q.opts.Retention,
	)
	defer q.logger.Info("queue stopped")

	stepCtx := context.WithoutCancel(ctx)
	for {
		if err := q.rate.Wait(ctx); err != nil {
			return nil
		}
		q.Step(stepCtx)
	}
}

// maintain prunes the archive and the ledger when the prune interval has
// elapsed since the last prune.
func (q *Queue) maintain(ctx context.Context) {
	if q.opts.ArchivePruneEvery <= 0 {
		return
	}
	now := q.opts.Now()
	if !q.lastPrune.IsZero() && now.Sub(q.lastPrune) < q.opts.ArchivePruneEvery {
		return
	}
	q.lastPrune = now

	if q.opts.ArchiveRetention > 0 {
		report, err := q.layout.PruneArchive(ctx, q.opts.ArchiveRetention)
		if err != nil {
			q.logger.Warn("archive prune failed", "error", err)
		} else if report.DeletedFiles > 0 {
			q.logger.Info("archive pruned", "deleted_files", report.DeletedFiles)
		}
	}

	if q.opts.Recorder != nil && q.opts.LedgerRetention > 0 {
		n, err := q.opts.Recorder.Prune(ctx, q.opts.LedgerRetention)
		if err != nil {
			q.logger.Warn("ledger prune failed", "error", err)
		} else if n > 0 {
			q.logger.Info("ledger pruned", "deleted_rows", n)
		}
	}
}
