// Package ledger keeps an SQLite audit row for every request the queue
// resolves. The in-memory table stays authoritative; the ledger only
// remembers.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

const entryColumns = `id, key, digest, created_at, resolved_at, outcome, error, expired_at`

// Record inserts e, replacing an earlier row with the same ID.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry id is empty")
	}
	if e.Key == "" {
		return fmt.Errorf("entry key is empty")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("invalid outcome: %q", e.Outcome)
	}
	if e.ResolvedAt.IsZero() {
		e.ResolvedAt = l.now()
	}

	var digest any
	if e.Digest != "" {
		digest = e.Digest
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO request_log(id, key, digest, created_at, resolved_at, outcome, error)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  resolved_at = excluded.resolved_at,
  outcome = excluded.outcome,
  error = excluded.error;
`, e.ID, e.Key, digest, formatTime(e.CreatedAt), formatTime(e.ResolvedAt), string(e.Outcome), e.Error)
	if err != nil {
		return fmt.Errorf("insert request_log: %w", err)
	}
	return nil
}

// MarkExpired stamps the row for id with the time the record left memory.
func (l *Ledger) MarkExpired(ctx context.Context, id string, at time.Time) error {
	res, err := l.db.ExecContext(ctx, `
UPDATE request_log
SET expired_at = ?
WHERE id = ? AND expired_at IS NULL;
`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Latest returns the most recent row for key.
func (l *Ledger) Latest(ctx context.Context, key string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM request_log
WHERE key = ?
ORDER BY resolved_at DESC, rowid DESC
LIMIT 1;
`, key)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	return e, nil
}

// Recent returns up to limit rows, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM request_log
ORDER BY resolved_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return collect(rows)
}

// History returns every row for key, oldest first. A key that was never
// resolved yields an empty slice.
func (l *Ledger) History(ctx context.Context, key string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM request_log
WHERE key = ?
ORDER BY resolved_at ASC, rowid ASC;
`, key)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request_log: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request_log: %w", err)
	}
	return out, nil
}

// Summary counts rows by outcome.
func (l *Ledger) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{ByOutcome: make(map[Outcome]int)}

	rows, err := l.db.QueryContext(ctx, `
SELECT outcome, COUNT(*), COUNT(expired_at), MAX(resolved_at)
FROM request_log
GROUP BY outcome;
`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome  string
			count    int
			expired  int
			lastSeen sql.NullString
		)
		if err := rows.Scan(&outcome, &count, &expired, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.ByOutcome[Outcome(outcome)] = count
		s.Total += count
		s.Expired += expired
		if t, ok := parseTime(lastSeen); ok && (s.LastResolvedAt == nil || t.After(*s.LastResolvedAt)) {
			s.LastResolvedAt = &t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return s, nil
}

// Prune deletes rows resolved more than retention ago. Zero retention keeps
// everything.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(l.now().Add(-retention))

	res, err := l.db.ExecContext(ctx, `DELETE FROM request_log WHERE resolved_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune request_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune request_log: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e           Entry
		digest      sql.NullString
		createdAtS  string
		resolvedAtS string
		outcome     string
		lastError   sql.NullString
		expiredAtS  sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Key, &digest, &createdAtS, &resolvedAtS, &outcome, &lastError, &expiredAtS); err != nil {
		return nil, err
	}

	e.Digest = digest.String
	e.Outcome = Outcome(outcome)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, resolvedAtS); err == nil {
		e.ResolvedAt = t
	}
	if lastError.Valid {
		e.Error = &lastError.String
	}
	if t, ok := parseTime(expiredAtS); ok {
		e.ExpiredAt = &t
	}
	return &e, nil
}

// Timestamps are stored as fixed-width UTC strings so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) (time.Time, bool) {
	if !s.Valid {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
