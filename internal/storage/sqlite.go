// Package storage opens the SQLite database that backs the dispatch ledger.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, fmt.Errorf("sqlite needs local disk for locking, set state.path elsewhere: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Dispatch workers write concurrently; one connection serializes them
	// instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS request_log (
  id          TEXT PRIMARY KEY,
  key         TEXT NOT NULL,
  digest      TEXT,
  created_at  TEXT NOT NULL,
  resolved_at TEXT NOT NULL,
  outcome     TEXT NOT NULL,
  error       TEXT,
  expired_at  TEXT
);`,
		`CREATE INDEX IF NOT EXISTS request_log_key_resolved_at_idx ON request_log(key, resolved_at);`,
		`CREATE INDEX IF NOT EXISTS request_log_outcome_idx ON request_log(outcome);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
