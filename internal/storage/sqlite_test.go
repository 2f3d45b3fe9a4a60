package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "spool.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "request_log").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "request_log", name)

	// idempotent on an existing database
	require.NoError(t, BootstrapSQLite(context.Background(), db))
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite(context.Background(), "")
	require.Error(t, err)
}
