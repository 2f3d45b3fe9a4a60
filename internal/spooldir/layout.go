// Package spooldir owns the three directories a spool works on: the inbox
// producers write requests into, the archive that keeps a copy of every
// ingested request, and the outbox responses are written to.
//
// File names are request keys. A key is a single path element; anything that
// could escape its directory is rejected.
package spooldir

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Layout holds the resolved inbox, outbox and archive directories.
type Layout struct {
	Inbox   string
	Outbox  string
	Archive string

	now func() time.Time
}

// PruneReport summarizes an archive prune run.
type PruneReport struct {
	DeletedFiles int
}

// New validates and cleans the three directories. They must be non-empty and
// distinct from one another.
func New(inbox, outbox, archive string) (*Layout, error) {
	dirs := map[string]string{"inbox": inbox, "outbox": outbox, "archive": archive}
	seen := make(map[string]string, len(dirs))
	cleaned := make(map[string]string, len(dirs))
	for _, role := range []string{"inbox", "outbox", "archive"} {
		trimmed := strings.TrimSpace(dirs[role])
		if trimmed == "" {
			return nil, fmt.Errorf("%s directory is empty", role)
		}
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("resolve %s directory %q: %w", role, trimmed, err)
		}
		if other, dup := seen[abs]; dup {
			return nil, fmt.Errorf("%s and %s directories must differ (%s)", other, role, abs)
		}
		seen[abs] = role
		cleaned[role] = abs
	}

	return &Layout{
		Inbox:   cleaned["inbox"],
		Outbox:  cleaned["outbox"],
		Archive: cleaned["archive"],
		now:     time.Now,
	}, nil
}

// Ensure creates any missing directory.
func (l *Layout) Ensure(ctx context.Context) error {
	for _, dir := range []string{l.Inbox, l.Outbox, l.Archive} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// InboxPath returns the inbox location of key.
func (l *Layout) InboxPath(key string) string { return filepath.Join(l.Inbox, key) }

// OutboxPath returns the outbox location of key.
func (l *Layout) OutboxPath(key string) string { return filepath.Join(l.Outbox, key) }

// ArchivePath returns the archive location of key.
func (l *Layout) ArchivePath(key string) string { return filepath.Join(l.Archive, key) }

// CopyToArchive copies the inbox file for key into the archive. When the archive
// already holds a file with the same digest the copy is skipped and skipped
// is true. An empty digest always copies.
func (l *Layout) CopyToArchive(key, digest string) (skipped bool, err error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	dst := l.ArchivePath(key)
	if digest != "" {
		existing, err := FileDigest(dst)
		if err == nil && existing == digest {
			return true, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("digest archived copy of %q: %w", key, err)
		}
	}

	if err := copyFile(l.InboxPath(key), dst); err != nil {
		return false, fmt.Errorf("archive %q: %w", key, err)
	}
	return false, nil
}

// Release removes the inbox file for key. A file that is already gone is not
// an error.
func (l *Layout) Release(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := os.Remove(l.InboxPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %q from inbox: %w", key, err)
	}
	return nil
}

// ErrExists is returned by Drop when the inbox already holds the key.
var ErrExists = errors.New("request already in inbox")

// Drop writes data into the inbox under key. The file appears under its
// final name only once fully written, and an existing file is never
// replaced.
func (l *Layout) Drop(key string, data []byte) error {
	if !IsCandidate(key) {
		return fmt.Errorf("request key %q is not accepted in the inbox", key)
	}

	tmp, err := os.CreateTemp(l.Inbox, ".spool-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", key, err)
	}

	// link fails on an existing name, rename would not
	if err := os.Link(tmpName, l.InboxPath(key)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// PruneArchive deletes archived files whose modification time is older than
// olderThan.
func (l *Layout) PruneArchive(ctx context.Context, olderThan time.Duration) (PruneReport, error) {
	if err := ctx.Err(); err != nil {
		return PruneReport{}, err
	}
	if olderThan <= 0 {
		return PruneReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(l.Archive)
	if os.IsNotExist(err) {
		return PruneReport{}, nil
	}
	if err != nil {
		return PruneReport{}, fmt.Errorf("read archive directory: %w", err)
	}

	now := l.now
	if now == nil {
		now = time.Now
	}
	cutoff := now().Add(-olderThan)
	report := PruneReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("read archive entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(l.Archive, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return report, fmt.Errorf("remove archived %q: %w", entry.Name(), err)
		}
		report.DeletedFiles++
	}

	return report, nil
}

// IsCandidate reports whether an inbox entry name should be considered a
// request. Hidden files are reserved for in-progress writes.
func IsCandidate(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return ValidateKey(name) == nil
}

// ValidateKey rejects keys that are not a single, plain path element.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return fmt.Errorf("request key is empty")
	}
	if key == "." || key == ".." {
		return fmt.Errorf("request key %q is invalid", key)
	}
	if strings.Contains(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("request key %q must not contain path separators", key)
	}
	if filepath.Clean(key) != key {
		return fmt.Errorf("request key %q is invalid", key)
	}
	return nil
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileDigest returns the hex BLAKE3-256 digest of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteJSONFile atomically replaces path with the JSON encoding of v.
func WriteJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".spool-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	// Keep the producer's mtime so archive pruning ages from arrival.
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".spool-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
