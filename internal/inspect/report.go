package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/spooldir"
)

// HistoryReader is the slice of the ledger a report needs.
type HistoryReader interface {
	History(ctx context.Context, key string) ([]ledger.Entry, error)
}

// Report is the structured JSON representation of a request trail.
type Report struct {
	Key      string          `json:"key"`
	Files    []File          `json:"files"`
	History  []ledger.Entry  `json:"history"`
	Response json.RawMessage `json:"response,omitempty"`
}

// File describes the copy of the request held in one spool directory.
type File struct {
	Dir     string    `json:"dir"`
	Path    string    `json:"path"`
	Present bool      `json:"present"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"mod_time,omitempty"`
	Digest  string    `json:"digest,omitempty"`
}

// BuildReport renders a terminal-friendly trail for one request key.
func BuildReport(ctx context.Context, h HistoryReader, layout *spooldir.Layout, key string) (string, error) {
	report, err := gatherReportData(ctx, h, layout, key)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Request Trail\n")
	fmt.Fprintf(&out, "Key         : %s\n", report.Key)
	fmt.Fprintf(&out, "Resolutions : %d\n", len(report.History))
	fmt.Fprintf(&out, "\n")

	for _, f := range report.Files {
		if !f.Present {
			fmt.Fprintf(&out, "%-8s : <absent>\n", f.Dir)
			continue
		}
		fmt.Fprintf(&out, "%-8s : %s (%d bytes, %s)\n", f.Dir, f.Path, f.Size, f.ModTime.UTC().Format(time.RFC3339))
		fmt.Fprintf(&out, "           digest %s\n", renderUnset(f.Digest, "<unreadable>"))
	}
	fmt.Fprintf(&out, "\n")

	for i, e := range report.History {
		fmt.Fprintf(&out, "[%d] %s %s\n", i+1, e.ResolvedAt.UTC().Format(time.RFC3339), e.Outcome)
		fmt.Fprintf(&out, "    id         : %s\n", e.ID)
		fmt.Fprintf(&out, "    created_at : %s\n", e.CreatedAt.UTC().Format(time.RFC3339))
		if e.Error != nil {
			fmt.Fprintf(&out, "    error      : %s\n", *e.Error)
		}
		if e.ExpiredAt != nil {
			fmt.Fprintf(&out, "    expired_at : %s\n", e.ExpiredAt.UTC().Format(time.RFC3339))
		} else {
			fmt.Fprintf(&out, "    expired_at : <in table>\n")
		}
	}

	if len(report.Response) > 0 {
		fmt.Fprintf(&out, "\nresponse :\n")
		for _, line := range strings.Split(strings.TrimSpace(prettyJSON(report.Response)), "\n") {
			fmt.Fprintf(&out, "  %s\n", line)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable request trail.
func BuildJSONReport(ctx context.Context, h HistoryReader, layout *spooldir.Layout, key string) (string, error) {
	report, err := gatherReportData(ctx, h, layout, key)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, h HistoryReader, layout *spooldir.Layout, key string) (*Report, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if err := spooldir.ValidateKey(key); err != nil {
		return nil, err
	}

	history, err := h.History(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if history == nil {
		history = []ledger.Entry{}
	}

	report := &Report{
		Key:     key,
		History: history,
		Files: []File{
			statFile("inbox", layout.InboxPath(key)),
			statFile("archive", layout.ArchivePath(key)),
			statFile("outbox", layout.OutboxPath(key)),
		},
	}

	if report.Files[2].Present {
		if data, err := os.ReadFile(report.Files[2].Path); err == nil && json.Valid(data) {
			report.Response = data
		}
	}

	if len(history) == 0 && !report.Files[0].Present && !report.Files[1].Present && !report.Files[2].Present {
		return nil, fmt.Errorf("request %q not found", key)
	}
	return report, nil
}

func statFile(dir, path string) File {
	f := File{Dir: dir, Path: path}
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.Present = true
		}
		return f
	}
	f.Present = true
	f.Size = info.Size()
	f.ModTime = info.ModTime()
	f.Digest, _ = spooldir.FileDigest(path)
	return f
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
