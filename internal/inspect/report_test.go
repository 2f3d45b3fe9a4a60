package inspect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/spooldir"
	"github.com/mattjoyce/spool/internal/storage"
)

func setup(t *testing.T) (*ledger.Ledger, *spooldir.Layout) {
	t.Helper()

	tmpDir := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(tmpDir, "spool.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	layout, err := spooldir.New(filepath.Join(tmpDir, "in"), filepath.Join(tmpDir, "out"), filepath.Join(tmpDir, "archive"))
	if err != nil {
		t.Fatalf("spooldir.New: %v", err)
	}
	if err := layout.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return ledger.New(db), layout
}

func TestBuildReportRendersFilesHistoryAndResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, layout := setup(t)

	created := time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC)
	boom := "adapter exited with status 1"
	if err := l.Record(ctx, ledger.Entry{ID: "id-1", Key: "req1.json", CreatedAt: created, ResolvedAt: created.Add(time.Second), Outcome: ledger.OutcomeAdapterFailed, Error: &boom}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.MarkExpired(ctx, "id-1", created.Add(time.Minute)); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}
	if err := l.Record(ctx, ledger.Entry{ID: "id-2", Key: "req1.json", CreatedAt: created.Add(time.Hour), ResolvedAt: created.Add(time.Hour + time.Second), Outcome: ledger.OutcomeDispatched}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := os.WriteFile(layout.ArchivePath("req1.json"), []byte(`{"security":"AAPL US Equity"}`), 0o644); err != nil {
		t.Fatalf("WriteFile(archive): %v", err)
	}
	if err := os.WriteFile(layout.OutboxPath("req1.json"), []byte(`{"key":"req1.json","data":{"PX_LAST":101.5}}`), 0o644); err != nil {
		t.Fatalf("WriteFile(outbox): %v", err)
	}

	out, err := BuildReport(ctx, l, layout, "req1.json")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, needle := range []string{
		"Request Trail",
		"Resolutions : 2",
		"inbox    : <absent>",
		layout.ArchivePath("req1.json"),
		"[1] 2026-02-08T09:00:01Z adapter_failed",
		"error      : adapter exited with status 1",
		"expired_at : 2026-02-08T09:01:00Z",
		"[2] 2026-02-08T10:00:01Z dispatched",
		"expired_at : <in table>",
		`"PX_LAST": 101.5`,
	} {
		if !strings.Contains(out, needle) {
			t.Fatalf("output missing %q:\n%s", needle, out)
		}
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, layout := setup(t)

	if err := os.WriteFile(layout.InboxPath("pending.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile(inbox): %v", err)
	}

	out, err := BuildJSONReport(ctx, l, layout, "pending.json")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to unmarshal JSON output: %v", err)
	}
	if report.Key != "pending.json" {
		t.Errorf("key = %s, want pending.json", report.Key)
	}
	if len(report.History) != 0 {
		t.Errorf("expected no history, got %d", len(report.History))
	}
	if len(report.Files) != 3 || !report.Files[0].Present || report.Files[0].Size != 2 {
		t.Errorf("unexpected inbox state: %+v", report.Files)
	}
	if report.Files[0].Digest != spooldir.Digest([]byte(`{}`)) {
		t.Errorf("digest = %s", report.Files[0].Digest)
	}
	if report.Response != nil {
		t.Errorf("expected no response, got %s", report.Response)
	}
}

func TestBuildReportUnknownOrInvalidKey(t *testing.T) {
	t.Parallel()
	l, layout := setup(t)

	for _, key := range []string{"", "missing.json", "../escape.json"} {
		if _, err := BuildReport(context.Background(), l, layout, key); err == nil {
			t.Errorf("BuildReport(%q) expected error", key)
		}
	}
}
