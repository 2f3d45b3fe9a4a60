// Package doctor looks for spool configurations that load cleanly but will
// misbehave once running.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/spool/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("[%s] %s", i.Category, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Category, i.Field, i.Message)
}

// Doctor inspects a loaded configuration against the host it will run on.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor for a config that already passed config.Validate.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateLayout(r)
	d.validateAdapter(r)
	d.validateListeners(r)
	d.warnTiming(r)
	d.warnUnboundedGrowth(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateLayout rejects spool directories nested in one another and a
// state database kept inside one of them.
func (d *Doctor) validateLayout(r *Result) {
	dirs := []struct{ field, path string }{
		{"spool.inbox", d.cfg.Spool.Inbox},
		{"spool.outbox", d.cfg.Spool.Outbox},
		{"spool.archive", d.cfg.Spool.Archive},
	}
	for i, a := range dirs {
		for j, b := range dirs {
			if i != j && within(a.path, b.path) {
				d.addError(r, "layout", a.field, fmt.Sprintf("%s is nested inside %s", a.path, b.field))
			}
		}
	}

	stateDir := filepath.Dir(d.cfg.State.Path)
	for _, dir := range dirs {
		if stateDir == filepath.Clean(dir.path) || within(stateDir, dir.path) {
			d.addError(r, "layout", "state.path", fmt.Sprintf("state database must not live inside %s", dir.field))
		}
	}
}

// validateAdapter checks that an exec entrypoint can be started.
func (d *Doctor) validateAdapter(r *Result) {
	if !strings.EqualFold(d.cfg.Adapter.Kind, config.AdapterExec) {
		d.addWarning(r, "adapter", "adapter.kind", "echo adapter answers every request with its own contents")
		return
	}

	entry := d.cfg.Adapter.Exec.Entrypoint
	if !strings.ContainsRune(entry, filepath.Separator) {
		if _, err := d.lookPath(entry); err != nil {
			d.addError(r, "adapter", "adapter.exec.entrypoint", fmt.Sprintf("%q not found in PATH", entry))
		}
		return
	}

	info, err := os.Stat(entry)
	switch {
	case err != nil:
		d.addError(r, "adapter", "adapter.exec.entrypoint", err.Error())
	case info.IsDir():
		d.addError(r, "adapter", "adapter.exec.entrypoint", fmt.Sprintf("%s is a directory", entry))
	case info.Mode().Perm()&0o111 == 0:
		d.addError(r, "adapter", "adapter.exec.entrypoint", fmt.Sprintf("%s is not executable", entry))
	}
}

func (d *Doctor) validateListeners(r *Result) {
	if d.cfg.API.Enabled && d.cfg.Webhook.Enabled && d.cfg.API.Listen == d.cfg.Webhook.Listen {
		d.addError(r, "listeners", "webhook.listen", fmt.Sprintf("%s is also used by api.listen", d.cfg.Webhook.Listen))
	}
}

func (d *Doctor) warnTiming(r *Result) {
	if d.cfg.Dispatch.Retention < d.cfg.Poll.Base {
		d.addWarning(r, "timing", "dispatch.retention",
			fmt.Sprintf("%v is shorter than poll.base (%v); resolved requests leave the table on the next idle poll", d.cfg.Dispatch.Retention, d.cfg.Poll.Base))
	}
	if d.cfg.Ingest.RetryDelay >= d.cfg.Poll.Base {
		d.addWarning(r, "timing", "ingest.retry_delay",
			fmt.Sprintf("%v is not shorter than poll.base (%v); each malformed request stalls a scan", d.cfg.Ingest.RetryDelay, d.cfg.Poll.Base))
	}
	if strings.EqualFold(d.cfg.Adapter.Kind, config.AdapterExec) && d.cfg.Adapter.Exec.Timeout > d.cfg.Dispatch.Retention {
		d.addWarning(r, "timing", "adapter.exec.timeout",
			fmt.Sprintf("%v exceeds dispatch.retention (%v); a client may give up before a slow response lands", d.cfg.Adapter.Exec.Timeout, d.cfg.Dispatch.Retention))
	}
}

func (d *Doctor) warnUnboundedGrowth(r *Result) {
	if d.cfg.Spool.ArchiveRetention == 0 {
		d.addWarning(r, "retention", "spool.archive_retention", "archive is never pruned")
	}
	if d.cfg.State.LedgerRetention == 0 {
		d.addWarning(r, "retention", "state.ledger_retention", "ledger is never pruned")
	}
}

// within reports whether path sits strictly below dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
