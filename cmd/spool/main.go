package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/spool/internal/adapter"
	"github.com/mattjoyce/spool/internal/api"
	"github.com/mattjoyce/spool/internal/config"
	"github.com/mattjoyce/spool/internal/doctor"
	"github.com/mattjoyce/spool/internal/events"
	"github.com/mattjoyce/spool/internal/inspect"
	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/lock"
	"github.com/mattjoyce/spool/internal/log"
	"github.com/mattjoyce/spool/internal/pollrate"
	"github.com/mattjoyce/spool/internal/queue"
	"github.com/mattjoyce/spool/internal/spooldir"
	"github.com/mattjoyce/spool/internal/storage"
	"github.com/mattjoyce/spool/internal/tui/watch"
	"github.com/mattjoyce/spool/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		if hasHelpFlag(args) {
			printStartHelp()
			return 0
		}
		return runStart(args)
	case "status":
		if hasHelpFlag(args) {
			printStatusHelp()
			return 0
		}
		return runStatus(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "inspect":
		if hasHelpFlag(args) {
			printInspectHelp()
			return 0
		}
		return runInspect(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`spool - filesystem-mediated request queue

Usage:
  spool <command> [flags]

Commands:
  start             Drain the inbox in the foreground
  status            Check config, directories, state database and lock
  watch             Live view of the request table and event stream
  inspect <key>     Show the files and ledger history of one request
  config check      Validate the configuration and flag risky settings
  config show       Print the resolved configuration

General:
  version           Show version information
  help              Show this help message

Use 'spool <command> --help' for command flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printStartHelp() {
	fmt.Println("Usage: spool start [--config PATH]")
	fmt.Println("Poll the inbox, hand requests to the adapter and write responses to the outbox.")
}

func printStatusHelp() {
	fmt.Println("Usage: spool status [--config PATH] [--json]")
	fmt.Println("Check config, spool directories, state database and PID lock.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All checks passed and no instance is running")
	fmt.Println("  1  One or more checks failed")
}

func printWatchHelp() {
	fmt.Println("Usage: spool watch [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Status API URL (default: http://127.0.0.1:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or SPOOL_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  r                Refresh now")
	fmt.Println("  ↑/↓, k/j         Scroll requests")
}

func printInspectHelp() {
	fmt.Println("Usage: spool inspect <key> [--config PATH] [--json]")
	fmt.Println("Show where a request sits in the spool directories and every recorded resolution.")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: spool config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("spool %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the check result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		if !result.Valid {
			return 1
		}
		return 0
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	if !result.Valid {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "Config invalid: %s\n", e)
		}
		return 1
	}

	source := cfg.SourcePath
	if source == "" {
		source = "(built-in defaults)"
	}
	fmt.Printf("Config OK: %s\n", source)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	// never echo the secret
	if cfg.API.APIKey != "" {
		cfg.API.APIKey = "********"
	}
	for i := range cfg.Webhook.Endpoints {
		cfg.Webhook.Endpoints[i].Secret = "********"
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// --- status ---

type statusCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	ActivePID int    `json:"active_pid,omitempty"`
}

type statusReport struct {
	Healthy bool            `json:"healthy"`
	Checks  []statusCheck   `json:"checks"`
	Ledger  *ledger.Summary `json:"ledger,omitempty"`
	Recent  []ledger.Entry  `json:"recent,omitempty"`
}

const statusRecentRows = 5

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := collectStatus(context.Background(), *configPath)

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Print(renderStatus(report, watch.NewDefaultTheme()))
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func collectStatus(ctx context.Context, configPath string) statusReport {
	var report statusReport
	add := func(c statusCheck) { report.Checks = append(report.Checks, c) }

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		add(statusCheck{Name: "config_load", Detail: err.Error()})
		for _, name := range []string{"spool_dirs", "state_db", "pid_lock"} {
			add(statusCheck{Name: name, Detail: "skipped: config not loaded"})
		}
		return report
	}
	source := cfg.SourcePath
	if source == "" {
		source = "built-in defaults"
	}
	add(statusCheck{Name: "config_load", OK: true, Detail: source})
	add(checkSpoolDirs(cfg))

	dbCheck := statusCheck{Name: "state_db", Detail: cfg.State.Path}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		dbCheck.Detail = fmt.Sprintf("%s: %v", cfg.State.Path, err)
	} else if db, err := storage.OpenSQLite(ctx, cfg.State.Path); err != nil {
		dbCheck.Detail = err.Error()
	} else {
		led := ledger.New(db)
		summary, err := led.Summary(ctx)
		if err == nil {
			report.Recent, err = led.Recent(ctx, statusRecentRows)
		}
		_ = db.Close()
		if err != nil {
			dbCheck.Detail = err.Error()
		} else {
			dbCheck.OK = true
			report.Ledger = summary
		}
	}
	add(dbCheck)

	add(checkPIDLock(pidLockPath(cfg)))

	report.Healthy = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Healthy = false
		}
	}
	return report
}

func checkSpoolDirs(cfg *config.Config) statusCheck {
	c := statusCheck{Name: "spool_dirs"}
	var missing []string
	for _, dir := range []string{cfg.Spool.Inbox, cfg.Spool.Outbox, cfg.Spool.Archive} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 {
		c.Detail = "missing: " + strings.Join(missing, ", ")
		return c
	}
	if err := storage.CheckLocalFilesystem(cfg.Spool.Inbox); err != nil {
		c.Detail = err.Error()
		return c
	}
	c.OK = true
	c.Detail = cfg.Spool.Inbox
	return c
}

// checkPIDLock passes when no other process holds the lock.
func checkPIDLock(path string) statusCheck {
	c := statusCheck{Name: "pid_lock", Detail: path}
	l, err := lock.AcquirePIDLock(path)
	if err != nil {
		c.Detail = err.Error()
		if errors.Is(err, lock.ErrLocked) {
			if pid, ok := lock.Holder(path); ok {
				c.ActivePID = pid
			}
		}
		return c
	}
	_ = l.Release()
	c.OK = true
	return c
}

func renderStatus(report statusReport, theme watch.Theme) string {
	var b strings.Builder
	for _, c := range report.Checks {
		state := theme.StatusOK.Render("OK")
		if !c.OK {
			state = theme.StatusFailed.Render("FAIL")
		}
		fmt.Fprintf(&b, "%s: %s", c.Name, state)
		if c.Detail != "" {
			fmt.Fprintf(&b, "  %s", theme.Dim.Render(c.Detail))
		}
		b.WriteString("\n")
	}

	if report.Ledger != nil {
		b.WriteString("\n")
		b.WriteString(renderLedgerSummary(*report.Ledger, theme))
		b.WriteString("\n")
	}
	if len(report.Recent) > 0 {
		b.WriteString("\n")
		b.WriteString(renderRecent(report.Recent, theme))
		b.WriteString("\n")
	}
	return b.String()
}

func renderLedgerSummary(s ledger.Summary, theme watch.Theme) string {
	outcomes := make([]string, 0, len(s.ByOutcome))
	for o := range s.ByOutcome {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Border.GetBorderTopForeground())).
		Headers("OUTCOME", "COUNT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, o := range outcomes {
		t.Row(theme.OutcomeStyle(o).Render(o), fmt.Sprint(s.ByOutcome[ledger.Outcome(o)]))
	}
	t.Row("expired", fmt.Sprint(s.Expired))
	t.Row("total", fmt.Sprint(s.Total))

	last := "never"
	if s.LastResolvedAt != nil {
		last = s.LastResolvedAt.Local().Format(time.RFC3339)
	}
	return t.String() + "\n" + theme.Dim.Render("last resolved: "+last)
}

func renderRecent(entries []ledger.Entry, theme watch.Theme) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Border.GetBorderTopForeground())).
		Headers("RESOLVED", "KEY", "OUTCOME", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, e := range entries {
		errText := ""
		if e.Error != nil {
			errText = *e.Error
		}
		t.Row(
			e.ResolvedAt.Local().Format("2006-01-02 15:04:05"),
			e.Key,
			theme.OutcomeStyle(string(e.Outcome)).Render(string(e.Outcome)),
			errText,
		)
	}
	return t.String()
}

// --- inspect ---

func runInspect(args []string) int {
	var key string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		key, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if key == "" && fs.NArg() > 0 {
		key = fs.Arg(0)
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "Usage: spool inspect <key> [--config PATH] [--json]")
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	layout, err := spooldir.New(cfg.Spool.Inbox, cfg.Spool.Outbox, cfg.Spool.Archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid spool directories: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	out, err := build(ctx, ledger.New(db), layout, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(strings.TrimRight(out, "\n") + "\n")
	return 0
}

func pidLockPath(cfg *config.Config) string {
	if cfg.Service.PIDFile != "" {
		return cfg.Service.PIDFile
	}
	dbPath := cfg.State.Path
	base := filepath.Base(dbPath)
	return filepath.Join(filepath.Dir(dbPath), strings.TrimSuffix(base, filepath.Ext(base))+".pid")
}

// --- watch ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Status API URL")
	apiKey := fs.String("api-key", os.Getenv("SPOOL_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SPOOL_API_KEY env var.")
		return 1
	}

	m := watch.New(strings.TrimRight(*apiURL, "/"), *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- start ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	logger := log.WithComponent("main")
	logger.Info("spool starting", "version", version, "config", cfg.SourcePath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("spool failed", "error", err)
		return 1
	}
	logger.Info("spool stopped")
	return 0
}

// serve wires the service together and blocks until ctx is cancelled or a
// component fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	lockPath := pidLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	layout, err := spooldir.New(cfg.Spool.Inbox, cfg.Spool.Outbox, cfg.Spool.Archive)
	if err != nil {
		return err
	}
	if err := layout.Ensure(ctx); err != nil {
		return err
	}
	if err := storage.CheckLocalFilesystem(layout.Inbox); err != nil {
		logger.Warn("inbox is not on a local filesystem, arrival times may be unreliable", "inbox", layout.Inbox, "error", err)
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	led := ledger.New(db)
	hub := events.NewHub(256)

	a, err := adapter.FromConfig(cfg.Adapter, log.WithComponent("adapter"))
	if err != nil {
		return fmt.Errorf("build adapter: %w", err)
	}

	rate := pollrate.New(cfg.Poll.Base, cfg.Poll.Burst, cfg.Poll.BurstBudget)
	q, err := queue.New(layout, a, rate, queue.Options{
		Workers:           cfg.Dispatch.Workers,
		Retention:         cfg.Dispatch.Retention,
		RetryDelay:        cfg.Ingest.RetryDelay,
		ArchiveRetention:  cfg.Spool.ArchiveRetention,
		ArchivePruneEvery: cfg.Spool.ArchivePruneEvery,
		LedgerRetention:   cfg.State.LedgerRetention,
		Recorder:          led,
		Publisher:         hub,
		Logger:            log.WithComponent("queue"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return q.Run(gctx)
	})
	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, q, led, hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhook.Enabled {
		wcfg, err := webhook.FromConfig(cfg.Webhook)
		if err != nil {
			return fmt.Errorf("configure webhooks: %w", err)
		}
		webhookServer := webhook.New(wcfg, layout, log.WithComponent("webhook"))
		g.Go(func() error {
			return webhookServer.Start(gctx)
		})
		logger.Info("webhook server enabled", "listen", wcfg.Listen, "endpoints", len(wcfg.Endpoints))
	}

	logger.Info("spool running (press Ctrl+C to stop)", "adapter", cfg.Adapter.Kind)
	return g.Wait()
}
