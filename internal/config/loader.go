package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration that loaded but failed validation.
var ErrInvalid = errors.New("invalid configuration")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Values absent from the
// file keep their Defaults. A directory is accepted if it holds config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over Defaults after ${VAR} interpolation. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when given, otherwise the first discovered
// file, otherwise Defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	if found, err := Discover(); err == nil {
		return Load(found)
	}
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths anchors relative directory and state paths at the config
// file's directory.
func (c *Config) resolvePaths(baseDir string) {
	for _, p := range []*string{&c.Spool.Inbox, &c.Spool.Outbox, &c.Spool.Archive, &c.State.Path, &c.Service.PIDFile} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		*p = filepath.Join(baseDir, *p)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// left for Validate to report
		return match
	})
}

// Validate checks cfg for values the service cannot run with. Every
// failure wraps ErrInvalid.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		fail("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "", "json", "text":
	default:
		fail("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	dirs := map[string]string{
		"spool.inbox":   cfg.Spool.Inbox,
		"spool.outbox":  cfg.Spool.Outbox,
		"spool.archive": cfg.Spool.Archive,
	}
	seen := make(map[string]string, len(dirs))
	for _, field := range []string{"spool.inbox", "spool.outbox", "spool.archive"} {
		dir := dirs[field]
		if strings.TrimSpace(dir) == "" {
			fail("%s is required", field)
			continue
		}
		clean := filepath.Clean(dir)
		if other, dup := seen[clean]; dup {
			fail("%s and %s must be different directories", other, field)
		}
		seen[clean] = field
	}
	if cfg.Spool.ArchiveRetention < 0 {
		fail("spool.archive_retention must not be negative")
	}
	if cfg.Spool.ArchiveRetention > 0 && cfg.Spool.ArchivePruneEvery <= 0 {
		fail("spool.archive_prune_every must be positive when archive_retention is set")
	}

	if cfg.Poll.Base <= 0 {
		fail("poll.base must be positive")
	}
	if cfg.Poll.Burst <= 0 {
		fail("poll.burst must be positive")
	}
	if cfg.Poll.Burst > cfg.Poll.Base {
		fail("poll.burst (%v) must not exceed poll.base (%v)", cfg.Poll.Burst, cfg.Poll.Base)
	}
	if cfg.Poll.BurstBudget < 1 {
		fail("poll.burst_budget must be at least 1")
	}

	if cfg.Ingest.RetryDelay < 0 {
		fail("ingest.retry_delay must not be negative")
	}
	if cfg.Dispatch.Workers < 1 {
		fail("dispatch.workers must be at least 1")
	}
	if cfg.Dispatch.Retention <= 0 {
		fail("dispatch.retention must be positive")
	}

	switch strings.ToLower(cfg.Adapter.Kind) {
	case AdapterEcho:
		if cfg.Adapter.EchoMaxLatency < 0 {
			fail("adapter.echo_max_latency must not be negative")
		}
	case AdapterExec:
		if strings.TrimSpace(cfg.Adapter.Exec.Entrypoint) == "" {
			fail("adapter.exec.entrypoint is required for the exec adapter")
		}
		if cfg.Adapter.Exec.Timeout <= 0 {
			fail("adapter.exec.timeout must be positive")
		}
		for k, v := range cfg.Adapter.Exec.Env {
			if name := unresolvedVar(v); name != "" {
				fail("adapter.exec.env.%s: environment variable ${%s} is not set", k, name)
			}
		}
	default:
		fail("adapter.kind must be %q or %q (got %q)", AdapterEcho, AdapterExec, cfg.Adapter.Kind)
	}

	if cfg.State.Path == "" {
		fail("state.path is required")
	}
	if cfg.State.LedgerRetention < 0 {
		fail("state.ledger_retention must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			fail("api.listen is required when the API is enabled")
		}
		if name := unresolvedVar(cfg.API.APIKey); name != "" {
			fail("api.api_key: environment variable ${%s} is not set", name)
		} else if cfg.API.APIKey == "" {
			fail("api.api_key is required when the API is enabled")
		}
	}

	if cfg.Webhook.Enabled {
		if cfg.Webhook.Listen == "" {
			fail("webhook.listen is required when webhooks are enabled")
		}
		if len(cfg.Webhook.Endpoints) == 0 {
			fail("webhook.endpoints must not be empty when webhooks are enabled")
		}
		paths := make(map[string]bool, len(cfg.Webhook.Endpoints))
		for i, ep := range cfg.Webhook.Endpoints {
			if !strings.HasPrefix(ep.Path, "/") {
				fail("webhook.endpoints[%d].path must start with /", i)
			}
			if paths[ep.Path] {
				fail("webhook.endpoints[%d].path %q is duplicated", i, ep.Path)
			}
			paths[ep.Path] = true
			if name := unresolvedVar(ep.Secret); name != "" {
				fail("webhook.endpoints[%d].secret: environment variable ${%s} is not set", i, name)
			} else if ep.Secret == "" {
				fail("webhook.endpoints[%d].secret is required", i)
			}
			if strings.ContainsAny(ep.KeyPrefix, `/\`) || strings.HasPrefix(ep.KeyPrefix, ".") {
				fail("webhook.endpoints[%d].key_prefix %q must be a plain, visible file name prefix", i, ep.KeyPrefix)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func unresolvedVar(value string) string {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return m[1]
	}
	return ""
}
