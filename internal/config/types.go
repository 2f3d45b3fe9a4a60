package config

import "time"

// Adapter kinds accepted in adapter.kind.
const (
	AdapterEcho = "echo"
	AdapterExec = "exec"
)

// Config represents the complete spool configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Spool    SpoolConfig    `yaml:"spool" json:"spool"`
	Poll     PollConfig     `yaml:"poll" json:"poll"`
	Ingest   IngestConfig   `yaml:"ingest" json:"ingest"`
	Dispatch DispatchConfig `yaml:"dispatch" json:"dispatch"`
	Adapter  AdapterConfig  `yaml:"adapter" json:"adapter"`
	State    StateConfig    `yaml:"state" json:"state"`
	API      APIConfig      `yaml:"api,omitempty" json:"api"`
	Webhook  WebhookConfig  `yaml:"webhook,omitempty" json:"webhook"`

	// SourcePath is the file the configuration was loaded from, empty for defaults.
	SourcePath string `yaml:"-" json:"source_path,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" json:"name"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	PIDFile   string `yaml:"pid_file,omitempty" json:"pid_file,omitempty"`
}

// SpoolConfig locates the three spool directories.
type SpoolConfig struct {
	Inbox             string        `yaml:"inbox" json:"inbox"`
	Outbox            string        `yaml:"outbox" json:"outbox"`
	Archive           string        `yaml:"archive" json:"archive"`
	ArchiveRetention  time.Duration `yaml:"archive_retention" json:"archive_retention"`
	ArchivePruneEvery time.Duration `yaml:"archive_prune_every" json:"archive_prune_every"`
}

// PollConfig tunes the adaptive polling interval.
type PollConfig struct {
	Base        time.Duration `yaml:"base" json:"base"`
	Burst       time.Duration `yaml:"burst" json:"burst"`
	BurstBudget int           `yaml:"burst_budget" json:"burst_budget"`
}

// IngestConfig tunes reading request files.
type IngestConfig struct {
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// DispatchConfig tunes the dispatch pass.
type DispatchConfig struct {
	Workers   int           `yaml:"workers" json:"workers"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// AdapterConfig selects and configures the adapter backend.
type AdapterConfig struct {
	Kind           string            `yaml:"kind" json:"kind"`
	EchoMaxLatency time.Duration     `yaml:"echo_max_latency,omitempty" json:"echo_max_latency,omitempty"`
	Exec           ExecAdapterConfig `yaml:"exec,omitempty" json:"exec,omitempty"`
}

// ExecAdapterConfig defines the subprocess run for each request.
type ExecAdapterConfig struct {
	Entrypoint string            `yaml:"entrypoint" json:"entrypoint"`
	Args       []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Timeout    time.Duration     `yaml:"timeout" json:"timeout"`
	Env        map[string]string `yaml:"env,omitempty" json:"-"`
}

// StateConfig defines ledger storage settings.
type StateConfig struct {
	Path            string        `yaml:"path" json:"path"`
	LedgerRetention time.Duration `yaml:"ledger_retention" json:"ledger_retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
	APIKey  string `yaml:"api_key" json:"-"`
}

// WebhookConfig defines the signed HTTP drop endpoints that write requests
// into the inbox.
type WebhookConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Listen    string            `yaml:"listen" json:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// WebhookEndpoint is one POST path accepting request documents.
type WebhookEndpoint struct {
	Path            string `yaml:"path" json:"path"`
	Secret          string `yaml:"secret" json:"-"`
	SignatureHeader string `yaml:"signature_header,omitempty" json:"signature_header,omitempty"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix.
	MaxBodySize string `yaml:"max_body_size,omitempty" json:"max_body_size,omitempty"`
	// KeyPrefix is prepended to generated keys.
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
}

// Defaults returns a Config with the stock tuning.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "spool",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Spool: SpoolConfig{
			Inbox:             "./requests",
			Outbox:            "./responses",
			Archive:           "./requests_debug",
			ArchiveRetention:  7 * 24 * time.Hour,
			ArchivePruneEvery: time.Hour,
		},
		Poll: PollConfig{
			Base:        3 * time.Second,
			Burst:       time.Second,
			BurstBudget: 10,
		},
		Ingest: IngestConfig{
			RetryDelay: 500 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			Workers:   8,
			Retention: 20 * time.Second,
		},
		Adapter: AdapterConfig{
			Kind: AdapterEcho,
			Exec: ExecAdapterConfig{
				Timeout: 60 * time.Second,
			},
		},
		State: StateConfig{
			Path:            "./data/spool.db",
			LedgerRetention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Webhook: WebhookConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8081",
		},
	}
}
