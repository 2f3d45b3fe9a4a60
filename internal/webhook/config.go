package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/spool/internal/config"
)

// FromConfig converts config.WebhookConfig to webhook.Config, parsing body
// size limits and filling defaults.
func FromConfig(wc config.WebhookConfig) (Config, error) {
	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, len(wc.Endpoints)),
	}

	for i, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}

		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}

		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}

		cfg.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: header,
			MaxBodySize:     maxBodySize,
			KeyPrefix:       ep.KeyPrefix,
		}
	}

	return cfg, nil
}

// parseMaxBodySize parses "1MB", "64kb", "2048576" to bytes. Empty means
// DefaultMaxBodySize.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1 << 10},
		{"MB", 1 << 20},
		{"GB", 1 << 30},
	} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
