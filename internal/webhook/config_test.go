package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spool/internal/config"
)

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: DefaultMaxBodySize},
		{in: "2048", want: 2048},
		{in: "64KB", want: 64 << 10},
		{in: "2mb", want: 2 << 20},
		{in: "1GB", want: 1 << 30},
		{in: "0", wantErr: true},
		{in: "-5KB", wantErr: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.WebhookConfig{
		Listen: "127.0.0.1:0",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/drop", Secret: "s", MaxBodySize: "1KB", KeyPrefix: "ext-"},
		},
	})
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, int64(1024), cfg.Endpoints[0].MaxBodySize)
	assert.Equal(t, DefaultSignatureHeader, cfg.Endpoints[0].SignatureHeader)
	assert.Equal(t, "ext-", cfg.Endpoints[0].KeyPrefix)

	_, err = FromConfig(config.WebhookConfig{Endpoints: []config.WebhookEndpoint{{Path: "/drop"}}})
	assert.ErrorContains(t, err, "no secret")

	_, err = FromConfig(config.WebhookConfig{Endpoints: []config.WebhookEndpoint{{Path: "/drop", Secret: "s", MaxBodySize: "huge"}}})
	assert.ErrorContains(t, err, "max_body_size")
}
