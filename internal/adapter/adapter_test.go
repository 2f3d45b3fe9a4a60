package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spool/internal/config"
	"github.com/mattjoyce/spool/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name    string
		req     map[string]any
		want    string
		wantErr bool
	}{
		{name: "clean path", req: map[string]any{"path": "/spool/out/req1.json"}, want: "/spool/out/req1.json"},
		{name: "uncleaned path", req: map[string]any{"path": "/spool/out/../out/req1.json"}, want: "/spool/out/req1.json"},
		{name: "missing", req: map[string]any{}, wantErr: true},
		{name: "not a string", req: map[string]any{"path": 7}, wantErr: true},
		{name: "blank", req: map[string]any{"path": "  "}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputPath(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromConfig(t *testing.T) {
	a, err := FromConfig(config.AdapterConfig{Kind: "echo"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, a)

	a, err = FromConfig(config.AdapterConfig{Kind: "EXEC", Exec: config.ExecAdapterConfig{Entrypoint: "/bin/true"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Exec{}, a)

	_, err = FromConfig(config.AdapterConfig{Kind: "exec"}, nil)
	assert.Error(t, err)

	_, err = FromConfig(config.AdapterConfig{Kind: "bloomberg"}, nil)
	assert.Error(t, err)
}

func TestFuncAdapter(t *testing.T) {
	want := errors.New("boom")
	var got map[string]any
	f := Func(func(_ context.Context, req map[string]any) error {
		got = req
		return want
	})

	err := f.CreateDump(context.Background(), map[string]any{"path": "/x"})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, "/x", got["path"])
}

func TestEchoWritesRequestWithoutPath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "req1.json")
	e := NewEcho(0)
	e.now = func() time.Time { return time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC) }

	err := e.CreateDump(context.Background(), map[string]any{
		"bloomberg_code": "VIX Index",
		"fields":         []any{"PX_LAST"},
		"path":           out,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"request": {"bloomberg_code": "VIX Index", "fields": ["PX_LAST"]},
		"timestamp": "2026-02-08T12:00:00Z"
	}`, string(data))
}

func TestEchoHonoursContextDuringLatency(t *testing.T) {
	out := filepath.Join(t.TempDir(), "req1.json")
	e := NewEcho(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.CreateDump(ctx, map[string]any{"path": out})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEchoRequiresPath(t *testing.T) {
	assert.Error(t, NewEcho(0).CreateDump(context.Background(), map[string]any{}))
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}
