package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func resetGlobal() {
	logger = nil
	once = sync.Once{}
}

func TestSetupWithWriterJSON(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	var buf bytes.Buffer
	SetupWithWriter("DEBUG", "json", &buf)
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Debug("hello", "n", 1)

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["level"] != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %v", out["level"])
	}
}

func TestSetupWithWriterText(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	var buf bytes.Buffer
	SetupWithWriter("info", "text", &buf)
	Info("plain")
	Debug("suppressed")

	got := buf.String()
	if !strings.Contains(got, "msg=plain") {
		t.Errorf("expected text output, got %q", got)
	}
	if strings.Contains(got, "suppressed") {
		t.Errorf("debug line should be filtered at INFO, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(resetGlobal)

	WithComponent("queue").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "queue" {
		t.Errorf("Expected component 'queue', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithRequest(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(resetGlobal)

	WithRequest(nil, "req1.json").Info("request msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["request"] != "req1.json" {
		t.Errorf("Expected request 'req1.json', got %v", out["request"])
	}

	var own bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&own, nil)).With("component", "queue")
	WithRequest(base, "req2.json").Info("scoped")
	out = nil
	if err := json.Unmarshal(own.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["request"] != "req2.json" || out["component"] != "queue" {
		t.Errorf("Expected request and component fields, got %v", out)
	}
	if bytes.Contains(buf.Bytes(), []byte("scoped")) {
		t.Errorf("scoped message leaked to the global logger")
	}
}
