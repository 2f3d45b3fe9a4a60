package watch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spool/internal/api"
	"github.com/mattjoyce/spool/internal/events"
	"github.com/mattjoyce/spool/internal/request"
)

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: request.dispatched",
		`data: {"id":"abc","key":"a.json"}`,
		"",
		"id: 8",
		"event: queue.duplicate",
		`data: {"keys":["dup.json"]}`,
		"",
		"",
	}, "\n")

	var got []events.Event
	readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.RequestDispatched, got[0].Type)
	assert.JSONEq(t, `{"id":"abc","key":"a.json"}`, string(got[0].Data))
	assert.Equal(t, events.QueueDuplicate, got[1].Type)
}

func TestDescribeEvent(t *testing.T) {
	data, err := json.Marshal(events.RequestData{ID: "0123456789", Key: "bad.json", Failed: true, Error: "JSON format error."})
	require.NoError(t, err)
	assert.Equal(t, "bad.json [01234567] JSON format error.",
		describeEvent(events.Event{Type: events.RequestRejected, Data: data}))

	dup, err := json.Marshal(events.DuplicateData{Keys: []string{"a.json", "b.json"}})
	require.NoError(t, err)
	assert.Equal(t, "a.json, b.json", describeEvent(events.Event{Type: events.QueueDuplicate, Data: dup}))

	long := json.RawMessage(`"` + strings.Repeat("x", 80) + `"`)
	assert.True(t, strings.HasSuffix(describeEvent(events.Event{Type: "other", Data: long}), "..."))
}

func TestFormatEventIncludesType(t *testing.T) {
	line := formatEvent(events.Event{
		Type: events.RequestExpired,
		At:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data: json.RawMessage(`{"id":"x","key":"k.json"}`),
	}, NewDefaultTheme())
	assert.Contains(t, line, "03:04:05")
	assert.Contains(t, line, events.RequestExpired)
	assert.Contains(t, line, "k.json")
}

func TestRequestRows(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := requestRows([]request.Snapshot{
		{ID: "aaaaaaaaaaaa", Key: "a.json", CreatedAt: now.Add(-5 * time.Second), Alive: true},
		{ID: "b", Key: "b.json", CreatedAt: now.Add(-90 * time.Second)},
		{ID: "c", Key: "c.json", CreatedAt: now, Failed: true},
	}, now)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"○", "a.json", "aaaaaaaa", "5s", "pending"}, []string(rows[0]))
	assert.Equal(t, []string{"✓", "b.json", "b", "1m 30s", "resolved"}, []string(rows[1]))
	assert.Equal(t, []string{"✗", "c.json", "c", "0s", "rejected"}, []string(rows[2]))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "3h 10m", formatDuration(3*time.Hour+10*time.Minute))
}

func TestPulse(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var p Pulse
	p.OnEvent(start)
	assert.Equal(t, pulseWidth, p.lit)

	p.Decay(start.Add(4 * time.Second))
	assert.Equal(t, pulseWidth-2, p.lit)

	p.Decay(start.Add(time.Minute))
	assert.Equal(t, 0, p.lit)
	assert.Equal(t, start, p.LastEvent())
}

func TestClientSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "unauthorized"})
			return
		}
		switch r.URL.Path {
		case "/healthz":
			_ = json.NewEncoder(w).Encode(api.HealthzResponse{Status: "ok", InMemory: 2, Alive: 1})
		case "/requests":
			_ = json.NewEncoder(w).Encode(api.RequestsResponse{Requests: []request.Snapshot{{ID: "x", Key: "x.json"}}})
		}
	}))
	defer srv.Close()

	c := Client{BaseURL: srv.URL, APIKey: "secret"}
	h, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, h.InMemory)

	r, err := c.Requests(t.Context())
	require.NoError(t, err)
	require.Len(t, r.Requests, 1)

	_, err = Client{BaseURL: srv.URL, APIKey: "wrong"}.Health(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestModelUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New("http://127.0.0.1:0", "")
	m.now = func() time.Time { return now }

	next, _ := m.Update(healthMsg(api.HealthzResponse{Status: "ok", InMemory: 3, Alive: 2, PollIntervalMs: 1000}))
	model := next.(Model)
	assert.True(t, model.health.Connected)
	assert.Equal(t, 3, model.health.InMemory)

	next, _ = model.Update(eventMsg(events.Event{ID: 1, Type: events.RequestIngested, At: now}))
	model = next.(Model)
	require.Len(t, model.eventLog, 1)
	assert.Equal(t, now, model.pulse.LastEvent())

	next, _ = model.Update(requestsMsg(api.RequestsResponse{Requests: []request.Snapshot{{ID: "a", Key: "a.json", CreatedAt: now, Alive: true}}}))
	model = next.(Model)
	assert.Equal(t, 1, model.count)
	assert.Len(t, model.requests.Rows(), 1)

	next, _ = model.Update(sseDisconnectedMsg{})
	model = next.(Model)
	assert.False(t, model.health.Connected)
	assert.NotEmpty(t, model.lastError)

	next, _ = model.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	model = next.(Model)
	assert.Contains(t, model.View(), "SPOOL WATCH")

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
