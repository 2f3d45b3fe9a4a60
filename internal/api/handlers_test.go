package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spool/internal/events"
	"github.com/mattjoyce/spool/internal/ledger"
	"github.com/mattjoyce/spool/internal/queue"
	"github.com/mattjoyce/spool/internal/request"
)

const testKey = "test-key"

type fakeQueue struct {
	snap  []request.Snapshot
	stats queue.Stats
}

func (f *fakeQueue) Snapshot() []request.Snapshot { return f.snap }
func (f *fakeQueue) Stats() queue.Stats           { return f.stats }
func (f *fakeQueue) PollInterval() time.Duration  { return 3 * time.Second }

type fakeLedger struct {
	entries map[string]ledger.Entry
	recent  []ledger.Entry
	err     error
	limit   int
}

func (f *fakeLedger) Latest(_ context.Context, key string) (*ledger.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, key)
	}
	return &e, nil
}

func (f *fakeLedger) Recent(_ context.Context, limit int) ([]ledger.Entry, error) {
	f.limit = limit
	return f.recent, f.err
}

func (f *fakeLedger) Summary(context.Context) (*ledger.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Summary{Total: 2, ByOutcome: map[ledger.Outcome]int{ledger.OutcomeDispatched: 1, ledger.OutcomeRejected: 1}}, nil
}

func newTestServer(q *fakeQueue, l *fakeLedger, hub *events.Hub) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Listen: "127.0.0.1:0", APIKey: testKey}, q, l, hub, logger)
}

func do(t *testing.T, h http.Handler, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	s := newTestServer(&fakeQueue{stats: queue.Stats{InMemory: 3, Alive: 1}}, &fakeLedger{}, events.NewHub(8))

	rec := do(t, s.Handler(), "/healthz", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.InMemory)
	assert.Equal(t, 1, resp.Alive)
	assert.Equal(t, int64(3000), resp.PollIntervalMs)
}

func TestProtectedRoutesRequireKey(t *testing.T) {
	s := newTestServer(&fakeQueue{}, &fakeLedger{}, events.NewHub(8))
	h := s.Handler()

	for _, path := range []string{"/requests", "/requests/req1.json", "/ledger/summary", "/ledger/recent", "/events"} {
		rec := do(t, h, path, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid API key")
}

func TestListRequests(t *testing.T) {
	created := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	q := &fakeQueue{snap: []request.Snapshot{{ID: "1", Key: "req1.json", CreatedAt: created, Alive: false}}}
	s := newTestServer(q, &fakeLedger{}, events.NewHub(8))

	rec := do(t, s.Handler(), "/requests", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RequestsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Requests, 1)
	assert.Equal(t, "req1.json", resp.Requests[0].Key)

	empty := newTestServer(&fakeQueue{}, &fakeLedger{}, events.NewHub(8))
	rec = do(t, empty.Handler(), "/requests", true)
	assert.JSONEq(t, `{"requests": []}`, rec.Body.String())
}

func TestGetRequest(t *testing.T) {
	l := &fakeLedger{entries: map[string]ledger.Entry{
		"req1.json": {ID: "1", Key: "req1.json", Outcome: ledger.OutcomeDispatched},
	}}
	s := newTestServer(&fakeQueue{}, l, events.NewHub(8))
	h := s.Handler()

	rec := do(t, h, "/requests/req1.json", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry ledger.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, ledger.OutcomeDispatched, entry.Outcome)

	rec = do(t, h, "/requests/unknown.json", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	l.err = errors.New("disk on fire")
	rec = do(t, h, "/requests/req1.json", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLedgerSummaryAndRecent(t *testing.T) {
	l := &fakeLedger{recent: []ledger.Entry{{ID: "1", Key: "a.json", Outcome: ledger.OutcomeRejected}}}
	s := newTestServer(&fakeQueue{}, l, events.NewHub(8))
	h := s.Handler()

	rec := do(t, h, "/ledger/summary", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary ledger.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByOutcome[ledger.OutcomeRejected])

	rec = do(t, h, "/ledger/recent?limit=5", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, l.limit)
	var recent LedgerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	require.Len(t, recent.Entries, 1)

	rec = do(t, h, "/ledger/recent?limit=100000", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxRecentLimit, l.limit)

	rec = do(t, h, "/ledger/recent?limit=-1", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func readSSEEvent(t *testing.T, r *bufio.Reader) (id, eventType, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if id != "" {
				return id, eventType, data
			}
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsReplayAndStream(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.RequestIngested, events.RequestData{ID: "1", Key: "req1.json"})
	hub.Publish(events.RequestDispatched, events.RequestData{ID: "1", Key: "req1.json"})

	s := newTestServer(&fakeQueue{}, &fakeLedger{}, hub)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	id, typ, data := readSSEEvent(t, r)
	assert.Equal(t, "2", id)
	assert.Equal(t, events.RequestDispatched, typ)
	assert.JSONEq(t, `{"id":"1","key":"req1.json"}`, data)

	hub.Publish(events.RequestExpired, events.RequestData{ID: "1", Key: "req1.json"})
	id, typ, _ = readSSEEvent(t, r)
	assert.Equal(t, "3", id)
	assert.Equal(t, events.RequestExpired, typ)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
