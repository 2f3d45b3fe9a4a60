package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/spool/internal/api"
	"github.com/mattjoyce/spool/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type requestsMsg api.RequestsResponse

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}

type reconnectMsg struct{}

// Client talks to the status API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (c Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("GET %s: %s %s", path, resp.Status, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health fetches /healthz.
func (c Client) Health(ctx context.Context) (*api.HealthzResponse, error) {
	var h api.HealthzResponse
	if err := c.get(ctx, "/healthz", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Requests fetches /requests.
func (c Client) Requests(ctx context.Context) (*api.RequestsResponse, error) {
	var r api.RequestsResponse
	if err := c.get(ctx, "/requests", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Commands ---

func fetchHealth(c Client) tea.Cmd {
	return func() tea.Msg {
		h, err := c.Health(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return healthMsg(*h)
	}
}

func fetchRequests(c Client) tea.Cmd {
	return func() tea.Msg {
		r, err := c.Requests(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return requestsMsg(*r)
	}
}

// subscribeToEvents connects to /events and feeds events into ch. It
// returns sseDisconnectedMsg when the stream ends.
func subscribeToEvents(c Client, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)

		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("event stream: %s", resp.Status))
		}

		readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a server-sent event stream, calling emit per complete
// event. Comment lines are ignored.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	var (
		id   int64
		typ  string
		data string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				emit(events.Event{ID: id, Type: typ, At: time.Now(), Data: json.RawMessage(data)})
			}
			id, typ, data = 0, "", ""
		case strings.HasPrefix(line, "id: "):
			if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "event: "):
			typ = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
