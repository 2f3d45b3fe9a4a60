package protocol

import (
	"encoding/json"
	"time"
)

// Version is the only protocol version spoken to exec adapters.
const Version = 1

// Request is the envelope written to an exec adapter's stdin, one per request.
type Request struct {
	Protocol   int            `json:"protocol"`
	RequestID  string         `json:"request_id"`
	Key        string         `json:"key"`
	Path       string         `json:"path"`
	Payload    map[string]any `json:"payload"`
	DeadlineAt time.Time      `json:"deadline_at"`
}

// Response is the envelope an exec adapter prints on stdout.
type Response struct {
	Status string          `json:"status"` // ok | error
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Logs   []LogEntry      `json:"logs,omitempty"`
}

// LogEntry is a log line relayed from an exec adapter.
type LogEntry struct {
	Level   string `json:"level"` // debug | info | warn | error
	Message string `json:"message"`
}

// OK reports whether the adapter produced a result.
func (r *Response) OK() bool { return r.Status == "ok" }
