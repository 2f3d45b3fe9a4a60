package adapter

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/mattjoyce/spool/internal/request"
	"github.com/mattjoyce/spool/internal/spooldir"
)

// Echo answers every request by writing the request back with a timestamp.
// It stands in for a real data source in tests and demos.
type Echo struct {
	maxLatency time.Duration
	now        func() time.Time
}

// EchoResponse is the document Echo writes.
type EchoResponse struct {
	Request   map[string]any `json:"request"`
	Timestamp string         `json:"timestamp"`
}

// NewEcho returns an echo adapter that sleeps a random duration up to
// maxLatency before answering. Zero disables the delay.
func NewEcho(maxLatency time.Duration) *Echo {
	return &Echo{maxLatency: maxLatency, now: time.Now}
}

// CreateDump writes an EchoResponse to the request's path.
func (e *Echo) CreateDump(ctx context.Context, req map[string]any) error {
	path, err := OutputPath(req)
	if err != nil {
		return err
	}

	if e.maxLatency > 0 {
		timer := time.NewTimer(rand.N(e.maxLatency))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	echoed := make(map[string]any, len(req))
	for k, v := range req {
		if k == request.PathField {
			continue
		}
		echoed[k] = v
	}

	return spooldir.WriteJSONFile(path, EchoResponse{
		Request:   echoed,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	})
}
