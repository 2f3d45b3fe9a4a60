package ledger

import (
	"errors"
	"time"
)

// Outcome is how a request left the in-memory table's alive state.
type Outcome string

const (
	OutcomeDispatched    Outcome = "dispatched"
	OutcomeAdapterFailed Outcome = "adapter_failed"
	OutcomeRejected      Outcome = "rejected"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeDispatched, OutcomeAdapterFailed, OutcomeRejected:
		return true
	}
	return false
}

var ErrNotFound = errors.New("ledger entry not found")

// Entry is one resolved request.
type Entry struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Digest     string     `json:"digest,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt time.Time  `json:"resolved_at"`
	Outcome    Outcome    `json:"outcome"`
	Error      *string    `json:"error,omitempty"`
	ExpiredAt  *time.Time `json:"expired_at,omitempty"`
}

// Summary counts ledger rows.
type Summary struct {
	Total          int             `json:"total"`
	ByOutcome      map[Outcome]int `json:"by_outcome"`
	Expired        int             `json:"expired"`
	LastResolvedAt *time.Time      `json:"last_resolved_at,omitempty"`
}
