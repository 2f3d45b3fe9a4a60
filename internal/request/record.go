package request

import (
	"maps"
	"sync"
	"time"
)

// PathField is the payload field carrying the resolved outbox path handed to
// an adapter. Any producer-supplied value is overwritten.
const PathField = "path"

// Record is one pending or resolved request held in memory, keyed by the name
// of the inbox file it came from.
//
// Everything but the alive and failed flags is fixed at ingestion. The flags
// sit behind the record's own mutex; leaving the alive state goes through
// Claim and happens at most once.
type Record struct {
	ID         string
	Key        string
	CreatedAt  time.Time
	Payload    map[string]any
	Digest     string
	ParseError string

	mu     sync.Mutex
	alive  bool
	failed bool
}

// State is a point-in-time copy of a record's lifecycle flags.
type State struct {
	Alive  bool
	Failed bool
}

// Snapshot is a read-only view of a record, safe to hand to other goroutines.
type Snapshot struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	Digest    string    `json:"digest,omitempty"`
	Alive     bool      `json:"alive"`
	Failed    bool      `json:"failed"`
}

// NewRecord returns a live, well-formed record.
func NewRecord(id, key string, createdAt time.Time, payload map[string]any) *Record {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Record{
		ID:        id,
		Key:       key,
		CreatedAt: createdAt,
		Payload:   payload,
		alive:     true,
	}
}

// NewFailedRecord returns a live record classified as malformed. It still has
// to be answered, so it starts alive.
func NewFailedRecord(id, key string, createdAt time.Time, reason string) *Record {
	return &Record{
		ID:         id,
		Key:        key,
		CreatedAt:  createdAt,
		Payload:    map[string]any{},
		ParseError: reason,
		alive:      true,
		failed:     true,
	}
}

// State returns the current flags.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{Alive: r.alive, Failed: r.failed}
}

// Alive reports whether the record still awaits dispatch.
func (r *Record) Alive() bool { return r.State().Alive }

// Failed reports whether the record was classified as malformed.
func (r *Record) Failed() bool { return r.State().Failed }

// Claim moves the record out of the alive state. It succeeds for exactly one
// caller; failed reports the classification the claimer has to act on.
func (r *Record) Claim() (failed bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.alive {
		return r.failed, false
	}
	r.alive = false
	return r.failed, true
}

// Age returns how long ago the record's source file was written.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Expired reports whether the record is resolved and older than retention.
func (r *Record) Expired(now time.Time, retention time.Duration) bool {
	return !r.Alive() && r.Age(now) > retention
}

// AdapterRequest returns a copy of the payload with PathField set to path.
func (r *Record) AdapterRequest(path string) map[string]any {
	out := make(map[string]any, len(r.Payload)+1)
	maps.Copy(out, r.Payload)
	out[PathField] = path
	return out
}

// Snapshot copies the record's identity and flags.
func (r *Record) Snapshot() Snapshot {
	st := r.State()
	return Snapshot{
		ID:        r.ID,
		Key:       r.Key,
		CreatedAt: r.CreatedAt,
		Digest:    r.Digest,
		Alive:     st.Alive,
		Failed:    st.Failed,
	}
}

// Before orders records by creation time, then key.
func (r *Record) Before(other *Record) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return r.Key < other.Key
}
