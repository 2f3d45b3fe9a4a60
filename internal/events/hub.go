// Package events fans queue activity out to API clients. Nothing here is
// durable; late subscribers get whatever the ring still holds.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the queue.
const (
	RequestIngested      = "request.ingested"
	RequestDispatched    = "request.dispatched"
	RequestRejected      = "request.rejected"
	RequestAdapterFailed = "request.adapter_failed"
	RequestExpired       = "request.expired"
	QueueDuplicate       = "queue.duplicate"
)

const (
	defaultCapacity   = 256
	subscriberBacklog = 128
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// RequestData is the payload of the request.* events.
type RequestData struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DuplicateData is the payload of queue.duplicate.
type DuplicateData struct {
	Keys []string `json:"keys"`
}

// Hub is an in-memory pub/sub with a ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event and offers it to every subscriber. A subscriber
// whose backlog is full misses the event.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the ring stays ordered.
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.push(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of new events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBacklog)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) push(ev Event) {
	if h.size < len(h.ring) {
		h.ring[(h.start+h.size)%len(h.ring)] = ev
		h.size++
		return
	}
	// full: overwrite oldest
	h.ring[h.start] = ev
	h.start = (h.start + 1) % len(h.ring)
}
