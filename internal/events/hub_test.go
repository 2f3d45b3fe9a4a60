package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(RequestDispatched, RequestData{ID: "1", Key: "req1.json"})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, RequestDispatched, ev.Type)
		var data RequestData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "req1.json", data.Key)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubSinceAndRingOverwrite(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(RequestIngested, nil)
	}

	all := h.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.JSONEq(t, `{}`, string(all[0].Data))

	later := h.Since(4)
	require.Len(t, later, 1)
	assert.Equal(t, int64(5), later[0].ID)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBacklog*2; i++ {
			h.Publish(QueueDuplicate, DuplicateData{Keys: []string{"dup.json"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBacklog)

	cancel()
	cancel()
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBacklog, n, "buffered events are still readable after cancel")
}
