package request

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordStartsAlive(t *testing.T) {
	r := NewRecord("id-1", "req1.json", time.Unix(100, 0), nil)
	st := r.State()
	assert.True(t, st.Alive)
	assert.False(t, st.Failed)
	assert.NotNil(t, r.Payload)
}

func TestNewFailedRecordIsAliveAndFailed(t *testing.T) {
	r := NewFailedRecord("id-1", "bad.json", time.Unix(100, 0), "boom")
	assert.Equal(t, State{Alive: true, Failed: true}, r.State())
	assert.Empty(t, r.Payload)
	assert.Equal(t, "boom", r.ParseError)
}

func TestClaimSucceedsOnce(t *testing.T) {
	r := NewFailedRecord("id", "bad.json", time.Now(), "x")

	failed, ok := r.Claim()
	require.True(t, ok)
	assert.True(t, failed)

	_, ok = r.Claim()
	assert.False(t, ok)
	assert.False(t, r.Alive())
	assert.True(t, r.Failed(), "claiming must not clear the failed classification")
}

func TestClaimIsRaceFree(t *testing.T) {
	r := NewRecord("id", "req.json", time.Now(), nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Claim(); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestExpired(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecord("id", "req.json", created, nil)
	retention := 20 * time.Second

	assert.False(t, r.Expired(created.Add(time.Hour), retention), "alive records never expire")

	r.Claim()
	assert.False(t, r.Expired(created.Add(10*time.Second), retention))
	assert.False(t, r.Expired(created.Add(20*time.Second), retention), "boundary is exclusive")
	assert.True(t, r.Expired(created.Add(21*time.Second), retention))
}

func TestAdapterRequestOverridesPathWithoutMutatingPayload(t *testing.T) {
	r := NewRecord("id", "req1.json", time.Now(), map[string]any{"key": "VALUE", "path": "/etc/passwd"})

	got := r.AdapterRequest("/out/req1.json")
	assert.Equal(t, "/out/req1.json", got[PathField])
	assert.Equal(t, "VALUE", got["key"])
	assert.Equal(t, "/etc/passwd", r.Payload["path"])
}

func TestSnapshotAndOrdering(t *testing.T) {
	a := NewRecord("a", "a.json", time.Unix(1, 0), nil)
	b := NewRecord("b", "b.json", time.Unix(2, 0), nil)
	c := NewRecord("c", "c.json", time.Unix(2, 0), nil)

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(b))

	b.Claim()
	snap := b.Snapshot()
	assert.Equal(t, "b.json", snap.Key)
	assert.False(t, snap.Alive)
}
