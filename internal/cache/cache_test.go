package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsr/proxywarp/internal/directory"
)

func TestPutGet(t *testing.T) {
	r := New(time.Minute)
	t.Cleanup(r.Close)

	origin := directory.Entry{Domain: "example.com", Protocol: "https"}
	r.Put("abc123", origin)

	got, ok := r.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, origin, got)
}

func TestMissOnUnknownToken(t *testing.T) {
	r := New(time.Minute)
	t.Cleanup(r.Close)

	_, ok := r.Get("nothere")
	assert.False(t, ok)
}

func TestEntryExpires(t *testing.T) {
	r := New(20 * time.Millisecond)
	t.Cleanup(r.Close)

	r.Put("abc123", directory.Entry{Domain: "example.com", Protocol: "https"})

	_, ok := r.Get("abc123")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := r.Get("abc123")
		return !ok
	}, time.Second, 5*time.Millisecond, "entry must be gone after TTL")
	assert.Equal(t, 0, r.Len(), "eviction removes the entry, not just hides it")
}

func TestPutReplacesEntry(t *testing.T) {
	r := New(time.Minute)
	t.Cleanup(r.Close)

	r.Put("abc123", directory.Entry{Domain: "old.example.com", Protocol: "https"})
	r.Put("abc123", directory.Entry{Domain: "new.example.com", Protocol: "http"})

	got, ok := r.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "new.example.com", got.Domain)
	assert.Equal(t, 1, r.Len())
}

func TestCloseStopsAcceptingEntries(t *testing.T) {
	r := New(time.Minute)
	r.Put("abc123", directory.Entry{Domain: "example.com", Protocol: "https"})
	r.Close()

	assert.Equal(t, 0, r.Len())
	r.Put("def456", directory.Entry{Domain: "example.org", Protocol: "https"})
	_, ok := r.Get("def456")
	assert.False(t, ok)
}
