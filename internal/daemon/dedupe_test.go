package daemon_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"oakci/internal/daemon"
)

func TestDedupeCache(t *testing.T) {
	c := daemon.NewDedupeCache(3)

	assert.False(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.False(t, c.Seen("c"))
	assert.Equal(t, 3, c.Len())

	// The duplicate hit refreshes "a", leaving "b" as the eviction victim.
	assert.True(t, c.Seen("a"), "second delivery of the same key is a duplicate")
	assert.False(t, c.Seen("d"))
	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"), "evicted key reads as unseen")
}

func TestDedupeCacheBound(t *testing.T) {
	c := daemon.NewDedupeCache(0) // falls back to the default bound
	for i := 0; i < 1000; i++ {
		c.Seen(fmt.Sprintf("key-%d", i))
	}
	assert.Equal(t, 512, c.Len())
}

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "post-tool-use|sess-1|tu-9",
		daemon.DedupeKey("post-tool-use", "sess-1", "tu-9"))
}

func TestOriginSet(t *testing.T) {
	s := daemon.NewOriginSet()
	assert.False(t, s.Contains("https://tunnel.example.com"))

	s.Add("https://tunnel.example.com")
	assert.True(t, s.Contains("https://tunnel.example.com"))
	assert.Equal(t, []string{"https://tunnel.example.com"}, s.List())

	s.Remove("https://tunnel.example.com")
	assert.False(t, s.Contains("https://tunnel.example.com"))
	assert.Empty(t, s.List())
}
