package daemon

import (
	"container/list"
	"strings"
	"sync"
)

// DedupeCache is a bounded LRU of recently seen hook-event keys. Agents retry
// hook delivery; without this, a retried event would double-count activity.
// In-memory only.
type DedupeCache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	index map[string]*list.Element
}

// NewDedupeCache creates a cache holding at most max keys.
func NewDedupeCache(max int) *DedupeCache {
	if max <= 0 {
		max = 512
	}
	return &DedupeCache{
		max:   max,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Key joins event identity parts into one dedupe key.
func DedupeKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// Seen records the key and reports whether it was already present.
func (c *DedupeCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		return true
	}
	c.index[key] = c.order.PushFront(key)
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(string))
	}
	return false
}

// Len returns the current number of cached keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
