package policy

import (
	"sync"
	"time"
)

// contentCache holds fetched policy documents per type so repeated opens
// within the TTL skip the network entirely.
type contentCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[Type]contentEntry
}

type contentEntry struct {
	content   string
	expiresAt time.Time
}

func newContentCache(ttl time.Duration) *contentCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &contentCache{ttl: ttl, now: time.Now, entries: make(map[Type]contentEntry)}
}

func (c *contentCache) lookup(t Type) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[t]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, t)
		return "", false
	}
	return entry.content, true
}

func (c *contentCache) store(t Type, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t] = contentEntry{content: content, expiresAt: c.now().Add(c.ttl)}
}
