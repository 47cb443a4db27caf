package frame

import (
	"sync"
	"time"
)

// ResourceCache remembers frame targets that completed a load, keyed by URL,
// so a recreate of the same target can skip the network round-trip. Entries
// expire after a TTL and the cache is bounded FIFO.
type ResourceCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	order   []string
	max     int
	ttl     time.Duration
}

// NewResourceCache creates a cache holding up to max entries for ttl each.
// Zero max means 32; zero ttl means 5 minutes.
func NewResourceCache(max int, ttl time.Duration) *ResourceCache {
	if max <= 0 {
		max = 32
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResourceCache{
		entries: make(map[string]time.Time),
		max:     max,
		ttl:     ttl,
	}
}

// Has reports whether a fresh entry exists for the URL.
func (c *ResourceCache) Has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[url]
	if !ok {
		return false
	}
	if time.Since(at) > c.ttl {
		c.removeLocked(url)
		return false
	}
	return true
}

// Put records a completed load for the URL.
func (c *ResourceCache) Put(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; !ok {
		c.order = append(c.order, url)
		if len(c.order) > c.max {
			c.removeLocked(c.order[0])
		}
	}
	c.entries[url] = time.Now()
}

// Invalidate drops one URL.
func (c *ResourceCache) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(url)
}

// Len returns the current entry count.
func (c *ResourceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResourceCache) removeLocked(url string) {
	if _, ok := c.entries[url]; !ok {
		return
	}
	delete(c.entries, url)
	for i, u := range c.order {
		if u == url {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
