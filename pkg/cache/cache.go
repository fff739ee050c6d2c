// Package cache stores computed payment quotes so repeated previews of the
// same terms are not recomputed.
package cache

import (
	"sync"
	"time"
)

// Cache is a string key/value store. A miss or a backend failure on Get
// both report false; callers fall back to computing the value.
type Cache interface {
	Get(key string) (string, bool)
	Set(key string, value string) error
}

type entry struct {
	value   string
	expires time.Time
}

// MemoryCache is the in-process Cache used when Redis is disabled.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewMemoryCache returns a MemoryCache; ttl <= 0 keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return e.value, true
}

func (c *MemoryCache) Set(key string, value string) error {
	e := entry{value: value}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}
