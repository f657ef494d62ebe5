package fetch

import "sync"

// Cache maps keys to the local path their fetch resolved to. Entries are
// written on success and live until ClearAll.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Put sets or overwrites the entry for key. Empty keys or values are ignored.
func (c *Cache) Put(key, value string) {
	if key == "" || value == "" {
		return
	}
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// ClearAll empties the cache.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
