package analysis

import "sync"

// Entry is a cached verdict along with the sender it was computed for
type Entry struct {
	Result *Result
	Sender string
}

// Cache maps message ids to their last verdict. It lives for the lifetime of
// the attached page and is never persisted.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the entry for id
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Put stores the entry for id, replacing any previous one
func (c *Cache) Put(id string, e Entry) {
	if id == "" || e.Result == nil {
		return
	}
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
}

// Update applies fn to the cached entry for id. It reports false when id is
// not cached.
func (c *Cache) Update(id string, fn func(*Entry)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	fn(&e)
	c.entries[id] = e
	return true
}

// Delete drops the entry for id
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
