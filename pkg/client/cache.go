package client

import "sync"

// Cache persists terminal outcomes on the device so a reload does not
// re-contact the server. It is a cache, not a source of truth.
type Cache interface {
	Load(sessionID string) (Outcome, bool)
	Store(sessionID string, outcome Outcome)
}

// MemoryCache is the default Cache; device integrations substitute local
// storage.
type MemoryCache struct {
	mu       sync.RWMutex
	outcomes map[string]Outcome
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{outcomes: make(map[string]Outcome)}
}

func (c *MemoryCache) Load(sessionID string) (Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	outcome, ok := c.outcomes[sessionID]
	return outcome, ok
}

func (c *MemoryCache) Store(sessionID string, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[sessionID] = outcome
}
