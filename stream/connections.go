package stream

import (
	"sort"
	"sync"
)

// Connections tracks open delivery streams per session in this process.
// A session may have several (duplicate tabs).
type Connections struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewConnections creates an empty registry.
func NewConnections() *Connections {
	return &Connections{counts: make(map[string]int)}
}

// Add records an open stream for sessionID.
func (c *Connections) Add(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[sessionID]++
}

// Remove records a closed stream for sessionID.
func (c *Connections) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[sessionID] <= 1 {
		delete(c.counts, sessionID)
		return
	}
	c.counts[sessionID]--
}

// Active reports whether sessionID has at least one open stream.
func (c *Connections) Active(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[sessionID] > 0
}

// Sessions returns the ids with open streams, sorted.
func (c *Connections) Sessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.counts))
	for id := range c.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the per-session stream counts.
func (c *Connections) Snapshot() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.counts))
	for id, n := range c.counts {
		out[id] = n
	}
	return out
}
