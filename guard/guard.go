// Package guard serializes pipeline runs per study UID.
package guard

import "sync"

// Guard is a non-blocking per-key lock. A duplicate completion candidate
// for a study that is already being processed is dropped, not queued.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// TryAcquire claims the key. Returns false if the key is already held.
func (g *Guard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.active[key]; held {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

// Release frees the key. Releasing an unheld key is a no-op.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}

// IsProcessing reports whether the key is currently held.
func (g *Guard) IsProcessing(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.active[key]
	return held
}
