package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is an in-memory Guard with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time // key → expiry
	now     func() time.Time
}

// NewMemoryGuard creates a new in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Admit claims the correlation ID if it is not already held. Expired
// entries are evicted lazily on access.
func (g *MemoryGuard) Admit(_ context.Context, correlationID string, ttl time.Duration) (bool, error) {
	key := FormatKey(correlationID)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, exists := g.entries[key]; exists {
		if now.Before(expiry) {
			return false, nil
		}
		delete(g.entries, key)
	}

	g.entries[key] = now.Add(ttl)
	return true, nil
}

// Release frees the correlation ID.
func (g *MemoryGuard) Release(_ context.Context, correlationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.entries, FormatKey(correlationID))
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
