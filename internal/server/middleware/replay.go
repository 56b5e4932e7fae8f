package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// MemoryReplayGuard is a process-local domain.ReplayGuard, used when no Redis
// is configured. It is safe for concurrent use.
type MemoryReplayGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time // key -> expiry
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryReplayGuard creates an empty MemoryReplayGuard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim returns true when key is not held, and holds it for ttl.
func (g *MemoryReplayGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= ttl {
		g.sweep(now)
	}
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryReplayGuard) sweep(now time.Time) {
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
	g.lastSweep = now
}

var _ domain.ReplayGuard = (*MemoryReplayGuard)(nil)
