package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX PX, so every escrowd
// instance sharing the Redis sees the same claimed keys.
type ReplayGuard struct {
	c *Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{c: c}
}

// Claim returns true when key was not claimed within the last ttl.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.c.rdb.SetNX(ctx, g.c.key("nonce:", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
