package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set and updated atomically by a Lua script.
type RateLimiter struct {
	c             *Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		c:             c,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

// Allow decides whether one more request for key fits within limit requests
// per window. Only allowed requests are counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	now := time.Now().UnixMicro()
	res, err := rl.slidingWindow.Run(ctx, rl.c.rdb,
		[]string{rl.c.key("ratelimit:", key)},
		now, window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: unexpected reply of %d values", key, len(res))
	}

	d := domain.RateDecision{
		Allowed:   res[0] == 1,
		Remaining: max(0, limit-int(res[1])),
	}
	if !d.Allowed {
		d.RetryAfter = max(time.Millisecond, time.Duration(res[2]+window.Microseconds()-now)*time.Microsecond)
	}
	return d, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
