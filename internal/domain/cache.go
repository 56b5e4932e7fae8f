package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingCache is a read-through cache of listing records.
type ListingCache interface {
	Get(ctx context.Context, addr common.Address) (*Listing, error)
	Set(ctx context.Context, l Listing, ttl time.Duration) error
	Invalidate(ctx context.Context, addr common.Address) error
}

// MarketCache is a read-through cache of market records.
type MarketCache interface {
	Get(ctx context.Context, addr common.Address) (*Market, error)
	Set(ctx context.Context, m Market, ttl time.Duration) error
}

// RateLimiter enforces per-key request limits.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// RateDecision is the outcome of one rate-limited request.
type RateDecision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// ReplayGuard remembers keys for a bounded time so that a signed request is
// accepted at most once.
type ReplayGuard interface {
	// Claim records key for ttl and reports whether it was not already held.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// LockManager hands out exclusive, TTL-bounded locks shared across
// processes.
type LockManager interface {
	// Acquire returns ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// SignalBus carries settlement events. Pub/sub delivery is ephemeral; the
// stream keeps an ordered, trimmed history for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is a single entry read from a stream.
type StreamMessage struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}
