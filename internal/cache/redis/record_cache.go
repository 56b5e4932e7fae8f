package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Key schema:
//
//	market:{address}  - hash with field "data" containing JSON
//	listing:{address} - hash with fields "data" (JSON) and "rev" (UpdatedAt in
//	                    unix microseconds)

//go:embed scripts/listing_set.lua
var listingSetLua string

// MarketCache implements domain.MarketCache. Markets never change after
// creation, so entries only leave the cache by expiry.
type MarketCache struct {
	c *Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{c: c}
}

// Set stores a market under its address with the given TTL.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market, ttl time.Duration) error {
	if err := setJSON(ctx, mc.c, mc.c.key("market:", m.Address.Hex()), m, ttl); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.Address.Hex(), err)
	}
	return nil
}

// Get returns the cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, addr common.Address) (*domain.Market, error) {
	var m domain.Market
	if err := getJSON(ctx, mc.c, mc.c.key("market:", addr.Hex()), &m); err != nil {
		return nil, fmt.Errorf("redis: get market %s: %w", addr.Hex(), err)
	}
	return &m, nil
}

// ListingCache implements domain.ListingCache. Entries carry the listing's
// UpdatedAt as a revision and Set never replaces a newer revision, so a
// reader back-filling a row it loaded before a commit cannot overwrite the
// committed listing.
type ListingCache struct {
	c   *Client
	set *redis.Script
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{c: c, set: redis.NewScript(listingSetLua)}
}

// Set stores a listing under its address with the given TTL unless the cache
// already holds a newer revision of it.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing, ttl time.Duration) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("redis: set listing %s: marshal: %w", l.Address.Hex(), err)
	}
	var rev int64
	if !l.UpdatedAt.IsZero() {
		rev = l.UpdatedAt.UnixMicro()
	}
	err = lc.set.Run(ctx, lc.c.rdb,
		[]string{lc.c.key("listing:", l.Address.Hex())},
		data, rev, ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set listing %s: %w", l.Address.Hex(), err)
	}
	return nil
}

// Get returns the cached listing or domain.ErrNotFound.
func (lc *ListingCache) Get(ctx context.Context, addr common.Address) (*domain.Listing, error) {
	var l domain.Listing
	if err := getJSON(ctx, lc.c, lc.c.key("listing:", addr.Hex()), &l); err != nil {
		return nil, fmt.Errorf("redis: get listing %s: %w", addr.Hex(), err)
	}
	return &l, nil
}

// Invalidate drops a listing from the cache.
func (lc *ListingCache) Invalidate(ctx context.Context, addr common.Address) error {
	if err := lc.c.rdb.Del(ctx, lc.c.key("listing:", addr.Hex())).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", addr.Hex(), err)
	}
	return nil
}

func setJSON(ctx context.Context, c *Client, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func getJSON(ctx context.Context, c *Client, key string, v any) error {
	data, err := c.rdb.HGet(ctx, key, "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.MarketCache  = (*MarketCache)(nil)
	_ domain.ListingCache = (*ListingCache)(nil)
)
