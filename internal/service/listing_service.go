package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/derive"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// MaxListingFillTTL caps how long a listing back-filled by a reader stays
// cached. The settlement engine writes every committed change through to the
// cache and the cache refuses older revisions, but a row read just before a
// close can still land after the engine dropped the entry.
const MaxListingFillTTL = 15 * time.Second

// ListingService serves listing lookups through the listing cache.
type ListingService struct {
	store  domain.Store
	cache  domain.ListingCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewListingService creates a ListingService. cache may be nil.
func NewListingService(store domain.Store, cache domain.ListingCache, logger *slog.Logger) *ListingService {
	return &ListingService{
		store:  store,
		cache:  cache,
		ttl:    MaxListingFillTTL,
		logger: logger,
	}
}

// WithCacheTTL sets the back-fill TTL, capped at MaxListingFillTTL.
func (s *ListingService) WithCacheTTL(ttl time.Duration) *ListingService {
	if ttl > 0 {
		s.ttl = min(ttl, MaxListingFillTTL)
	}
	return s
}

// GetListing returns the listing identified by key.
func (s *ListingService) GetListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	addr := derive.ListingFor(key)
	if s.cache != nil {
		if l, err := s.cache.Get(ctx, addr); err == nil {
			return *l, nil
		}
	}

	var l domain.Listing
	err := s.store.View(ctx, func(tx domain.Tx) error {
		got, err := tx.GetListing(ctx, addr)
		if err != nil {
			return err
		}
		l = *got
		return nil
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get %s: %w", addr.Hex(), err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, l, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "listing_service: cache set failed",
				slog.String("listing", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return l, nil
}

// ListBySeller pages through a seller's listings across all markets.
func (s *ListingService) ListBySeller(ctx context.Context, seller common.Address, onlyActive bool, opts domain.ListOpts) ([]domain.Listing, error) {
	var out []domain.Listing
	err := s.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListListings(ctx, domain.ListingFilter{Seller: &seller, OnlyActive: onlyActive}, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing_service: list by seller %s: %w", seller.Hex(), err)
	}
	return out, nil
}
