// Package service holds the read side of the marketplace: record lookups that
// do not go through the settlement engine.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// DefaultCacheTTL bounds how long a cached record may be served.
const DefaultCacheTTL = 5 * time.Minute

// MarketService serves market lookups. Markets never change after creation,
// so reads go to the cache first and back-fill it on a miss.
type MarketService struct {
	store  domain.Store
	cache  domain.MarketCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(store domain.Store, cache domain.MarketCache, logger *slog.Logger) *MarketService {
	return &MarketService{
		store:  store,
		cache:  cache,
		ttl:    DefaultCacheTTL,
		logger: logger,
	}
}

// WithCacheTTL overrides DefaultCacheTTL.
func (s *MarketService) WithCacheTTL(ttl time.Duration) *MarketService {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// GetMarket returns the market at addr.
func (s *MarketService) GetMarket(ctx context.Context, addr common.Address) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, addr); err == nil {
			return *m, nil
		}
	}

	var m domain.Market
	err := s.store.View(ctx, func(tx domain.Tx) error {
		got, err := tx.GetMarket(ctx, addr)
		if err != nil {
			return err
		}
		m = *got
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", addr.Hex(), err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets pages through all markets.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	err := s.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListMarkets(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return out, nil
}

// ListListings pages through the listings of one market. The market must
// exist.
func (s *MarketService) ListListings(ctx context.Context, market common.Address, onlyActive bool, opts domain.ListOpts) ([]domain.Listing, error) {
	var out []domain.Listing
	err := s.store.View(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetMarket(ctx, market); err != nil {
			return err
		}
		var err error
		out, err = tx.ListListings(ctx, domain.ListingFilter{Market: &market, OnlyActive: onlyActive}, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market_service: list listings of %s: %w", market.Hex(), err)
	}
	return out, nil
}
