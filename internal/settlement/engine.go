// Package settlement implements the escrow marketplace operations. Each
// operation runs as one store transaction: every record change, transfer and
// journal entry it makes commits together or not at all.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowmarket/internal/derive"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/ledger"
)

// Config holds the process-wide settlement policy.
type Config struct {
	// FeeScalar is captured into every market at creation.
	FeeScalar uint64
	// RejectZeroAsk makes create and ask fail with domain.ErrZeroAsk on a
	// zero price.
	RejectZeroAsk bool
	// ListingDeposit is charged to the seller per listing and refunded when
	// the listing is closed or bought.
	ListingDeposit uint64
}

// Publisher receives settlement events after their operation commits.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// streamAppender is implemented by publishers that also keep a durable
// event stream.
type streamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Engine executes settlement operations against a domain.Store.
type Engine struct {
	store    domain.Store
	cfg      Config
	pub      Publisher
	listings domain.ListingCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. A zero FeeScalar is replaced by
// DefaultFeeScalar.
func NewEngine(store domain.Store, cfg Config, logger *slog.Logger) *Engine {
	if cfg.FeeScalar == 0 {
		cfg.FeeScalar = DefaultFeeScalar
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithPublisher attaches an event publisher. Publishing is best effort.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.pub = p
	return e
}

// ListingCacheTTL is how long the engine keeps a committed listing cached.
const ListingCacheTTL = 5 * time.Minute

// WithListingCache attaches a listing cache. Every committed listing change
// is written through to it; closed listings are invalidated.
func (e *Engine) WithListingCache(c domain.ListingCache) *Engine {
	e.listings = c
	return e
}

// WithClock overrides the time source used for record timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the engine's settlement policy.
func (e *Engine) Config() Config {
	return e.cfg
}

// CreateMarket allocates a market owned by caller together with its empty fee
// vault.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, feeRate uint64) (domain.Market, error) {
	nonce := uuid.New()
	addr := derive.Market(caller, nonce[:])
	market := domain.Market{
		Address:   addr,
		Authority: caller,
		FeeVault:  derive.FeeVault(addr),
		FeeRate:   feeRate,
		FeeScalar: e.cfg.FeeScalar,
		CreatedAt: e.now(),
	}

	err := e.store.Update(ctx, func(tx domain.Tx) error {
		if err := tx.InsertMarket(ctx, market); err != nil {
			return err
		}
		if _, err := ledger.New(tx).InitTokenAccount(ctx, market.FeeVault, domain.NativeMint, market.FeeVault, true); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, domain.EventMarketCreated, map[string]any{
			"market":     addr.Hex(),
			"authority":  caller.Hex(),
			"fee_vault":  market.FeeVault.Hex(),
			"fee_rate":   feeRate,
			"fee_scalar": market.FeeScalar,
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: create market: %w", err)
	}

	e.publish(ctx, domain.ChannelMarkets, domain.SettlementEvent{
		Type:   domain.EventMarketCreated,
		Market: addr,
	})
	e.logger.InfoContext(ctx, "settlement: market created",
		slog.String("market", addr.Hex()),
		slog.String("authority", caller.Hex()),
		slog.Uint64("fee_rate", feeRate),
	)
	return market, nil
}

// CreateListing moves one unit of the asset from the caller's account into
// the asset vault and records a listing keyed by (market, asset, caller).
// A locked listing under the same key is replaced.
func (e *Engine) CreateListing(ctx context.Context, caller common.Address, req CreateListingRequest) (domain.Listing, error) {
	if err := checkAsk(req.Ask, e.cfg.RejectZeroAsk); err != nil {
		return domain.Listing{}, fmt.Errorf("settlement: create listing: %w", err)
	}

	source := derive.Holding(caller, req.AssetID)
	if req.Source != nil {
		source = *req.Source
	}
	addr := derive.Listing(req.Market, req.AssetID, caller)
	vault := derive.AssetVault(req.AssetID)

	var listing domain.Listing
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetMarket(ctx, req.Market); err != nil {
			return err
		}

		existing, err := tx.GetListing(ctx, addr)
		switch {
		case err == nil:
			if !existing.Locked {
				return fmt.Errorf("listing %s: %w", addr.Hex(), domain.ErrAlreadyExists)
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		src, err := tx.GetTokenAccount(ctx, source)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("source %s: %w", source.Hex(), domain.ErrAssetNotHeld)
			}
			return err
		}
		if src.Authority != caller || src.ProgramOwned {
			return fmt.Errorf("source %s: %w", source.Hex(), domain.ErrInvalidAuthority)
		}
		if src.Mint != req.AssetID {
			return fmt.Errorf("source %s: %w", source.Hex(), domain.ErrMintMismatch)
		}

		led := ledger.New(tx)
		if _, err := led.InitTokenAccountIfNeeded(ctx, vault, req.AssetID, vault, true); err != nil {
			return err
		}
		if err := led.TransferUnit(ctx, source, vault, req.AssetID, domain.CallerAuthority(caller)); err != nil {
			return err
		}
		if err := led.ChargeDeposit(ctx, caller, e.cfg.ListingDeposit); err != nil {
			return err
		}

		now := e.now()
		listing = domain.Listing{
			Address:   addr,
			Market:    req.Market,
			Seller:    caller,
			AssetID:   req.AssetID,
			Ask:       req.Ask,
			Deposit:   e.cfg.ListingDeposit,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.PutListing(ctx, listing); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, domain.EventListingCreated, map[string]any{
			"listing":  addr.Hex(),
			"market":   req.Market.Hex(),
			"asset_id": req.AssetID.Hex(),
			"seller":   caller.Hex(),
			"ask":      req.Ask,
			"deposit":  e.cfg.ListingDeposit,
		})
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("settlement: create listing: %w", err)
	}

	e.cacheListing(ctx, listing)
	e.publish(ctx, domain.ChannelListings, domain.SettlementEvent{
		Type:    domain.EventListingCreated,
		Market:  req.Market,
		AssetID: &req.AssetID,
		Seller:  &caller,
		Ask:     req.Ask,
	})
	e.logger.InfoContext(ctx, "settlement: listing created",
		slog.String("listing", addr.Hex()),
		slog.String("asset_id", req.AssetID.Hex()),
		slog.Uint64("ask", req.Ask),
	)
	return listing, nil
}

// Buy pays the ask to the seller and the market fee to the fee vault, moves
// the asset to the buyer and locks the listing. The seller's listing deposit
// is refunded in the same transaction.
func (e *Engine) Buy(ctx context.Context, caller common.Address, req BuyRequest) (Receipt, error) {
	addr := derive.ListingFor(req.Key())
	dest := derive.Holding(caller, req.AssetID)
	if req.Destination != nil {
		dest = *req.Destination
	}

	var receipt Receipt
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		listing, err := tx.GetListing(ctx, addr)
		if err != nil {
			return err
		}
		if err := requireUnlocked(listing); err != nil {
			return err
		}
		if err := checkBid(listing.Ask, req.Bid); err != nil {
			return err
		}
		market, err := tx.GetMarket(ctx, listing.Market)
		if err != nil {
			return err
		}
		quote, err := QuoteListing(*listing, *market)
		if err != nil {
			return err
		}

		led := ledger.New(tx)
		if _, err := led.InitTokenAccountIfNeeded(ctx, dest, listing.AssetID, caller, false); err != nil {
			return err
		}
		if err := led.TransferUnit(ctx, derive.AssetVault(listing.AssetID), dest, listing.AssetID,
			derive.AssetVaultAuthority(listing.AssetID)); err != nil {
			return err
		}
		payer := domain.CallerAuthority(caller)
		if err := led.Transfer(ctx, caller, listing.Seller, quote.Ask, payer); err != nil {
			return err
		}
		if err := led.Transfer(ctx, caller, market.FeeVault, quote.Fee, payer); err != nil {
			return err
		}
		if err := led.SyncNative(ctx, market.FeeVault); err != nil {
			return err
		}
		if err := led.RefundDeposit(ctx, listing.Seller, listing.Deposit); err != nil {
			return err
		}

		listing.Locked = true
		listing.Deposit = 0
		listing.UpdatedAt = e.now()
		if err := tx.PutListing(ctx, *listing); err != nil {
			return err
		}

		receipt = Receipt{
			Listing:     *listing,
			Buyer:       caller,
			Destination: dest,
			Ask:         quote.Ask,
			Fee:         quote.Fee,
			Total:       quote.Total,
		}
		return tx.AppendJournal(ctx, domain.EventListingBought, map[string]any{
			"listing":  addr.Hex(),
			"market":   listing.Market.Hex(),
			"asset_id": listing.AssetID.Hex(),
			"seller":   listing.Seller.Hex(),
			"buyer":    caller.Hex(),
			"ask":      quote.Ask,
			"fee":      quote.Fee,
		})
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("settlement: buy %s: %w", addr.Hex(), err)
	}

	e.cacheListing(ctx, receipt.Listing)
	e.publish(ctx, domain.ChannelListings, domain.SettlementEvent{
		Type:    domain.EventListingBought,
		Market:  req.Market,
		AssetID: &req.AssetID,
		Seller:  &req.Seller,
		Buyer:   &caller,
		Ask:     receipt.Ask,
		Fee:     receipt.Fee,
	})
	e.logger.InfoContext(ctx, "settlement: listing bought",
		slog.String("listing", addr.Hex()),
		slog.String("buyer", caller.Hex()),
		slog.Uint64("ask", receipt.Ask),
		slog.Uint64("fee", receipt.Fee),
	)
	return receipt, nil
}

// Ask re-prices an unsold listing. Only the seller may call it.
func (e *Engine) Ask(ctx context.Context, caller common.Address, req AskRequest) (domain.Listing, error) {
	addr := derive.ListingFor(req.Key())

	var listing domain.Listing
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		l, err := tx.GetListing(ctx, addr)
		if err != nil {
			return err
		}
		if err := requireSeller(l, caller, domain.ErrInvalidAskAuth); err != nil {
			return err
		}
		if err := requireUnlocked(l); err != nil {
			return err
		}
		if err := checkAsk(req.Amount, e.cfg.RejectZeroAsk); err != nil {
			return err
		}

		previous := l.Ask
		l.Ask = req.Amount
		l.UpdatedAt = e.now()
		if err := tx.PutListing(ctx, *l); err != nil {
			return err
		}
		listing = *l
		return tx.AppendJournal(ctx, domain.EventListingRepriced, map[string]any{
			"listing":  addr.Hex(),
			"previous": previous,
			"ask":      req.Amount,
		})
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("settlement: ask %s: %w", addr.Hex(), err)
	}

	e.cacheListing(ctx, listing)
	e.publish(ctx, domain.ChannelListings, domain.SettlementEvent{
		Type:    domain.EventListingRepriced,
		Market:  req.Market,
		AssetID: &req.AssetID,
		Seller:  &req.Seller,
		Ask:     req.Amount,
	})
	return listing, nil
}

// CloseListing returns the asset of an unsold listing to the seller, deletes
// the listing and refunds its deposit.
func (e *Engine) CloseListing(ctx context.Context, caller common.Address, req CloseListingRequest) (domain.Listing, error) {
	seller := caller
	if req.Seller != nil {
		seller = *req.Seller
	}
	addr := derive.Listing(req.Market, req.AssetID, seller)
	dest := derive.Holding(caller, req.AssetID)
	if req.Destination != nil {
		dest = *req.Destination
	}

	var closed domain.Listing
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		l, err := tx.GetListing(ctx, addr)
		if err != nil {
			return err
		}
		if err := requireSeller(l, caller, domain.ErrInvalidCloseAuth); err != nil {
			return err
		}
		if err := requireUnlocked(l); err != nil {
			return err
		}

		led := ledger.New(tx)
		if _, err := led.InitTokenAccountIfNeeded(ctx, dest, l.AssetID, caller, false); err != nil {
			return err
		}
		if err := led.TransferUnit(ctx, derive.AssetVault(l.AssetID), dest, l.AssetID,
			derive.AssetVaultAuthority(l.AssetID)); err != nil {
			return err
		}
		if err := tx.DeleteListing(ctx, addr); err != nil {
			return err
		}
		if err := led.RefundDeposit(ctx, caller, l.Deposit); err != nil {
			return err
		}
		closed = *l
		return tx.AppendJournal(ctx, domain.EventListingClosed, map[string]any{
			"listing":     addr.Hex(),
			"asset_id":    l.AssetID.Hex(),
			"destination": dest.Hex(),
			"refund":      l.Deposit,
		})
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("settlement: close listing %s: %w", addr.Hex(), err)
	}

	e.invalidate(ctx, addr)
	e.publish(ctx, domain.ChannelListings, domain.SettlementEvent{
		Type:    domain.EventListingClosed,
		Market:  req.Market,
		AssetID: &req.AssetID,
		Seller:  &seller,
	})
	e.logger.InfoContext(ctx, "settlement: listing closed",
		slog.String("listing", addr.Hex()),
		slog.String("destination", dest.Hex()),
	)
	return closed, nil
}

// WithdrawFees moves amount of wrapped currency from the market's fee vault
// to a native token account. Only the market authority may call it.
func (e *Engine) WithdrawFees(ctx context.Context, caller common.Address, req WithdrawFeesRequest) (Withdrawal, error) {
	var out Withdrawal
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		market, err := tx.GetMarket(ctx, req.Market)
		if err != nil {
			return err
		}
		if err := requireMarketAuthority(market, caller); err != nil {
			return err
		}

		led := ledger.New(tx)
		dest := derive.Holding(caller, domain.NativeMint)
		if req.Destination != nil {
			dest = *req.Destination
			if dest == market.FeeVault {
				return fmt.Errorf("destination is the fee vault: %w", domain.ErrInvalidInput)
			}
			acct, err := tx.GetTokenAccount(ctx, dest)
			if err != nil {
				return err
			}
			if !acct.IsNative {
				return fmt.Errorf("destination %s: %w", dest.Hex(), domain.ErrMintMismatch)
			}
		} else if _, err := led.InitTokenAccountIfNeeded(ctx, dest, domain.NativeMint, caller, false); err != nil {
			return err
		}

		if err := led.TransferWrapped(ctx, market.FeeVault, dest, req.Amount,
			derive.FeeVaultAuthority(market.Address)); err != nil {
			return err
		}
		vault, err := tx.GetTokenAccount(ctx, market.FeeVault)
		if err != nil {
			return err
		}

		out = Withdrawal{
			Market:      market.Address,
			Destination: dest,
			Amount:      req.Amount,
			Remaining:   vault.Amount,
		}
		return tx.AppendJournal(ctx, domain.EventFeesWithdrawn, map[string]any{
			"market":      market.Address.Hex(),
			"destination": dest.Hex(),
			"amount":      req.Amount,
		})
	})
	if err != nil {
		return Withdrawal{}, fmt.Errorf("settlement: withdraw fees: %w", err)
	}

	e.publish(ctx, domain.ChannelFees, domain.SettlementEvent{
		Type:   domain.EventFeesWithdrawn,
		Market: req.Market,
		Amount: req.Amount,
	})
	e.logger.InfoContext(ctx, "settlement: fees withdrawn",
		slog.String("market", req.Market.Hex()),
		slog.String("destination", out.Destination.Hex()),
		slog.Uint64("amount", req.Amount),
	)
	return out, nil
}

// Quote prices the listing at key without changing any state.
func (e *Engine) Quote(ctx context.Context, key domain.ListingKey) (domain.Quote, error) {
	var q domain.Quote
	err := e.store.View(ctx, func(tx domain.Tx) error {
		l, err := tx.GetListing(ctx, derive.ListingFor(key))
		if err != nil {
			return err
		}
		m, err := tx.GetMarket(ctx, l.Market)
		if err != nil {
			return err
		}
		q, err = QuoteListing(*l, *m)
		return err
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("settlement: quote: %w", err)
	}
	return q, nil
}

func (e *Engine) cacheListing(ctx context.Context, l domain.Listing) {
	if e.listings == nil {
		return
	}
	if err := e.listings.Set(ctx, l, ListingCacheTTL); err != nil {
		e.logger.WarnContext(ctx, "settlement: listing cache write failed",
			slog.String("listing", l.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) invalidate(ctx context.Context, addr common.Address) {
	if e.listings == nil {
		return
	}
	if err := e.listings.Invalidate(ctx, addr); err != nil {
		e.logger.WarnContext(ctx, "settlement: listing cache invalidate failed",
			slog.String("listing", addr.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, channel string, evt domain.SettlementEvent) {
	if e.pub == nil {
		return
	}
	evt.ID = uuid.NewString()
	evt.At = e.now()
	data, err := json.Marshal(evt)
	if err != nil {
		e.logger.WarnContext(ctx, "settlement: marshal event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.pub.Publish(ctx, channel, data); err != nil {
		e.logger.WarnContext(ctx, "settlement: publish event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
	if s, ok := e.pub.(streamAppender); ok {
		if err := s.StreamAppend(ctx, domain.StreamSettlement, data); err != nil {
			e.logger.WarnContext(ctx, "settlement: stream append failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}
