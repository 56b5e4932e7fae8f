package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts controls pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ListingFilter narrows ListListings. Zero-valued fields match everything.
type ListingFilter struct {
	Market     *common.Address
	Seller     *common.Address
	OnlyActive bool
}

// JournalQuery selects journal entries. A zero Before matches every entry.
type JournalQuery struct {
	AfterID int64
	Before  time.Time
	Limit   int
}

// Store is the shared record store. Every settlement operation runs inside a
// single Update call, so its effects commit together or not at all.
type Store interface {
	// Update runs fn in a read-write transaction. Any error returned by fn
	// rolls the transaction back.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Journal lists committed journal entries matching q, oldest first.
	Journal(ctx context.Context, q JournalQuery) ([]JournalEntry, error)
	Close()
}

// Tx exposes record access inside a transaction.
type Tx interface {
	GetMarket(ctx context.Context, addr common.Address) (*Market, error)
	InsertMarket(ctx context.Context, m Market) error
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)

	GetListing(ctx context.Context, addr common.Address) (*Listing, error)
	PutListing(ctx context.Context, l Listing) error
	DeleteListing(ctx context.Context, addr common.Address) error
	ListListings(ctx context.Context, f ListingFilter, opts ListOpts) ([]Listing, error)

	// GetWallet returns a zero-balance wallet when none has been stored.
	GetWallet(ctx context.Context, addr common.Address) (*Wallet, error)
	PutWallet(ctx context.Context, w Wallet) error

	GetTokenAccount(ctx context.Context, addr common.Address) (*TokenAccount, error)
	PutTokenAccount(ctx context.Context, a TokenAccount) error
	ListTokenAccounts(ctx context.Context, authority common.Address) ([]TokenAccount, error)

	AppendJournal(ctx context.Context, event string, detail map[string]any) error
}
