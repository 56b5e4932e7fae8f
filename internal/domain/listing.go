package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingKey identifies a listing. At most one listing exists per key since
// the listing address is derived from it.
type ListingKey struct {
	Market  common.Address `json:"market"`
	AssetID common.Address `json:"asset_id"`
	Seller  common.Address `json:"seller"`
}

// Listing is a single seller's offer of one unique asset at a fixed ask.
type Listing struct {
	Address common.Address `json:"address"`
	Market  common.Address `json:"market"`
	Seller  common.Address `json:"seller"`
	AssetID common.Address `json:"asset_id"`
	Ask     uint64         `json:"ask"`
	// Locked is set once the listing has been bought.
	Locked bool `json:"locked"`
	// Deposit is the storage deposit held for this record, refunded to the
	// seller when the listing is closed or bought.
	Deposit   uint64    `json:"deposit"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the identifying triple of the listing.
func (l Listing) Key() ListingKey {
	return ListingKey{Market: l.Market, AssetID: l.AssetID, Seller: l.Seller}
}

// Quote is the buyer-facing price breakdown of a listing.
type Quote struct {
	Listing common.Address `json:"listing"`
	Ask     uint64         `json:"ask"`
	Fee     uint64         `json:"fee"`
	Total   uint64         `json:"total"`
	Locked  bool           `json:"locked"`
}
