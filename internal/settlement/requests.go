package settlement

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// CreateListingRequest deposits one unit of AssetID into custody and offers
// it at Ask. Source defaults to the caller's holding account for AssetID.
type CreateListingRequest struct {
	Market  common.Address  `json:"market"`
	AssetID common.Address  `json:"asset_id"`
	Source  *common.Address `json:"source,omitempty"`
	Ask     uint64          `json:"ask"`
}

// BuyRequest purchases the listing identified by (Market, AssetID, Seller).
// When Bid is set, the purchase fails if the current ask exceeds it.
// Destination defaults to the caller's holding account for AssetID.
type BuyRequest struct {
	Market      common.Address  `json:"market"`
	AssetID     common.Address  `json:"asset_id"`
	Seller      common.Address  `json:"seller"`
	Bid         *uint64         `json:"bid,omitempty"`
	Destination *common.Address `json:"destination,omitempty"`
}

// Key returns the listing key the request targets.
func (r BuyRequest) Key() domain.ListingKey {
	return domain.ListingKey{Market: r.Market, AssetID: r.AssetID, Seller: r.Seller}
}

// AskRequest re-prices a listing.
type AskRequest struct {
	Market  common.Address `json:"market"`
	AssetID common.Address `json:"asset_id"`
	Seller  common.Address `json:"seller"`
	Amount  uint64         `json:"amount"`
}

// Key returns the listing key the request targets.
func (r AskRequest) Key() domain.ListingKey {
	return domain.ListingKey{Market: r.Market, AssetID: r.AssetID, Seller: r.Seller}
}

// CloseListingRequest withdraws an unsold listing. Seller defaults to the
// caller and Destination to the caller's holding account for AssetID.
type CloseListingRequest struct {
	Market      common.Address  `json:"market"`
	AssetID     common.Address  `json:"asset_id"`
	Seller      *common.Address `json:"seller,omitempty"`
	Destination *common.Address `json:"destination,omitempty"`
}

// WithdrawFeesRequest moves collected fees out of a market's fee vault.
// Destination must be a native token account; it defaults to the caller's
// native holding account, which is created when absent.
type WithdrawFeesRequest struct {
	Market      common.Address  `json:"market"`
	Amount      uint64          `json:"amount"`
	Destination *common.Address `json:"destination,omitempty"`
}

// Receipt describes a completed purchase.
type Receipt struct {
	Listing     domain.Listing `json:"listing"`
	Buyer       common.Address `json:"buyer"`
	Destination common.Address `json:"destination"`
	Ask         uint64         `json:"ask"`
	Fee         uint64         `json:"fee"`
	Total       uint64         `json:"total"`
}

// Withdrawal describes a completed fee withdrawal.
type Withdrawal struct {
	Market      common.Address `json:"market"`
	Destination common.Address `json:"destination"`
	Amount      uint64         `json:"amount"`
	Remaining   uint64         `json:"remaining"`
}
