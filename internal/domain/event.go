package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Bus channels carrying settlement events.
const (
	ChannelMarkets   = "ch:markets"
	ChannelListings  = "ch:listings"
	ChannelFees      = "ch:fees"
	StreamSettlement = "stream:settlement"
)

// SettlementEvent is published after an operation commits.
type SettlementEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Market  common.Address  `json:"market"`
	AssetID *common.Address `json:"asset_id,omitempty"`
	Seller  *common.Address `json:"seller,omitempty"`
	Buyer   *common.Address `json:"buyer,omitempty"`
	Ask     uint64          `json:"ask,omitempty"`
	Fee     uint64          `json:"fee,omitempty"`
	Amount  uint64          `json:"amount,omitempty"`
	At      time.Time       `json:"at"`
}
