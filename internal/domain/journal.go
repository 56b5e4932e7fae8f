package domain

import "time"

// Journal event names. One entry is written per committed operation.
const (
	EventMarketCreated   = "market_created"
	EventListingCreated  = "listing_created"
	EventListingBought   = "listing_bought"
	EventListingRepriced = "listing_repriced"
	EventListingClosed   = "listing_closed"
	EventFeesWithdrawn   = "fees_withdrawn"
	EventAirdrop         = "airdrop"
	EventMint            = "mint"
)

// JournalEntry is a single row of the append-only settlement journal.
type JournalEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}
