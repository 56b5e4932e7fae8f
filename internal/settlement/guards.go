package settlement

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

func requireUnlocked(l *domain.Listing) error {
	if l.Locked {
		return domain.ErrLockedListing
	}
	return nil
}

func requireSeller(l *domain.Listing, caller common.Address, denied error) error {
	if l.Seller != caller {
		return denied
	}
	return nil
}

func requireMarketAuthority(m *domain.Market, caller common.Address) error {
	if m.Authority != caller {
		return domain.ErrInvalidFeeAuth
	}
	return nil
}

func checkAsk(ask uint64, rejectZero bool) error {
	if rejectZero && ask == 0 {
		return domain.ErrZeroAsk
	}
	return nil
}

// checkBid rejects a purchase whose ask exceeds the buyer's bid. A nil bid
// accepts any ask.
func checkBid(ask uint64, bid *uint64) error {
	if bid != nil && ask > *bid {
		return domain.ErrBidTooLow
	}
	return nil
}
