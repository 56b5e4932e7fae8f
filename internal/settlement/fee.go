package settlement

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// DefaultFeeScalar is the denominator fee rates are expressed over.
const DefaultFeeScalar uint64 = 1000

// Fee returns floor(ask * rate / scalar). The product is computed in 256-bit
// arithmetic; a result that does not fit in a uint64 is domain.ErrFeeOverflow.
func Fee(ask, rate, scalar uint64) (uint64, error) {
	if scalar == 0 {
		return 0, fmt.Errorf("settlement: fee scalar is zero: %w", domain.ErrInvalidInput)
	}
	var x uint256.Int
	x.Mul(uint256.NewInt(ask), uint256.NewInt(rate))
	x.Div(&x, uint256.NewInt(scalar))
	if !x.IsUint64() {
		return 0, fmt.Errorf("settlement: fee for ask %d at rate %d/%d: %w", ask, rate, scalar, domain.ErrFeeOverflow)
	}
	return x.Uint64(), nil
}

// Total returns the buyer outlay ask + fee.
func Total(ask, fee uint64) (uint64, error) {
	sum, carry := bits.Add64(ask, fee, 0)
	if carry != 0 {
		return 0, fmt.Errorf("settlement: total of ask %d and fee %d: %w", ask, fee, domain.ErrFeeOverflow)
	}
	return sum, nil
}

// QuoteListing prices a listing under the fee terms of its market.
func QuoteListing(l domain.Listing, m domain.Market) (domain.Quote, error) {
	fee, err := Fee(l.Ask, m.FeeRate, m.FeeScalar)
	if err != nil {
		return domain.Quote{}, err
	}
	total, err := Total(l.Ask, fee)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		Listing: l.Address,
		Ask:     l.Ask,
		Fee:     fee,
		Total:   total,
		Locked:  l.Locked,
	}, nil
}
