package settlement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

func TestFee(t *testing.T) {
	tests := []struct {
		name   string
		ask    uint64
		rate   uint64
		scalar uint64
		want   uint64
	}{
		{"five percent", 1000, 50, 1000, 50},
		{"floors", 999, 50, 1000, 49},
		{"zero rate", 1000, 0, 1000, 0},
		{"zero ask", 0, 50, 1000, 0},
		{"rate above scalar", 100, 2500, 1000, 250},
		{"large ask does not wrap", math.MaxUint64, 50, 1000, 922337203685477580},
		{"custom scalar", 10_000, 25, 10_000, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fee(tt.ask, tt.rate, tt.scalar)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFeeErrors(t *testing.T) {
	_, err := Fee(math.MaxUint64, math.MaxUint64, 1)
	assert.ErrorIs(t, err, domain.ErrFeeOverflow)

	_, err = Fee(1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTotal(t *testing.T) {
	got, err := Total(1000, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(1050), got)

	_, err = Total(math.MaxUint64, 1)
	assert.ErrorIs(t, err, domain.ErrFeeOverflow)
}

func TestQuoteListing(t *testing.T) {
	q, err := QuoteListing(
		domain.Listing{Ask: 1000, Locked: true},
		domain.Market{FeeRate: 50, FeeScalar: 1000},
	)
	require.NoError(t, err)
	assert.Equal(t, domain.Quote{Ask: 1000, Fee: 50, Total: 1050, Locked: true}, q)
}
