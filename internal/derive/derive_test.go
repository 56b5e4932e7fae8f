package derive

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

var (
	market = common.HexToAddress("0x1000000000000000000000000000000000000001")
	asset  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	seller = common.HexToAddress("0x3000000000000000000000000000000000000003")
	buyer  = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

func TestAddressDeterministic(t *testing.T) {
	a := Listing(market, asset, seller)
	b := Listing(market, asset, seller)
	assert.Equal(t, a, b)
	assert.NotEqual(t, common.Address{}, a)
}

func TestAddressDistinctInputs(t *testing.T) {
	tests := []struct {
		name string
		a, b common.Address
	}{
		{"different seller", Listing(market, asset, seller), Listing(market, asset, buyer)},
		{"different tag", Address(TagVault, asset.Bytes()), Address(TagHolding, asset.Bytes())},
		{"asset vault vs fee vault", AssetVault(market), FeeVault(market)},
		{"boundary shift", Address(TagVault, []byte("ab"), []byte("c")), Address(TagVault, []byte("a"), []byte("bc"))},
		{"holding per mint", Holding(seller, asset), Holding(seller, domain.NativeMint)},
		{"market nonce", Market(seller, []byte{1}), Market(seller, []byte{2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a, tt.b)
		})
	}
}

func TestAuthorityVerify(t *testing.T) {
	auth := AssetVaultAuthority(asset)
	require.Equal(t, domain.AuthorityProgram, auth.Kind)
	assert.Equal(t, AssetVault(asset), auth.Address)
	assert.True(t, Verify(auth))

	fee := FeeVaultAuthority(market)
	assert.Equal(t, FeeVault(market), fee.Address)
	assert.True(t, Verify(fee))
}

func TestVerifyRejectsForgedAuthority(t *testing.T) {
	forged := AssetVaultAuthority(asset)
	forged.Address = seller
	assert.False(t, Verify(forged))

	swapped := AssetVaultAuthority(asset)
	swapped.Seeds = [][]byte{market.Bytes()}
	assert.False(t, Verify(swapped))

	assert.False(t, Verify(domain.CallerAuthority(seller)))
}

func TestAuthorityCopiesSeeds(t *testing.T) {
	seed := asset.Bytes()
	auth := Authority(TagVault, seed)
	seed[0] ^= 0xff
	assert.True(t, Verify(auth))
}

func TestListingForMatchesListing(t *testing.T) {
	key := domain.ListingKey{Market: market, AssetID: asset, Seller: seller}
	assert.Equal(t, Listing(market, asset, seller), ListingFor(key))
}
