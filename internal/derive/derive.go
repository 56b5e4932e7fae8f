// Package derive computes the deterministic identities the settlement program
// uses for markets, listings, custody vaults and default holdings.
//
// A derived identity has no private key. It is the keccak256 image of a
// domain separator, a tag and a list of parent values, truncated to 20 bytes:
//
//	keccak256(0xff || "escrowmarket/v1" || lp(tag) || lp(parent_1) || ...)[12:]
//
// where lp(x) is x prefixed with its big-endian uint32 length.
package derive

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const domainSeparator = "escrowmarket/v1"

// Derivation tags.
const (
	TagMarket  = "market"
	TagVault   = "vault"
	TagListing = "listing"
	TagHolding = "holding"
	TagAsset   = "asset"
)

// Address derives the identity for tag and parents.
func Address(tag string, parents ...[]byte) common.Address {
	size := 1 + len(domainSeparator) + 4 + len(tag)
	for _, p := range parents {
		size += 4 + len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, 0xff)
	buf = append(buf, domainSeparator...)
	buf = appendPrefixed(buf, []byte(tag))
	for _, p := range parents {
		buf = appendPrefixed(buf, p)
	}
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

func appendPrefixed(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// Market derives a market identity from its creator and a creation nonce.
func Market(creator common.Address, nonce []byte) common.Address {
	return Address(TagMarket, creator.Bytes(), nonce)
}

// FeeVault derives the wrapped-currency account collecting a market's fees.
func FeeVault(market common.Address) common.Address {
	return Address(TagVault, market.Bytes(), domain.NativeMint.Bytes())
}

// AssetVault derives the custody account for a unique asset.
func AssetVault(assetID common.Address) common.Address {
	return Address(TagVault, assetID.Bytes())
}

// Listing derives the listing identity for a (market, asset, seller) triple.
func Listing(market, assetID, seller common.Address) common.Address {
	return Address(TagListing, market.Bytes(), assetID.Bytes(), seller.Bytes())
}

// ListingFor derives the identity of the listing stored under key.
func ListingFor(key domain.ListingKey) common.Address {
	return Listing(key.Market, key.AssetID, key.Seller)
}

// Holding derives an owner's default token account for mint.
func Holding(owner, mint common.Address) common.Address {
	return Address(TagHolding, owner.Bytes(), mint.Bytes())
}

// Asset derives a fresh unique asset identifier from a mint nonce.
func Asset(nonce []byte) common.Address {
	return Address(TagAsset, nonce)
}

// Authority returns a program authority whose address is derived from tag
// and parents. The seeds are kept so the ledger can re-derive the address.
func Authority(tag string, parents ...[]byte) domain.Authority {
	seeds := make([][]byte, len(parents))
	for i, p := range parents {
		seeds[i] = append([]byte(nil), p...)
	}
	return domain.Authority{
		Kind:    domain.AuthorityProgram,
		Address: Address(tag, parents...),
		Tag:     tag,
		Seeds:   seeds,
	}
}

// AssetVaultAuthority signs for the custody vault of assetID.
func AssetVaultAuthority(assetID common.Address) domain.Authority {
	return Authority(TagVault, assetID.Bytes())
}

// FeeVaultAuthority signs for the fee vault of market.
func FeeVaultAuthority(market common.Address) domain.Authority {
	return Authority(TagVault, market.Bytes(), domain.NativeMint.Bytes())
}

// Verify reports whether a program authority's address matches its seeds.
func Verify(a domain.Authority) bool {
	if a.Kind != domain.AuthorityProgram {
		return false
	}
	return Address(a.Tag, a.Seeds...) == a.Address
}
