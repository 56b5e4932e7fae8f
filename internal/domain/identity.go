package domain

import "github.com/ethereum/go-ethereum/common"

// NativeMint names the wrapped form of the base currency. Token accounts with
// this mint hold wrapped currency rather than a unique asset.
var NativeMint = common.BytesToAddress([]byte("escrowmarket/native"))

// AuthorityKind distinguishes caller-signed identities from identities
// derived by the settlement program.
type AuthorityKind uint8

const (
	AuthorityCaller AuthorityKind = iota + 1
	AuthorityProgram
)

func (k AuthorityKind) String() string {
	switch k {
	case AuthorityCaller:
		return "caller"
	case AuthorityProgram:
		return "program"
	default:
		return "unknown"
	}
}

// Authority is the proof presented to a ledger primitive when debiting an
// account. Caller authorities come from an authenticated request; program
// authorities carry the seeds the ledger re-derives to confirm the address.
type Authority struct {
	Kind    AuthorityKind
	Address common.Address
	Tag     string
	Seeds   [][]byte
}

// CallerAuthority wraps an authenticated caller identity.
func CallerAuthority(addr common.Address) Authority {
	return Authority{Kind: AuthorityCaller, Address: addr}
}
