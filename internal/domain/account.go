package domain

import "github.com/ethereum/go-ethereum/common"

// Wallet is the native currency balance held directly by an identity.
type Wallet struct {
	Address  common.Address `json:"address"`
	Lamports uint64         `json:"lamports"`
}

// TokenAccount holds units of one mint on behalf of an authority. Asset
// accounts hold zero or one unit of a unique asset; native accounts hold
// wrapped currency.
type TokenAccount struct {
	Address   common.Address `json:"address"`
	Mint      common.Address `json:"mint"`
	Authority common.Address `json:"authority"`
	Amount    uint64         `json:"amount"`
	// Lamports is the raw currency deposited into a native account. It only
	// becomes part of Amount after a sync.
	Lamports uint64 `json:"lamports"`
	IsNative bool   `json:"is_native"`
	// ProgramOwned accounts can only be debited with a program authority.
	ProgramOwned bool `json:"program_owned"`
}
