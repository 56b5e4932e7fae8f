package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Market groups listings under one fee rate and one fee vault.
type Market struct {
	Address   common.Address `json:"address"`
	Authority common.Address `json:"authority"`
	FeeVault  common.Address `json:"fee_vault"`
	// FeeRate is a numerator over FeeScalar.
	FeeRate   uint64    `json:"fee_rate"`
	FeeScalar uint64    `json:"fee_scalar"`
	CreatedAt time.Time `json:"created_at"`
}
