package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConflict      = errors.New("conflicting state transition")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("unavailable")
	ErrLockHeld      = errors.New("lock held by another holder")
)

// Settlement errors returned by the engine operations.
var (
	ErrLockedListing = errors.New("locked listing")
	ErrBidTooLow     = errors.New("bid is too low")
	ErrZeroAsk       = errors.New("ask cannot be zero")
	ErrFeeOverflow   = errors.New("fee amount overflows u64")

	ErrInvalidAskAuth   = fmt.Errorf("only seller can change ask: %w", ErrUnauthorized)
	ErrInvalidCloseAuth = fmt.Errorf("only seller can close listing: %w", ErrUnauthorized)
	ErrInvalidFeeAuth   = fmt.Errorf("only market authority can withdraw fees: %w", ErrUnauthorized)
)

// Ledger primitive errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetNotHeld      = errors.New("asset not held")
	ErrMintMismatch      = errors.New("mint mismatch")
	ErrInvalidAuthority  = fmt.Errorf("invalid authority: %w", ErrUnauthorized)
	ErrBalanceOverflow   = errors.New("balance overflows u64")
)

// ErrorCode returns the stable wire name of a domain error, or "" when err
// does not wrap a known domain error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLockedListing):
		return "LockedListing"
	case errors.Is(err, ErrBidTooLow):
		return "BidTooLow"
	case errors.Is(err, ErrZeroAsk):
		return "ZeroAsk"
	case errors.Is(err, ErrInvalidAskAuth):
		return "InvalidAskAuth"
	case errors.Is(err, ErrInvalidCloseAuth):
		return "InvalidCloseAuth"
	case errors.Is(err, ErrInvalidFeeAuth):
		return "InvalidFeeAuth"
	case errors.Is(err, ErrFeeOverflow):
		return "FeeOverflow"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrAssetNotHeld):
		return "AssetNotHeld"
	case errors.Is(err, ErrMintMismatch):
		return "MintMismatch"
	case errors.Is(err, ErrBalanceOverflow):
		return "BalanceOverflow"
	case errors.Is(err, ErrInvalidAuthority):
		return "InvalidAuthority"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrUnavailable):
		return "Unavailable"
	default:
		return ""
	}
}
