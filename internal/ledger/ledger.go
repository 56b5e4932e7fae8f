// Package ledger implements the host primitives the settlement engine builds
// on: native currency transfers, unit transfers between token accounts,
// wrapped-currency transfers, native sync and account initialization.
//
// Every primitive runs against a domain.Tx and therefore commits or rolls
// back together with the operation that called it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/derive"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Ledger applies balance movements inside one transaction.
type Ledger struct {
	tx domain.Tx
}

// New returns a Ledger bound to tx.
func New(tx domain.Tx) *Ledger {
	return &Ledger{tx: tx}
}

// Transfer moves native currency out of the wallet of from. The destination
// is credited as a wallet, or as deposited lamports when to is a native token
// account. Only the caller owning from may authorize it.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount uint64, auth domain.Authority) error {
	if auth.Kind != domain.AuthorityCaller || auth.Address != from {
		return fmt.Errorf("ledger: transfer from %s: %w", from.Hex(), domain.ErrInvalidAuthority)
	}
	if amount == 0 {
		return nil
	}

	src, err := l.tx.GetWallet(ctx, from)
	if err != nil {
		return fmt.Errorf("ledger: transfer from %s: %w", from.Hex(), err)
	}
	if src.Lamports < amount {
		return fmt.Errorf("ledger: transfer %d from %s (balance %d): %w",
			amount, from.Hex(), src.Lamports, domain.ErrInsufficientFunds)
	}
	src.Lamports -= amount
	if err := l.tx.PutWallet(ctx, *src); err != nil {
		return fmt.Errorf("ledger: transfer from %s: %w", from.Hex(), err)
	}

	acct, err := l.tx.GetTokenAccount(ctx, to)
	switch {
	case err == nil:
		if !acct.IsNative {
			return fmt.Errorf("ledger: transfer to %s: %w", to.Hex(), domain.ErrMintMismatch)
		}
		lamports, err := add(acct.Lamports, amount)
		if err != nil {
			return fmt.Errorf("ledger: transfer to %s: %w", to.Hex(), err)
		}
		acct.Lamports = lamports
		if err := l.tx.PutTokenAccount(ctx, *acct); err != nil {
			return fmt.Errorf("ledger: transfer to %s: %w", to.Hex(), err)
		}
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return l.Credit(ctx, to, amount)
	default:
		return fmt.Errorf("ledger: transfer to %s: %w", to.Hex(), err)
	}
}

// Credit adds amount to the wallet of to.
func (l *Ledger) Credit(ctx context.Context, to common.Address, amount uint64) error {
	dst, err := l.tx.GetWallet(ctx, to)
	if err != nil {
		return fmt.Errorf("ledger: credit %s: %w", to.Hex(), err)
	}
	lamports, err := add(dst.Lamports, amount)
	if err != nil {
		return fmt.Errorf("ledger: credit %s: %w", to.Hex(), err)
	}
	dst.Lamports = lamports
	if err := l.tx.PutWallet(ctx, *dst); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", to.Hex(), err)
	}
	return nil
}

// TransferUnit moves one unit of assetID between two token accounts.
func (l *Ledger) TransferUnit(ctx context.Context, from, to, assetID common.Address, auth domain.Authority) error {
	src, err := l.tx.GetTokenAccount(ctx, from)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("ledger: transfer unit from %s: %w", from.Hex(), domain.ErrAssetNotHeld)
		}
		return fmt.Errorf("ledger: transfer unit from %s: %w", from.Hex(), err)
	}
	if src.Mint != assetID {
		return fmt.Errorf("ledger: transfer unit from %s: %w", from.Hex(), domain.ErrMintMismatch)
	}
	if err := checkAuthority(src, auth); err != nil {
		return fmt.Errorf("ledger: transfer unit from %s: %w", from.Hex(), err)
	}
	if src.Amount < 1 {
		return fmt.Errorf("ledger: transfer unit from %s: %w", from.Hex(), domain.ErrAssetNotHeld)
	}

	dst, err := l.tx.GetTokenAccount(ctx, to)
	if err != nil {
		return fmt.Errorf("ledger: transfer unit to %s: %w", to.Hex(), err)
	}
	if dst.Mint != assetID {
		return fmt.Errorf("ledger: transfer unit to %s: %w", to.Hex(), domain.ErrMintMismatch)
	}
	if from == to {
		return nil
	}

	src.Amount--
	dst.Amount++
	if err := l.tx.PutTokenAccount(ctx, *src); err != nil {
		return fmt.Errorf("ledger: transfer unit: %w", err)
	}
	if err := l.tx.PutTokenAccount(ctx, *dst); err != nil {
		return fmt.Errorf("ledger: transfer unit: %w", err)
	}
	return nil
}

// TransferWrapped moves wrapped native currency between native token accounts.
func (l *Ledger) TransferWrapped(ctx context.Context, from, to common.Address, amount uint64, auth domain.Authority) error {
	src, err := l.tx.GetTokenAccount(ctx, from)
	if err != nil {
		return fmt.Errorf("ledger: transfer wrapped from %s: %w", from.Hex(), err)
	}
	if !src.IsNative {
		return fmt.Errorf("ledger: transfer wrapped from %s: %w", from.Hex(), domain.ErrMintMismatch)
	}
	if err := checkAuthority(src, auth); err != nil {
		return fmt.Errorf("ledger: transfer wrapped from %s: %w", from.Hex(), err)
	}
	if src.Amount < amount {
		return fmt.Errorf("ledger: transfer wrapped %d from %s (amount %d): %w",
			amount, from.Hex(), src.Amount, domain.ErrInsufficientFunds)
	}

	dst, err := l.tx.GetTokenAccount(ctx, to)
	if err != nil {
		return fmt.Errorf("ledger: transfer wrapped to %s: %w", to.Hex(), err)
	}
	if !dst.IsNative {
		return fmt.Errorf("ledger: transfer wrapped to %s: %w", to.Hex(), domain.ErrMintMismatch)
	}
	if amount == 0 || from == to {
		return nil
	}

	dstAmount, err := add(dst.Amount, amount)
	if err != nil {
		return fmt.Errorf("ledger: transfer wrapped to %s: %w", to.Hex(), err)
	}
	dstLamports, err := add(dst.Lamports, amount)
	if err != nil {
		return fmt.Errorf("ledger: transfer wrapped to %s: %w", to.Hex(), err)
	}
	src.Amount -= amount
	src.Lamports -= amount
	dst.Amount = dstAmount
	dst.Lamports = dstLamports

	if err := l.tx.PutTokenAccount(ctx, *src); err != nil {
		return fmt.Errorf("ledger: transfer wrapped: %w", err)
	}
	if err := l.tx.PutTokenAccount(ctx, *dst); err != nil {
		return fmt.Errorf("ledger: transfer wrapped: %w", err)
	}
	return nil
}

// SyncNative makes lamports deposited into a native token account visible
// as its wrapped amount.
func (l *Ledger) SyncNative(ctx context.Context, account common.Address) error {
	acct, err := l.tx.GetTokenAccount(ctx, account)
	if err != nil {
		return fmt.Errorf("ledger: sync native %s: %w", account.Hex(), err)
	}
	if !acct.IsNative {
		return fmt.Errorf("ledger: sync native %s: %w", account.Hex(), domain.ErrMintMismatch)
	}
	if acct.Amount == acct.Lamports {
		return nil
	}
	acct.Amount = acct.Lamports
	if err := l.tx.PutTokenAccount(ctx, *acct); err != nil {
		return fmt.Errorf("ledger: sync native %s: %w", account.Hex(), err)
	}
	return nil
}

// InitTokenAccount creates an empty token account. It fails with
// domain.ErrAlreadyExists when the address is taken.
func (l *Ledger) InitTokenAccount(ctx context.Context, addr, mint, authority common.Address, programOwned bool) (*domain.TokenAccount, error) {
	_, err := l.tx.GetTokenAccount(ctx, addr)
	if err == nil {
		return nil, fmt.Errorf("ledger: init token account %s: %w", addr.Hex(), domain.ErrAlreadyExists)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("ledger: init token account %s: %w", addr.Hex(), err)
	}

	acct := domain.TokenAccount{
		Address:      addr,
		Mint:         mint,
		Authority:    authority,
		IsNative:     mint == domain.NativeMint,
		ProgramOwned: programOwned,
	}
	if err := l.tx.PutTokenAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("ledger: init token account %s: %w", addr.Hex(), err)
	}
	return &acct, nil
}

// InitTokenAccountIfNeeded returns the account at addr, creating it when
// absent. An existing account must match mint and authority.
func (l *Ledger) InitTokenAccountIfNeeded(ctx context.Context, addr, mint, authority common.Address, programOwned bool) (*domain.TokenAccount, error) {
	acct, err := l.tx.GetTokenAccount(ctx, addr)
	switch {
	case err == nil:
		if acct.Mint != mint {
			return nil, fmt.Errorf("ledger: token account %s: %w", addr.Hex(), domain.ErrMintMismatch)
		}
		if acct.Authority != authority {
			return nil, fmt.Errorf("ledger: token account %s: %w", addr.Hex(), domain.ErrInvalidAuthority)
		}
		return acct, nil
	case errors.Is(err, domain.ErrNotFound):
		return l.InitTokenAccount(ctx, addr, mint, authority, programOwned)
	default:
		return nil, fmt.Errorf("ledger: token account %s: %w", addr.Hex(), err)
	}
}

// ChargeDeposit debits a storage deposit from payer's wallet.
func (l *Ledger) ChargeDeposit(ctx context.Context, payer common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	w, err := l.tx.GetWallet(ctx, payer)
	if err != nil {
		return fmt.Errorf("ledger: charge deposit %s: %w", payer.Hex(), err)
	}
	if w.Lamports < amount {
		return fmt.Errorf("ledger: charge deposit %d from %s (balance %d): %w",
			amount, payer.Hex(), w.Lamports, domain.ErrInsufficientFunds)
	}
	w.Lamports -= amount
	if err := l.tx.PutWallet(ctx, *w); err != nil {
		return fmt.Errorf("ledger: charge deposit %s: %w", payer.Hex(), err)
	}
	return nil
}

// RefundDeposit returns a storage deposit to the wallet of to.
func (l *Ledger) RefundDeposit(ctx context.Context, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return l.Credit(ctx, to, amount)
}

// checkAuthority validates that auth may debit acct.
func checkAuthority(acct *domain.TokenAccount, auth domain.Authority) error {
	switch auth.Kind {
	case domain.AuthorityCaller:
		if acct.ProgramOwned {
			return domain.ErrInvalidAuthority
		}
	case domain.AuthorityProgram:
		if !derive.Verify(auth) {
			return domain.ErrInvalidAuthority
		}
	default:
		return domain.ErrInvalidAuthority
	}
	if auth.Address != acct.Authority {
		return domain.ErrInvalidAuthority
	}
	return nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.ErrBalanceOverflow
	}
	return sum, nil
}
