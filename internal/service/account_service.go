package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// AccountService reads balances and token accounts.
type AccountService struct {
	store domain.Store
}

// NewAccountService creates an AccountService.
func NewAccountService(store domain.Store) *AccountService {
	return &AccountService{store: store}
}

// GetWallet returns the native balance of addr. Unknown identities have a
// zero balance.
func (s *AccountService) GetWallet(ctx context.Context, addr common.Address) (domain.Wallet, error) {
	var w domain.Wallet
	err := s.store.View(ctx, func(tx domain.Tx) error {
		got, err := tx.GetWallet(ctx, addr)
		if err != nil {
			return err
		}
		w = *got
		return nil
	})
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("account_service: wallet %s: %w", addr.Hex(), err)
	}
	return w, nil
}

// GetTokenAccount returns the token account at addr.
func (s *AccountService) GetTokenAccount(ctx context.Context, addr common.Address) (domain.TokenAccount, error) {
	var a domain.TokenAccount
	err := s.store.View(ctx, func(tx domain.Tx) error {
		got, err := tx.GetTokenAccount(ctx, addr)
		if err != nil {
			return err
		}
		a = *got
		return nil
	})
	if err != nil {
		return domain.TokenAccount{}, fmt.Errorf("account_service: token account %s: %w", addr.Hex(), err)
	}
	return a, nil
}

// ListTokenAccounts returns every token account controlled by authority.
func (s *AccountService) ListTokenAccounts(ctx context.Context, authority common.Address) ([]domain.TokenAccount, error) {
	var out []domain.TokenAccount
	err := s.store.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListTokenAccounts(ctx, authority)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("account_service: list token accounts of %s: %w", authority.Hex(), err)
	}
	return out, nil
}
