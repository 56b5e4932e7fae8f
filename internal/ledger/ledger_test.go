package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/derive"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
)

var (
	alice  = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob    = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	asset  = common.HexToAddress("0xa55e700000000000000000000000000000000003")
	market = common.HexToAddress("0x3a4e700000000000000000000000000000000004")
)

// within runs fn in a committed transaction and returns its error.
func within(t *testing.T, s *memory.Store, fn func(ctx context.Context, l *Ledger, tx domain.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	return s.Update(ctx, func(tx domain.Tx) error {
		return fn(ctx, New(tx), tx)
	})
}

func fund(t *testing.T, s *memory.Store, addr common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.Credit(ctx, addr, amount)
	}))
}

func wallet(t *testing.T, s *memory.Store, addr common.Address) uint64 {
	t.Helper()
	var out uint64
	require.NoError(t, s.View(context.Background(), func(tx domain.Tx) error {
		w, err := tx.GetWallet(context.Background(), addr)
		out = w.Lamports
		return err
	}))
	return out
}

func account(t *testing.T, s *memory.Store, addr common.Address) domain.TokenAccount {
	t.Helper()
	var out domain.TokenAccount
	require.NoError(t, s.View(context.Background(), func(tx domain.Tx) error {
		a, err := tx.GetTokenAccount(context.Background(), addr)
		if err == nil {
			out = *a
		}
		return err
	}))
	return out
}

func TestTransferWalletToWallet(t *testing.T) {
	s := memory.New()
	fund(t, s, alice, 100)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.Transfer(ctx, alice, bob, 40, domain.CallerAuthority(alice))
	}))
	assert.Equal(t, uint64(60), wallet(t, s, alice))
	assert.Equal(t, uint64(40), wallet(t, s, bob))
}

func TestTransferErrors(t *testing.T) {
	s := memory.New()
	fund(t, s, alice, 10)

	tests := []struct {
		name string
		auth domain.Authority
		amt  uint64
		want error
	}{
		{"insufficient", domain.CallerAuthority(alice), 11, domain.ErrInsufficientFunds},
		{"wrong caller", domain.CallerAuthority(bob), 1, domain.ErrInvalidAuthority},
		{"program authority", derive.AssetVaultAuthority(asset), 1, domain.ErrInvalidAuthority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
				return l.Transfer(ctx, alice, bob, tt.amt, tt.auth)
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, uint64(10), wallet(t, s, alice))
			assert.Zero(t, wallet(t, s, bob))
		})
	}
}

func TestTransferIntoNativeAccountThenSync(t *testing.T) {
	s := memory.New()
	fund(t, s, alice, 100)
	vault := derive.FeeVault(market)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		if _, err := l.InitTokenAccount(ctx, vault, domain.NativeMint, vault, true); err != nil {
			return err
		}
		return l.Transfer(ctx, alice, vault, 25, domain.CallerAuthority(alice))
	}))

	acct := account(t, s, vault)
	assert.Equal(t, uint64(25), acct.Lamports)
	assert.Zero(t, acct.Amount)
	assert.Zero(t, wallet(t, s, vault))

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.SyncNative(ctx, vault)
	}))
	assert.Equal(t, uint64(25), account(t, s, vault).Amount)
}

func TestTransferUnit(t *testing.T) {
	s := memory.New()
	src := derive.Holding(alice, asset)
	vault := derive.AssetVault(asset)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, tx domain.Tx) error {
		a, err := l.InitTokenAccount(ctx, src, asset, alice, false)
		if err != nil {
			return err
		}
		a.Amount = 1
		if err := tx.PutTokenAccount(ctx, *a); err != nil {
			return err
		}
		_, err = l.InitTokenAccount(ctx, vault, asset, vault, true)
		return err
	}))

	err := within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferUnit(ctx, src, vault, asset, domain.CallerAuthority(bob))
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAuthority)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferUnit(ctx, src, vault, asset, domain.CallerAuthority(alice))
	}))
	assert.Zero(t, account(t, s, src).Amount)
	assert.Equal(t, uint64(1), account(t, s, vault).Amount)

	err = within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferUnit(ctx, src, vault, asset, domain.CallerAuthority(alice))
	})
	assert.ErrorIs(t, err, domain.ErrAssetNotHeld)

	// The vault only answers to its derived authority.
	err = within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferUnit(ctx, vault, src, asset, domain.CallerAuthority(vault))
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAuthority)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferUnit(ctx, vault, src, asset, derive.AssetVaultAuthority(asset))
	}))
	assert.Equal(t, uint64(1), account(t, s, src).Amount)
}

func TestTransferUnitMintMismatch(t *testing.T) {
	s := memory.New()
	other := common.HexToAddress("0x0ddba11000000000000000000000000000000005")
	src := derive.Holding(alice, asset)
	dst := derive.Holding(bob, other)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, tx domain.Tx) error {
		a, err := l.InitTokenAccount(ctx, src, asset, alice, false)
		if err != nil {
			return err
		}
		a.Amount = 1
		if err := tx.PutTokenAccount(ctx, *a); err != nil {
			return err
		}
		_, err = l.InitTokenAccount(ctx, dst, other, bob, false)
		return err
	}))

	err := within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferUnit(ctx, src, dst, asset, domain.CallerAuthority(alice))
	})
	assert.ErrorIs(t, err, domain.ErrMintMismatch)

	err = within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferUnit(ctx, src, dst, other, domain.CallerAuthority(alice))
	})
	assert.ErrorIs(t, err, domain.ErrMintMismatch)
}

func TestTransferWrapped(t *testing.T) {
	s := memory.New()
	fund(t, s, alice, 100)
	vault := derive.FeeVault(market)
	dest := derive.Holding(bob, domain.NativeMint)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		if _, err := l.InitTokenAccount(ctx, vault, domain.NativeMint, vault, true); err != nil {
			return err
		}
		if _, err := l.InitTokenAccount(ctx, dest, domain.NativeMint, bob, false); err != nil {
			return err
		}
		if err := l.Transfer(ctx, alice, vault, 30, domain.CallerAuthority(alice)); err != nil {
			return err
		}
		return l.SyncNative(ctx, vault)
	}))

	err := within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferWrapped(ctx, vault, dest, 10, domain.CallerAuthority(bob))
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAuthority)

	err = within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferWrapped(ctx, vault, dest, 31, derive.FeeVaultAuthority(market))
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.TransferWrapped(ctx, vault, dest, 10, derive.FeeVaultAuthority(market))
	}))
	assert.Equal(t, uint64(20), account(t, s, vault).Amount)
	assert.Equal(t, uint64(20), account(t, s, vault).Lamports)
	assert.Equal(t, uint64(10), account(t, s, dest).Amount)
}

func TestInitTokenAccountIfNeeded(t *testing.T) {
	s := memory.New()
	addr := derive.Holding(alice, asset)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		first, err := l.InitTokenAccountIfNeeded(ctx, addr, asset, alice, false)
		require.NoError(t, err)
		second, err := l.InitTokenAccountIfNeeded(ctx, addr, asset, alice, false)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		_, err = l.InitTokenAccount(ctx, addr, asset, alice, false)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		_, err = l.InitTokenAccountIfNeeded(ctx, addr, domain.NativeMint, alice, false)
		assert.ErrorIs(t, err, domain.ErrMintMismatch)
		return nil
	}))
}

func TestDeposits(t *testing.T) {
	s := memory.New()
	fund(t, s, alice, 10)

	err := within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.ChargeDeposit(ctx, alice, 11)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.ChargeDeposit(ctx, alice, 4)
	}))
	assert.Equal(t, uint64(6), wallet(t, s, alice))

	require.NoError(t, within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.RefundDeposit(ctx, alice, 4)
	}))
	assert.Equal(t, uint64(10), wallet(t, s, alice))
}

func TestCreditOverflow(t *testing.T) {
	s := memory.New()
	fund(t, s, alice, ^uint64(0))
	err := within(t, s, func(ctx context.Context, l *Ledger, _ domain.Tx) error {
		return l.Credit(ctx, alice, 1)
	})
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
}
