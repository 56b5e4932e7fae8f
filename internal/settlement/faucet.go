package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowmarket/internal/derive"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/ledger"
)

// Airdrop credits amount of native currency to the wallet of to. It exists
// for development deployments and is only exposed when the faucet is enabled.
func (e *Engine) Airdrop(ctx context.Context, to common.Address, amount uint64) (domain.Wallet, error) {
	var w domain.Wallet
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		if err := ledger.New(tx).Credit(ctx, to, amount); err != nil {
			return err
		}
		got, err := tx.GetWallet(ctx, to)
		if err != nil {
			return err
		}
		w = *got
		return tx.AppendJournal(ctx, domain.EventAirdrop, map[string]any{
			"to":     to.Hex(),
			"amount": amount,
		})
	})
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("settlement: airdrop: %w", err)
	}
	e.logger.DebugContext(ctx, "settlement: airdrop",
		slog.String("to", to.Hex()),
		slog.Uint64("amount", amount),
	)
	return w, nil
}

// MintAsset creates a new unique asset and places its single unit in the
// owner's holding account.
func (e *Engine) MintAsset(ctx context.Context, owner common.Address) (domain.TokenAccount, error) {
	nonce := uuid.New()
	assetID := derive.Asset(nonce[:])
	holding := derive.Holding(owner, assetID)

	var acct domain.TokenAccount
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		created, err := ledger.New(tx).InitTokenAccount(ctx, holding, assetID, owner, false)
		if err != nil {
			return err
		}
		created.Amount = 1
		if err := tx.PutTokenAccount(ctx, *created); err != nil {
			return err
		}
		acct = *created
		return tx.AppendJournal(ctx, domain.EventMint, map[string]any{
			"asset_id": assetID.Hex(),
			"owner":    owner.Hex(),
			"account":  holding.Hex(),
		})
	})
	if err != nil {
		return domain.TokenAccount{}, fmt.Errorf("settlement: mint asset: %w", err)
	}
	e.logger.DebugContext(ctx, "settlement: asset minted",
		slog.String("asset_id", assetID.Hex()),
		slog.String("owner", owner.Hex()),
	)
	return acct, nil
}
