package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

func (t *txn) GetWallet(ctx context.Context, a common.Address) (*domain.Wallet, error) {
	var lamports string
	err := t.tx.QueryRow(ctx, `SELECT lamports::text FROM wallets WHERE address = $1`+t.lockClause(), a.Bytes()).Scan(&lamports)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.Wallet{Address: a}, nil
		}
		return nil, fmt.Errorf("postgres: get wallet %s: %w", a.Hex(), err)
	}
	v, err := parseU64(lamports)
	if err != nil {
		return nil, err
	}
	return &domain.Wallet{Address: a, Lamports: v}, nil
}

func (t *txn) PutWallet(ctx context.Context, w domain.Wallet) error {
	const query = `
		INSERT INTO wallets (address, lamports, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (address) DO UPDATE SET
			lamports   = EXCLUDED.lamports,
			updated_at = NOW()`
	if _, err := t.tx.Exec(ctx, query, w.Address.Bytes(), u64(w.Lamports)); err != nil {
		return fmt.Errorf("postgres: put wallet %s: %w", w.Address.Hex(), classify(err))
	}
	return nil
}

const tokenAccountColumns = `address, mint, authority, amount::text, lamports::text, is_native, program_owned`

func (t *txn) GetTokenAccount(ctx context.Context, a common.Address) (*domain.TokenAccount, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+tokenAccountColumns+` FROM token_accounts WHERE address = $1`+t.lockClause(), a.Bytes())
	acct, err := scanTokenAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: token account %s: %w", a.Hex(), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get token account %s: %w", a.Hex(), err)
	}
	return acct, nil
}

func (t *txn) PutTokenAccount(ctx context.Context, acct domain.TokenAccount) error {
	const query = `
		INSERT INTO token_accounts (address, mint, authority, amount, lamports, is_native, program_owned, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, NOW())
		ON CONFLICT (address) DO UPDATE SET
			amount     = EXCLUDED.amount,
			lamports   = EXCLUDED.lamports,
			updated_at = NOW()`
	_, err := t.tx.Exec(ctx, query,
		acct.Address.Bytes(), acct.Mint.Bytes(), acct.Authority.Bytes(),
		u64(acct.Amount), u64(acct.Lamports), acct.IsNative, acct.ProgramOwned,
	)
	if err != nil {
		return fmt.Errorf("postgres: put token account %s: %w", acct.Address.Hex(), classify(err))
	}
	return nil
}

func (t *txn) ListTokenAccounts(ctx context.Context, authority common.Address) ([]domain.TokenAccount, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+tokenAccountColumns+` FROM token_accounts WHERE authority = $1 ORDER BY address`,
		authority.Bytes(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list token accounts %s: %w", authority.Hex(), err)
	}
	defer rows.Close()

	var out []domain.TokenAccount
	for rows.Next() {
		acct, err := scanTokenAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan token account: %w", err)
		}
		out = append(out, *acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate token accounts: %w", err)
	}
	return out, nil
}

func scanTokenAccount(row pgx.Row) (*domain.TokenAccount, error) {
	var (
		acct                     domain.TokenAccount
		address, mint, authority []byte
		amount, lamports         string
	)
	if err := row.Scan(&address, &mint, &authority, &amount, &lamports, &acct.IsNative, &acct.ProgramOwned); err != nil {
		return nil, err
	}
	var err error
	if acct.Amount, err = parseU64(amount); err != nil {
		return nil, err
	}
	if acct.Lamports, err = parseU64(lamports); err != nil {
		return nil, err
	}
	acct.Address, acct.Mint, acct.Authority = addr(address), addr(mint), addr(authority)
	return &acct, nil
}
