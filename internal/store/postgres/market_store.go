package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const marketColumns = `address, authority, fee_vault, fee_rate::text, fee_scalar::text, created_at`

func (t *txn) GetMarket(ctx context.Context, a common.Address) (*domain.Market, error) {
	// Markets are immutable, so reads never take a row lock.
	row := t.tx.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE address = $1`, a.Bytes())
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: market %s: %w", a.Hex(), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get market %s: %w", a.Hex(), err)
	}
	return m, nil
}

func (t *txn) InsertMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (address, authority, fee_vault, fee_rate, fee_scalar, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)`
	_, err := t.tx.Exec(ctx, query,
		m.Address.Bytes(), m.Authority.Bytes(), m.FeeVault.Bytes(),
		u64(m.FeeRate), u64(m.FeeScalar), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.Address.Hex(), classify(err))
	}
	return nil
}

func (t *txn) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets ORDER BY created_at, address`
	query, args := paginate(query, nil, opts)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate markets: %w", err)
	}
	return out, nil
}

func scanMarket(row pgx.Row) (*domain.Market, error) {
	var (
		m                    domain.Market
		address, auth, vault []byte
		feeRate, feeScalar   string
	)
	if err := row.Scan(&address, &auth, &vault, &feeRate, &feeScalar, &m.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.FeeRate, err = parseU64(feeRate); err != nil {
		return nil, err
	}
	if m.FeeScalar, err = parseU64(feeScalar); err != nil {
		return nil, err
	}
	m.Address, m.Authority, m.FeeVault = addr(address), addr(auth), addr(vault)
	return &m, nil
}

// paginate appends LIMIT/OFFSET placeholders after the existing args.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
