package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const listingColumns = `address, market, seller, asset_id, ask::text, locked, deposit::text, created_at, updated_at`

func (t *txn) GetListing(ctx context.Context, a common.Address) (*domain.Listing, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE address = $1`+t.lockClause(), a.Bytes())
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: listing %s: %w", a.Hex(), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get listing %s: %w", a.Hex(), err)
	}
	return l, nil
}

// PutListing inserts a listing or overwrites the mutable fields of the one
// stored at the same address.
func (t *txn) PutListing(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (address, market, seller, asset_id, ask, locked, deposit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			ask        = EXCLUDED.ask,
			locked     = EXCLUDED.locked,
			deposit    = EXCLUDED.deposit,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, query,
		l.Address.Bytes(), l.Market.Bytes(), l.Seller.Bytes(), l.AssetID.Bytes(),
		u64(l.Ask), l.Locked, u64(l.Deposit), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put listing %s: %w", l.Address.Hex(), classify(err))
	}
	return nil
}

func (t *txn) DeleteListing(ctx context.Context, a common.Address) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM listings WHERE address = $1`, a.Bytes())
	if err != nil {
		return fmt.Errorf("postgres: delete listing %s: %w", a.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: listing %s: %w", a.Hex(), domain.ErrNotFound)
	}
	return nil
}

func (t *txn) ListListings(ctx context.Context, f domain.ListingFilter, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	var args []any
	if f.Market != nil {
		args = append(args, f.Market.Bytes())
		query += fmt.Sprintf(" AND market = $%d", len(args))
	}
	if f.Seller != nil {
		args = append(args, f.Seller.Bytes())
		query += fmt.Sprintf(" AND seller = $%d", len(args))
	}
	if f.OnlyActive {
		query += " AND NOT locked"
	}
	query += " ORDER BY created_at, address"
	query, args = paginate(query, args, opts)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate listings: %w", err)
	}
	return out, nil
}

func scanListing(row pgx.Row) (*domain.Listing, error) {
	var (
		l                              domain.Listing
		address, market, seller, asset []byte
		ask, deposit                   string
	)
	if err := row.Scan(&address, &market, &seller, &asset, &ask, &l.Locked, &deposit, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if l.Ask, err = parseU64(ask); err != nil {
		return nil, err
	}
	if l.Deposit, err = parseU64(deposit); err != nil {
		return nil, err
	}
	l.Address, l.Market, l.Seller, l.AssetID = addr(address), addr(market), addr(seller), addr(asset)
	return &l, nil
}
