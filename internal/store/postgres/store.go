package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Store implements domain.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Update runs fn in a SERIALIZABLE read-write transaction. A serialization
// failure or deadlock is reported as domain.ErrConflict and is not retried.
func (s *Store) Update(ctx context.Context, fn func(domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}, true, fn)
}

// View runs fn in a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, forUpdate bool, fn func(domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&txn{tx: tx, forUpdate: forUpdate}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", classify(err))
	}
	committed = true
	return nil
}

// Close is a no-op; the pool is owned by Client.
func (s *Store) Close() {}

// txn implements domain.Tx over a pgx transaction.
type txn struct {
	tx        pgx.Tx
	forUpdate bool
}

// lockClause appends FOR UPDATE to single-row reads in read-write
// transactions.
func (t *txn) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// classify maps concurrency and constraint failures to domain errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.Message)
	default:
		return err
	}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse u64 %q: %w", s, err)
	}
	return v, nil
}

func addr(b []byte) common.Address { return common.BytesToAddress(b) }

// Compile-time interface checks.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*txn)(nil)
)
