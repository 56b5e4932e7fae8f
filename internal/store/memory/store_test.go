package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func TestUpdateCommits(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.Update(ctx, func(tx domain.Tx) error {
		if err := tx.PutWallet(ctx, domain.Wallet{Address: alice, Lamports: 100}); err != nil {
			return err
		}
		return tx.AppendJournal(ctx, domain.EventAirdrop, map[string]any{"to": alice.Hex()})
	})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(tx domain.Tx) error {
		w, err := tx.GetWallet(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), w.Lamports)
		return nil
	}))

	entries, err := s.Journal(ctx, domain.JournalQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, domain.EventAirdrop, entries[0].Event)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.PutWallet(ctx, domain.Wallet{Address: alice, Lamports: 5}))
		require.NoError(t, tx.PutListing(ctx, domain.Listing{Address: bob}))
		require.NoError(t, tx.AppendJournal(ctx, "x", nil))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx domain.Tx) error {
		w, err := tx.GetWallet(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, w.Lamports)
		_, err = tx.GetListing(ctx, bob)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))

	entries, err := s.Journal(ctx, domain.JournalQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTxSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Update(ctx, func(tx domain.Tx) error {
		return tx.PutListing(ctx, domain.Listing{Address: alice, Ask: 1})
	}))

	require.NoError(t, s.Update(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.DeleteListing(ctx, alice))
		_, err := tx.GetListing(ctx, alice)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, tx.PutListing(ctx, domain.Listing{Address: alice, Ask: 2}))
		l, err := tx.GetListing(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), l.Ask)
		return nil
	}))
}

func TestViewRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.View(ctx, func(tx domain.Tx) error {
		return tx.PutWallet(ctx, domain.Wallet{Address: alice})
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestInsertMarketDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	m := domain.Market{Address: alice, Authority: bob, FeeRate: 50, FeeScalar: 1000}
	require.NoError(t, s.Update(ctx, func(tx domain.Tx) error { return tx.InsertMarket(ctx, m) }))
	err := s.Update(ctx, func(tx domain.Tx) error { return tx.InsertMarket(ctx, m) })
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestListListingsFilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	market := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")

	require.NoError(t, s.Update(ctx, func(tx domain.Tx) error {
		for i := 0; i < 5; i++ {
			l := domain.Listing{
				Address:   common.BigToAddress(big.NewInt(int64(i + 10))),
				Market:    market,
				Seller:    alice,
				Locked:    i == 4,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.PutListing(ctx, l); err != nil {
				return err
			}
		}
		return tx.PutListing(ctx, domain.Listing{Address: bob, Market: other, CreatedAt: base})
	}))

	require.NoError(t, s.View(ctx, func(tx domain.Tx) error {
		all, err := tx.ListListings(ctx, domain.ListingFilter{Market: &market}, domain.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, all, 5)

		active, err := tx.ListListings(ctx, domain.ListingFilter{Market: &market, OnlyActive: true}, domain.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, active, 4)

		page, err := tx.ListListings(ctx, domain.ListingFilter{Market: &market}, domain.ListOpts{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, base.Add(time.Minute), page[0].CreatedAt)
		assert.Equal(t, base.Add(2*time.Minute), page[1].CreatedAt)

		none, err := tx.ListListings(ctx, domain.ListingFilter{}, domain.ListOpts{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	}))
}

func TestJournalQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Update(ctx, func(tx domain.Tx) error {
			return tx.AppendJournal(ctx, domain.EventMint, nil)
		}))
	}

	after, err := s.Journal(ctx, domain.JournalQuery{AfterID: 1})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, int64(2), after[0].ID)

	limited, err := s.Journal(ctx, domain.JournalQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	old, err := s.Journal(ctx, domain.JournalQuery{Before: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	called := false
	err := s.Update(ctx, func(domain.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
