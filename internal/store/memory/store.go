// Package memory implements domain.Store in process memory. Writers are
// serialized; a transaction stages its writes in an overlay and publishes
// them only when its function returns without error.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type state struct {
	markets  map[common.Address]domain.Market
	listings map[common.Address]domain.Listing
	wallets  map[common.Address]domain.Wallet
	accounts map[common.Address]domain.TokenAccount
	journal  []domain.JournalEntry
}

// Store is an in-memory domain.Store.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: &state{
		markets:  make(map[common.Address]domain.Market),
		listings: make(map[common.Address]domain.Listing),
		wallets:  make(map[common.Address]domain.Wallet),
		accounts: make(map[common.Address]domain.TokenAccount),
		journal:  make([]domain.JournalEntry, 0, 256),
	}}
}

// Update runs fn against a staged view of the store and commits the staged
// writes when fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTx(s.st, false)
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit(s.st)
	return nil
}

// View runs fn against the committed state.
func (s *Store) View(ctx context.Context, fn func(domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTx(s.st, true))
}

// Journal returns committed journal entries matching q.
func (s *Store) Journal(ctx context.Context, q domain.JournalQuery) ([]domain.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.JournalEntry
	for _, e := range s.st.journal {
		if e.ID <= q.AfterID {
			continue
		}
		if !q.Before.IsZero() && !e.CreatedAt.Before(q.Before) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() {}

// overlay stages writes over a committed map. A nil staged value marks a
// deletion.
type overlay[T any] struct {
	base  map[common.Address]T
	dirty map[common.Address]*T
}

func newOverlay[T any](base map[common.Address]T) overlay[T] {
	return overlay[T]{base: base, dirty: make(map[common.Address]*T)}
}

func (o overlay[T]) get(k common.Address) (T, bool) {
	if v, ok := o.dirty[k]; ok {
		if v == nil {
			var zero T
			return zero, false
		}
		return *v, true
	}
	v, ok := o.base[k]
	return v, ok
}

func (o overlay[T]) put(k common.Address, v T) { o.dirty[k] = &v }
func (o overlay[T]) del(k common.Address)      { o.dirty[k] = nil }

func (o overlay[T]) values() []T {
	out := make([]T, 0, len(o.base)+len(o.dirty))
	for k, v := range o.base {
		if _, staged := o.dirty[k]; staged {
			continue
		}
		out = append(out, v)
	}
	for _, v := range o.dirty {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func (o overlay[T]) commit() {
	for k, v := range o.dirty {
		if v == nil {
			delete(o.base, k)
			continue
		}
		o.base[k] = *v
	}
}

type tx struct {
	readOnly bool
	markets  overlay[domain.Market]
	listings overlay[domain.Listing]
	wallets  overlay[domain.Wallet]
	accounts overlay[domain.TokenAccount]
	nextID   int64
	journal  []domain.JournalEntry
}

func newTx(st *state, readOnly bool) *tx {
	return &tx{
		readOnly: readOnly,
		markets:  newOverlay(st.markets),
		listings: newOverlay(st.listings),
		wallets:  newOverlay(st.wallets),
		accounts: newOverlay(st.accounts),
		nextID:   int64(len(st.journal)) + 1,
	}
}

func (t *tx) commit(st *state) {
	t.markets.commit()
	t.listings.commit()
	t.wallets.commit()
	t.accounts.commit()
	st.journal = append(st.journal, t.journal...)
}

func (t *tx) GetMarket(_ context.Context, addr common.Address) (*domain.Market, error) {
	m, ok := t.markets.get(addr)
	if !ok {
		return nil, fmt.Errorf("memory: market %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return &m, nil
}

func (t *tx) InsertMarket(_ context.Context, m domain.Market) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, ok := t.markets.get(m.Address); ok {
		return fmt.Errorf("memory: market %s: %w", m.Address.Hex(), domain.ErrAlreadyExists)
	}
	t.markets.put(m.Address, m)
	return nil
}

func (t *tx) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	all := t.markets.values()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].Address.Cmp(all[j].Address) < 0
	})
	return paginate(all, opts), nil
}

func (t *tx) GetListing(_ context.Context, addr common.Address) (*domain.Listing, error) {
	l, ok := t.listings.get(addr)
	if !ok {
		return nil, fmt.Errorf("memory: listing %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return &l, nil
}

func (t *tx) PutListing(_ context.Context, l domain.Listing) error {
	if t.readOnly {
		return errReadOnly
	}
	t.listings.put(l.Address, l)
	return nil
}

func (t *tx) DeleteListing(_ context.Context, addr common.Address) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, ok := t.listings.get(addr); !ok {
		return fmt.Errorf("memory: listing %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	t.listings.del(addr)
	return nil
}

func (t *tx) ListListings(_ context.Context, f domain.ListingFilter, opts domain.ListOpts) ([]domain.Listing, error) {
	var out []domain.Listing
	for _, l := range t.listings.values() {
		if f.Market != nil && l.Market != *f.Market {
			continue
		}
		if f.Seller != nil && l.Seller != *f.Seller {
			continue
		}
		if f.OnlyActive && l.Locked {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return paginate(out, opts), nil
}

func (t *tx) GetWallet(_ context.Context, addr common.Address) (*domain.Wallet, error) {
	w, ok := t.wallets.get(addr)
	if !ok {
		w = domain.Wallet{Address: addr}
	}
	return &w, nil
}

func (t *tx) PutWallet(_ context.Context, w domain.Wallet) error {
	if t.readOnly {
		return errReadOnly
	}
	t.wallets.put(w.Address, w)
	return nil
}

func (t *tx) GetTokenAccount(_ context.Context, addr common.Address) (*domain.TokenAccount, error) {
	a, ok := t.accounts.get(addr)
	if !ok {
		return nil, fmt.Errorf("memory: token account %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return &a, nil
}

func (t *tx) PutTokenAccount(_ context.Context, a domain.TokenAccount) error {
	if t.readOnly {
		return errReadOnly
	}
	t.accounts.put(a.Address, a)
	return nil
}

func (t *tx) ListTokenAccounts(_ context.Context, authority common.Address) ([]domain.TokenAccount, error) {
	var out []domain.TokenAccount
	for _, a := range t.accounts.values() {
		if a.Authority == authority {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out, nil
}

func (t *tx) AppendJournal(_ context.Context, event string, detail map[string]any) error {
	if t.readOnly {
		return errReadOnly
	}
	t.journal = append(t.journal, domain.JournalEntry{
		ID:        t.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	t.nextID++
	return nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface checks.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*tx)(nil)
)
