// Package stocktest provides an in-memory stock.Store for service tests.
package stocktest

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/stock"
)

// Store keeps entries and movements in memory. It does not lock rows; callers
// serialise whole transactions and swap in a Clone on commit.
type Store struct {
	mu        sync.Mutex
	entries   map[int64]stock.Entry
	movements []stock.Movement
	nextID    int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: map[int64]stock.Entry{}}
}

// GetEntryForUpdate returns the entry or a zero entry.
func (s *Store) GetEntryForUpdate(ctx context.Context, itemID int64) (stock.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[itemID]
	if !ok {
		return stock.Entry{ItemID: itemID, OnHand: decimal.Zero, Reserved: decimal.Zero}, nil
	}
	return e, nil
}

// SaveEntry upserts the entry.
func (s *Store) SaveEntry(ctx context.Context, entry stock.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ItemID] = entry
	return nil
}

// InsertMovement appends a movement with the next id.
func (s *Store) InsertMovement(ctx context.Context, movement stock.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	movement.ID = s.nextID
	s.movements = append(s.movements, movement)
	return nil
}

// Clone deep-copies the store.
func (s *Store) Clone() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Store{entries: make(map[int64]stock.Entry, len(s.entries)), nextID: s.nextID}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	c.movements = append([]stock.Movement(nil), s.movements...)
	return c
}

// Seed sets an item position directly.
func (s *Store) Seed(itemID int64, onHand, reserved decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[itemID] = stock.Entry{ItemID: itemID, OnHand: onHand, Reserved: reserved}
}

// Entry returns the item position, zero when unknown.
func (s *Store) Entry(itemID int64) stock.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[itemID]
	if !ok {
		return stock.Entry{ItemID: itemID, OnHand: decimal.Zero, Reserved: decimal.Zero}
	}
	return e
}

// Entries returns all positions ordered by item.
func (s *Store) Entries() []stock.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stock.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Movements returns the movements of an item in insertion order.
func (s *Store) Movements(itemID int64) []stock.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stock.Movement
	for _, m := range s.movements {
		if m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out
}

// Repo is an in-memory stock.RepositoryPort over a Store.
type Repo struct {
	mu    sync.Mutex
	store *Store
}

// NewRepo wraps store; nil creates an empty one.
func NewRepo(store *Store) *Repo {
	if store == nil {
		store = NewStore()
	}
	return &Repo{store: store}
}

// Store returns the committed state.
func (r *Repo) Store() *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store
}

type txRepo struct {
	ledger *stock.Ledger
}

func (t *txRepo) Ledger() *stock.Ledger {
	return t.ledger
}

// WithTx applies fn to a copy and commits it only when fn succeeds.
func (r *Repo) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.store.Clone()
	if err := fn(ctx, &txRepo{ledger: stock.NewLedger(working)}); err != nil {
		return err
	}
	r.store = working
	return nil
}

// GetEntry returns the committed position.
func (r *Repo) GetEntry(ctx context.Context, itemID int64) (stock.Entry, error) {
	return r.Store().Entry(itemID), nil
}

// ListEntries returns all committed positions.
func (r *Repo) ListEntries(ctx context.Context) ([]stock.Entry, error) {
	return r.Store().Entries(), nil
}

// EntriesFor returns committed positions for known items.
func (r *Repo) EntriesFor(ctx context.Context, itemIDs []int64) (map[int64]stock.Entry, error) {
	store := r.Store()
	store.mu.Lock()
	defer store.mu.Unlock()
	out := make(map[int64]stock.Entry, len(itemIDs))
	for _, id := range itemIDs {
		if e, ok := store.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// ListMovements returns the newest movements first.
func (r *Repo) ListMovements(ctx context.Context, itemID int64, limit int) ([]stock.Movement, error) {
	all := r.Store().Movements(itemID)
	out := make([]stock.Movement, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
