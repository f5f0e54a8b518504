package requisition

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
	"github.com/plantops/plantstore/internal/stock/stocktest"
)

type memoryState struct {
	nextID int64
	reqs   map[int64]Requisition
	stock  *stocktest.Store
}

func (s memoryState) clone() memoryState {
	c := memoryState{nextID: s.nextID, reqs: make(map[int64]Requisition, len(s.reqs)), stock: s.stock.Clone()}
	for id, req := range s.reqs {
		req.Lines = append([]Line(nil), req.Lines...)
		c.reqs[id] = req
	}
	return c
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{reqs: map[int64]Requisition{}, stock: stocktest.NewStore()}}
}

func (r *memoryRepo) stock() *stocktest.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.stock
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	tx := &memoryTx{state: &working, ledger: stock.NewLedger(working.stock)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Requisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.state.reqs[id]
	if !ok {
		return Requisition{}, fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	return req, nil
}

func (r *memoryRepo) List(ctx context.Context) ([]Requisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Requisition, 0, len(r.state.reqs))
	for _, req := range r.state.reqs {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryTx struct {
	state  *memoryState
	ledger *stock.Ledger
}

func (t *memoryTx) Ledger() *stock.Ledger {
	return t.ledger
}

func (t *memoryTx) Create(ctx context.Context, req Requisition) (Requisition, error) {
	for _, existing := range t.state.reqs {
		if existing.Number == req.Number {
			return Requisition{}, fmt.Errorf("%w: %s", shared.ErrNumberTaken, req.Number)
		}
	}
	t.state.nextID++
	req.ID = t.state.nextID
	lines := make([]Line, len(req.Lines))
	for i, l := range req.Lines {
		t.state.nextID++
		l.ID = t.state.nextID
		l.RequisitionID = req.ID
		lines[i] = l
	}
	req.Lines = lines
	t.state.reqs[req.ID] = req
	return req, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Requisition, error) {
	req, ok := t.state.reqs[id]
	if !ok {
		return Requisition{}, fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	req.Lines = append([]Line(nil), req.Lines...)
	return req, nil
}

func (t *memoryTx) UpdateDecision(ctx context.Context, req Requisition) error {
	existing, ok := t.state.reqs[req.ID]
	if !ok {
		return shared.ErrNotFound
	}
	req.Lines = existing.Lines
	t.state.reqs[req.ID] = req
	return nil
}
