package issuance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/requisition"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
	"github.com/plantops/plantstore/internal/stock/stocktest"
)

type memoryState struct {
	nextID  int64
	reqs    map[int64]requisition.Requisition
	issues  map[int64]StoreIssue
	returns map[int64]StoreReturn
	stock   *stocktest.Store
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		nextID:  s.nextID,
		reqs:    s.reqs,
		issues:  make(map[int64]StoreIssue, len(s.issues)),
		returns: make(map[int64]StoreReturn, len(s.returns)),
		stock:   s.stock.Clone(),
	}
	for id, is := range s.issues {
		is.Lines = append([]IssueLine(nil), is.Lines...)
		c.issues[id] = is
	}
	for id, ret := range s.returns {
		ret.Lines = append([]ReturnLine(nil), ret.Lines...)
		c.returns[id] = ret
	}
	return c
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s memoryState) issued(lineIDs []int64) map[int64]decimal.Decimal {
	want := make(map[int64]bool, len(lineIDs))
	for _, id := range lineIDs {
		want[id] = true
	}
	out := map[int64]decimal.Decimal{}
	for _, is := range s.issues {
		for _, l := range is.Lines {
			if want[l.RequisitionLineID] {
				out[l.RequisitionLineID] = out[l.RequisitionLineID].Add(l.IssuedQuantity)
			}
		}
	}
	return out
}

// memoryRepo also serves requisitions, which tests seed directly.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		nextID:  1000,
		reqs:    map[int64]requisition.Requisition{},
		issues:  map[int64]StoreIssue{},
		returns: map[int64]StoreReturn{},
		stock:   stocktest.NewStore(),
	}}
}

func (r *memoryRepo) stock() *stocktest.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.stock
}

func (r *memoryRepo) addRequisition(req requisition.Requisition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.reqs[req.ID] = req
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (requisition.Requisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.state.reqs[id]
	if !ok {
		return requisition.Requisition{}, fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	return req, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &working, ledger: stock.NewLedger(working.stock)}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) GetIssue(ctx context.Context, id int64) (StoreIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	is, ok := r.state.issues[id]
	if !ok {
		return StoreIssue{}, fmt.Errorf("store issue %d: %w", id, shared.ErrNotFound)
	}
	return is, nil
}

func (r *memoryRepo) ListIssues(ctx context.Context) ([]StoreIssue, error) {
	return r.ListIssuesByRequisition(ctx, 0)
}

func (r *memoryRepo) ListIssuesByRequisition(ctx context.Context, requisitionID int64) ([]StoreIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []StoreIssue{}
	for _, is := range r.state.issues {
		if requisitionID == 0 || is.RequisitionID == requisitionID {
			out = append(out, is)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) IssuedQuantities(ctx context.Context, lineIDs []int64) (map[int64]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.issued(lineIDs), nil
}

func (r *memoryRepo) GetReturn(ctx context.Context, id int64) (StoreReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret, ok := r.state.returns[id]
	if !ok {
		return StoreReturn{}, fmt.Errorf("store return %d: %w", id, shared.ErrNotFound)
	}
	return ret, nil
}

func (r *memoryRepo) ListReturns(ctx context.Context) ([]StoreReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StoreReturn, 0, len(r.state.returns))
	for _, ret := range r.state.returns {
		out = append(out, ret)
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

func (t *memoryTx) GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error) {
	req, ok := t.state.reqs[id]
	if !ok {
		return requisition.Requisition{}, fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	return req, nil
}

func (t *memoryTx) IssuedQuantities(ctx context.Context, lineIDs []int64) (map[int64]decimal.Decimal, error) {
	return t.state.issued(lineIDs), nil
}

func (t *memoryTx) CreateIssue(ctx context.Context, is StoreIssue) (StoreIssue, error) {
	for _, existing := range t.state.issues {
		if existing.Number == is.Number {
			return StoreIssue{}, fmt.Errorf("%w: %s", shared.ErrNumberTaken, is.Number)
		}
	}
	is.ID = t.state.id()
	lines := make([]IssueLine, len(is.Lines))
	for i, l := range is.Lines {
		l.ID = t.state.id()
		l.IssueID = is.ID
		lines[i] = l
	}
	is.Lines = lines
	t.state.issues[is.ID] = is
	return is, nil
}

func (t *memoryTx) CreateReturn(ctx context.Context, ret StoreReturn) (StoreReturn, error) {
	for _, existing := range t.state.returns {
		if existing.Number == ret.Number {
			return StoreReturn{}, fmt.Errorf("%w: %s", shared.ErrNumberTaken, ret.Number)
		}
	}
	ret.ID = t.state.id()
	lines := make([]ReturnLine, len(ret.Lines))
	for i, l := range ret.Lines {
		l.ID = t.state.id()
		l.ReturnID = ret.ID
		lines[i] = l
	}
	ret.Lines = lines
	t.state.returns[ret.ID] = ret
	return ret, nil
}
