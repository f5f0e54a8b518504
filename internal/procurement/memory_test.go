package procurement

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
	nextID int64
	prs    map[int64]PurchaseRequisition
	pos    map[int64]PurchaseOrder
	grns   map[int64]GoodsReceipt
	stock  *stocktest.Store
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		nextID: s.nextID,
		prs:    make(map[int64]PurchaseRequisition, len(s.prs)),
		pos:    make(map[int64]PurchaseOrder, len(s.pos)),
		grns:   make(map[int64]GoodsReceipt, len(s.grns)),
		stock:  s.stock.Clone(),
	}
	for id, pr := range s.prs {
		pr.Lines = append([]PRLine(nil), pr.Lines...)
		c.prs[id] = pr
	}
	for id, po := range s.pos {
		po.Lines = append([]POLine(nil), po.Lines...)
		c.pos[id] = po
	}
	for id, g := range s.grns {
		g.Lines = append([]GRNLine(nil), g.Lines...)
		c.grns[id] = g
	}
	return c
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s memoryState) ordered(prLineIDs []int64) map[int64]decimal.Decimal {
	want := make(map[int64]bool, len(prLineIDs))
	for _, id := range prLineIDs {
		want[id] = true
	}
	out := map[int64]decimal.Decimal{}
	for _, po := range s.pos {
		for _, l := range po.Lines {
			if want[l.PRLineID] {
				out[l.PRLineID] = out[l.PRLineID].Add(l.Quantity)
			}
		}
	}
	return out
}

func (s memoryState) received(poLineIDs []int64) map[int64]decimal.Decimal {
	want := make(map[int64]bool, len(poLineIDs))
	for _, id := range poLineIDs {
		want[id] = true
	}
	out := map[int64]decimal.Decimal{}
	for _, g := range s.grns {
		for _, l := range g.Lines {
			if want[l.POLineID] {
				out[l.POLineID] = out[l.POLineID].Add(l.ReceivedQuantity)
			}
		}
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		prs:   map[int64]PurchaseRequisition{},
		pos:   map[int64]PurchaseOrder{},
		grns:  map[int64]GoodsReceipt{},
		stock: stocktest.NewStore(),
	}}
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
	if err := fn(ctx, &memoryTx{state: &working, ledger: stock.NewLedger(working.stock)}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) GetPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.state.prs[id]
	if !ok {
		return PurchaseRequisition{}, fmt.Errorf("purchase requisition %d: %w", id, shared.ErrNotFound)
	}
	return pr, nil
}

func (r *memoryRepo) ListPRs(ctx context.Context) ([]PurchaseRequisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PurchaseRequisition, 0, len(r.state.prs))
	for _, pr := range r.state.prs {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.state.pos[id]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("purchase order %d: %w", id, shared.ErrNotFound)
	}
	return po, nil
}

func (r *memoryRepo) ListPOs(ctx context.Context) ([]PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PurchaseOrder, 0, len(r.state.pos))
	for _, po := range r.state.pos {
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.state.grns[id]
	if !ok {
		return GoodsReceipt{}, fmt.Errorf("goods receipt %d: %w", id, shared.ErrNotFound)
	}
	return g, nil
}

func (r *memoryRepo) ListGRNs(ctx context.Context) ([]GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GoodsReceipt, 0, len(r.state.grns))
	for _, g := range r.state.grns {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ReceivedQuantities(ctx context.Context, poLineIDs []int64) (map[int64]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.received(poLineIDs), nil
}

type memoryTx struct {
	state  *memoryState
	ledger *stock.Ledger
}

func (t *memoryTx) Ledger() *stock.Ledger {
	return t.ledger
}

func (t *memoryTx) CreatePR(ctx context.Context, pr PurchaseRequisition) (PurchaseRequisition, error) {
	for _, existing := range t.state.prs {
		if existing.Number == pr.Number {
			return PurchaseRequisition{}, fmt.Errorf("%w: %s", shared.ErrNumberTaken, pr.Number)
		}
	}
	pr.ID = t.state.id()
	lines := make([]PRLine, len(pr.Lines))
	for i, l := range pr.Lines {
		l.ID = t.state.id()
		l.PRID = pr.ID
		lines[i] = l
	}
	pr.Lines = lines
	t.state.prs[pr.ID] = pr
	return pr, nil
}

func (t *memoryTx) GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequisition, error) {
	pr, ok := t.state.prs[id]
	if !ok {
		return PurchaseRequisition{}, fmt.Errorf("purchase requisition %d: %w", id, shared.ErrNotFound)
	}
	return pr, nil
}

func (t *memoryTx) OrderedQuantities(ctx context.Context, prLineIDs []int64) (map[int64]decimal.Decimal, error) {
	return t.state.ordered(prLineIDs), nil
}

func (t *memoryTx) CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	for _, existing := range t.state.pos {
		if existing.Number == po.Number {
			return PurchaseOrder{}, fmt.Errorf("%w: %s", shared.ErrNumberTaken, po.Number)
		}
	}
	po.ID = t.state.id()
	lines := make([]POLine, len(po.Lines))
	for i, l := range po.Lines {
		l.ID = t.state.id()
		l.POID = po.ID
		lines[i] = l
	}
	po.Lines = lines
	t.state.pos[po.ID] = po
	return po, nil
}

func (t *memoryTx) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := t.state.pos[id]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("purchase order %d: %w", id, shared.ErrNotFound)
	}
	return po, nil
}

func (t *memoryTx) ReceivedQuantities(ctx context.Context, poLineIDs []int64) (map[int64]decimal.Decimal, error) {
	return t.state.received(poLineIDs), nil
}

func (t *memoryTx) CreateGRN(ctx context.Context, g GoodsReceipt) (GoodsReceipt, error) {
	for _, existing := range t.state.grns {
		if existing.Number == g.Number {
			return GoodsReceipt{}, fmt.Errorf("%w: %s", shared.ErrNumberTaken, g.Number)
		}
	}
	g.ID = t.state.id()
	lines := make([]GRNLine, len(g.Lines))
	for i, l := range g.Lines {
		l.ID = t.state.id()
		l.GRNID = g.ID
		lines[i] = l
	}
	g.Lines = lines
	t.state.grns[g.ID] = g
	return g, nil
}

func (t *memoryTx) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	po, ok := t.state.pos[id]
	if !ok {
		return shared.ErrNotFound
	}
	po.Status = status
	t.state.pos[id] = po
	return nil
}

type requisitionStub map[int64]requisition.Requisition

func (s requisitionStub) Get(ctx context.Context, id int64) (requisition.Requisition, error) {
	req, ok := s[id]
	if !ok {
		return requisition.Requisition{}, fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	return req, nil
}
