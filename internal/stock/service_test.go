package stock_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
	"github.com/plantops/plantstore/internal/stock/stocktest"
)

type fakeItems map[int64]masterdata.Item

func (f fakeItems) LookupItem(ctx context.Context, id int64) (masterdata.Item, error) {
	item, ok := f[id]
	if !ok {
		return masterdata.Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return item, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]int64
}

func (n *recordingNotifier) StockChanged(ctx context.Context, itemIDs []int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, append([]int64(nil), itemIDs...))
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type ServiceSuite struct {
	suite.Suite
	repo     *stocktest.Repo
	notifier *recordingNotifier
	audit    *recordingAudit
	svc      *stock.Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = stocktest.NewRepo(nil)
	s.notifier = &recordingNotifier{}
	s.audit = &recordingAudit{}
	items := fakeItems{
		1: {ID: 1, Code: "BRG", Active: true},
		2: {ID: 2, Code: "OIL", Active: true},
		3: {ID: 3, Code: "OLD", Active: false},
	}
	s.svc = stock.NewService(s.repo, items, s.audit, s.notifier, nil)
}

func (s *ServiceSuite) TestAddStock() {
	ctx := context.Background()
	snap, err := s.svc.AddStock(ctx, stock.AddStockInput{ItemID: 1, Quantity: decimal.NewFromInt(12), Actor: "storekeeper"})
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(12).Equal(snap.OnHand))
	s.Equal([][]int64{{1}}, s.notifier.calls)
	s.Require().Len(s.audit.logs, 1)
	s.Equal("stock:add", s.audit.logs[0].Action)
	s.Equal("storekeeper", s.audit.logs[0].Actor)
}

func (s *ServiceSuite) TestAddStockValidation() {
	ctx := context.Background()
	_, err := s.svc.AddStock(ctx, stock.AddStockInput{ItemID: 1, Quantity: decimal.Zero, Actor: "storekeeper"})
	s.ErrorIs(err, shared.ErrValidation)
	_, err = s.svc.AddStock(ctx, stock.AddStockInput{ItemID: 1, Quantity: decimal.NewFromInt(1)})
	s.ErrorIs(err, shared.ErrValidation)
	_, err = s.svc.AddStock(ctx, stock.AddStockInput{ItemID: 99, Quantity: decimal.NewFromInt(1), Actor: "storekeeper"})
	s.ErrorIs(err, shared.ErrValidation)
	_, err = s.svc.AddStock(ctx, stock.AddStockInput{ItemID: 3, Quantity: decimal.NewFromInt(1), Actor: "storekeeper"})
	s.ErrorIs(err, shared.ErrValidation)
	for _, q := range []string{"0.00004", "1.00005", "100000000000000"} {
		_, err = s.svc.AddStock(ctx, stock.AddStockInput{ItemID: 1, Quantity: decimal.RequireFromString(q), Actor: "storekeeper"})
		s.ErrorIs(err, shared.ErrValidation, q)
	}
	s.Empty(s.repo.Store().Movements(1))
	s.Empty(s.notifier.calls)
}

func (s *ServiceSuite) TestAdjust() {
	ctx := context.Background()
	s.repo.Store().Seed(2, decimal.NewFromInt(10), decimal.NewFromInt(6))

	_, err := s.svc.Adjust(ctx, stock.AdjustInput{ItemID: 2, Delta: decimal.Zero, Actor: "auditor"})
	s.ErrorIs(err, shared.ErrValidation)

	_, err = s.svc.Adjust(ctx, stock.AdjustInput{ItemID: 2, Delta: decimal.NewFromInt(-5), Actor: "auditor"})
	s.ErrorIs(err, shared.ErrInsufficientStock)

	_, err = s.svc.Adjust(ctx, stock.AdjustInput{ItemID: 2, Delta: decimal.NewFromInt(-11), Actor: "auditor"})
	s.ErrorIs(err, shared.ErrNegativeStock)

	snap, err := s.svc.Adjust(ctx, stock.AdjustInput{ItemID: 2, Delta: decimal.NewFromInt(-4), Actor: "auditor", Note: "cycle count"})
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(6).Equal(snap.OnHand))
	s.True(snap.Available.IsZero())
}

func (s *ServiceSuite) TestReads() {
	ctx := context.Background()
	s.repo.Store().Seed(2, decimal.NewFromInt(8), decimal.NewFromInt(3))
	s.repo.Store().Seed(1, decimal.NewFromInt(4), decimal.Zero)

	snap, err := s.svc.Get(ctx, 77)
	s.Require().NoError(err)
	s.Equal(int64(77), snap.ItemID)
	s.True(snap.OnHand.IsZero())

	list, err := s.svc.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(int64(1), list[0].ItemID)

	avail, err := s.svc.CheckAvailability(ctx, []int64{2, 50, 1})
	s.Require().NoError(err)
	s.Require().Len(avail, 3)
	s.Equal([]int64{2, 50, 1}, []int64{avail[0].ItemID, avail[1].ItemID, avail[2].ItemID})
	s.True(decimal.NewFromInt(5).Equal(avail[0].Available))
	s.True(avail[1].Available.IsZero())
}

func (s *ServiceSuite) TestMovementsNewestFirst() {
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_, err := s.svc.AddStock(ctx, stock.AddStockInput{ItemID: 1, Quantity: decimal.NewFromInt(i), Actor: "storekeeper"})
		s.Require().NoError(err)
	}
	rows, err := s.svc.Movements(ctx, 1, 2)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.True(decimal.NewFromInt(3).Equal(rows[0].Quantity))
	s.Greater(rows[0].ID, rows[1].ID)

	rows, err = s.svc.Movements(ctx, 1, 0)
	s.Require().NoError(err)
	s.Len(rows, 3)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
