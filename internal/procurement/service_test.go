package procurement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/plantops/plantstore/internal/masterdata/masterdatatest"
	"github.com/plantops/plantstore/internal/requisition"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/shared/sharedtest"
)

const (
	deptStores  int64 = 1
	vendorAcme  int64 = 5
	itemValve   int64 = 20
	itemGasket  int64 = 21
	approvedReq int64 = 100
	pendingReq  int64 = 101
)

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type ServiceSuite struct {
	suite.Suite
	repo     *memoryRepo
	idem     *sharedtest.Idempotency
	audit    *sharedtest.Audit
	notifier *sharedtest.Notifier
	svc      *Service
	ctx      context.Context
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = newMemoryRepo()
	s.idem = &sharedtest.Idempotency{}
	s.audit = &sharedtest.Audit{}
	s.notifier = &sharedtest.Notifier{}
	lookup := masterdatatest.New().
		AddDepartment(deptStores, "STR").
		AddDepartment(2, "MNT").
		AddVendor(vendorAcme, "ACME").
		AddItem(itemValve, "VLV-50").
		AddItem(itemGasket, "GSK-50")
	reqs := requisitionStub{
		approvedReq: {ID: approvedReq, Number: "REQ-1", DepartmentID: 2, Status: requisition.StatusApproved, Lines: []requisition.Line{
			{ID: 1, ItemID: itemValve, Quantity: qty(8), Purpose: "boiler feed"},
			{ID: 2, ItemID: itemGasket, Quantity: qty(16)},
		}},
		pendingReq: {ID: pendingReq, Number: "REQ-2", DepartmentID: 2, Status: requisition.StatusPendingPlantHead},
	}
	s.svc = NewService(s.repo, reqs, lookup, s.audit, s.idem, s.notifier, nil)
}

func (s *ServiceSuite) createPR(lines ...PRLineInput) PurchaseRequisition {
	pr, err := s.svc.CreatePR(s.ctx, CreatePRInput{DepartmentID: deptStores, RequestedBy: "buyer", Lines: lines})
	s.Require().NoError(err)
	return pr
}

func (s *ServiceSuite) createPO(pr PurchaseRequisition, lines ...POLineInput) PurchaseOrder {
	po, err := s.svc.CreatePO(s.ctx, CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "buyer", Lines: lines})
	s.Require().NoError(err)
	return po
}

func (s *ServiceSuite) TestCreatePRFromRequisitionCopiesLines() {
	pr, err := s.svc.CreatePR(s.ctx, CreatePRInput{RequisitionID: approvedReq, RequestedBy: "buyer"})
	s.Require().NoError(err)
	s.Equal(PRStatusDraft, pr.Status)
	s.Require().NotNil(pr.RequisitionID)
	s.Equal(approvedReq, *pr.RequisitionID)
	s.Equal(int64(2), pr.DepartmentID)
	s.Require().Len(pr.Lines, 2)
	s.Equal(itemValve, pr.Lines[0].ItemID)
	s.True(qty(8).Equal(pr.Lines[0].Quantity))
	s.Equal("boiler feed", pr.Lines[0].Purpose)
	s.Contains(s.audit.Actions(), "pr:create")
}

func (s *ServiceSuite) TestCreatePRRejections() {
	_, err := s.svc.CreatePR(s.ctx, CreatePRInput{RequisitionID: pendingReq, RequestedBy: "buyer"})
	s.ErrorIs(err, shared.ErrInvalidTransition)

	_, err = s.svc.CreatePR(s.ctx, CreatePRInput{RequisitionID: 404, RequestedBy: "buyer"})
	s.ErrorIs(err, shared.ErrNotFound)

	_, err = s.svc.CreatePR(s.ctx, CreatePRInput{RequestedBy: "buyer", Lines: []PRLineInput{{ItemID: itemValve, Quantity: qty(1)}}})
	s.ErrorIs(err, shared.ErrValidation)

	_, err = s.svc.CreatePR(s.ctx, CreatePRInput{DepartmentID: deptStores, RequestedBy: "buyer"})
	s.ErrorIs(err, shared.ErrValidation)

	_, err = s.svc.CreatePR(s.ctx, CreatePRInput{DepartmentID: deptStores, RequestedBy: "buyer", Lines: []PRLineInput{{ItemID: 999, Quantity: qty(1)}}})
	s.ErrorIs(err, shared.ErrValidation)

	prs, err := s.svc.ListPRs(s.ctx)
	s.Require().NoError(err)
	s.Empty(prs)
}

func (s *ServiceSuite) TestCreatePOTotalsAndDefaults() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(10)}, PRLineInput{ItemID: itemGasket, Quantity: qty(4)})
	po := s.createPO(pr,
		POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(4), UnitPrice: decimal.RequireFromString("12.50")},
		POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(6), UnitPrice: decimal.RequireFromString("12.00")},
		POLineInput{PRLineID: pr.Lines[1].ID, ItemID: itemGasket, Quantity: qty(4), UnitPrice: decimal.Zero},
	)
	s.Equal(POStatusOpen, po.Status)
	s.Equal(deptStores, po.DepartmentID)
	s.False(po.OrderDate.IsZero())
	s.True(decimal.RequireFromString("50").Equal(po.Lines[0].TotalAmount))
	s.True(decimal.RequireFromString("122").Equal(po.TotalAmount))
}

func (s *ServiceSuite) TestOverOrderCommitsNothing() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(5)})

	_, err := s.svc.CreatePO(s.ctx, CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "buyer", Lines: []POLineInput{
		{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(6), UnitPrice: qty(1)},
	}})
	s.Require().ErrorIs(err, shared.ErrOverOrder)
	var le *shared.LineError
	s.Require().True(errors.As(err, &le))
	s.Equal(1, le.Line)
	s.Equal(pr.Lines[0].ID, le.LineID)

	pos, err := s.svc.ListPOs(s.ctx)
	s.Require().NoError(err)
	s.Empty(pos)
}

func (s *ServiceSuite) TestOverOrderIsCumulative() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(5)})
	s.createPO(pr, POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(3), UnitPrice: qty(1)})

	_, err := s.svc.CreatePO(s.ctx, CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "buyer", Lines: []POLineInput{
		{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(1), UnitPrice: qty(1)},
		{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(2), UnitPrice: qty(1)},
	}})
	s.Require().ErrorIs(err, shared.ErrOverOrder)
	var le *shared.LineError
	s.Require().True(errors.As(err, &le))
	s.Equal(2, le.Line)

	pos, err := s.svc.ListPOs(s.ctx)
	s.Require().NoError(err)
	s.Len(pos, 1)
}

func (s *ServiceSuite) TestCreatePOLineChecks() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(5)})
	other := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(5)})

	cases := []struct {
		name  string
		input CreatePOInput
		want  error
	}{
		{"foreign pr line", CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "b", Lines: []POLineInput{
			{PRLineID: other.Lines[0].ID, ItemID: itemValve, Quantity: qty(1)},
		}}, shared.ErrNotFound},
		{"mismatched item", CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "b", Lines: []POLineInput{
			{PRLineID: pr.Lines[0].ID, ItemID: itemGasket, Quantity: qty(1)},
		}}, shared.ErrMismatchedItem},
		{"unknown pr", CreatePOInput{PRID: 999, VendorID: vendorAcme, CreatedBy: "b", Lines: []POLineInput{
			{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(1)},
		}}, shared.ErrNotFound},
		{"unknown vendor", CreatePOInput{PRID: pr.ID, VendorID: 77, CreatedBy: "b", Lines: []POLineInput{
			{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(1)},
		}}, shared.ErrValidation},
		{"negative price", CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "b", Lines: []POLineInput{
			{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(1), UnitPrice: qty(-1)},
		}}, shared.ErrValidation},
		{"no lines", CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "b"}, shared.ErrValidation},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.CreatePO(s.ctx, tc.input)
			s.ErrorIs(err, tc.want)
		})
	}
}

func (s *ServiceSuite) TestPartialReceiptThenOverReceipt() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(10)})
	po := s.createPO(pr, POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(10), UnitPrice: qty(3)})
	poLine := po.Lines[0].ID

	grn, err := s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: poLine, ItemID: itemValve, ReceivedQuantity: qty(4)},
	}})
	s.Require().NoError(err)
	s.Equal(GRNStatusReceived, grn.Status)
	s.Equal(vendorAcme, grn.VendorID)
	s.True(qty(10).Equal(grn.Lines[0].OrderedQuantity))
	s.True(qty(4).Equal(s.repo.stock().Entry(itemValve).OnHand))

	stored, err := s.svc.GetPO(s.ctx, po.ID)
	s.Require().NoError(err)
	s.Equal(POStatusOpen, stored.Status)

	_, err = s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: poLine, ItemID: itemValve, ReceivedQuantity: qty(7)},
	}})
	s.Require().ErrorIs(err, shared.ErrOverReceipt)
	s.True(qty(4).Equal(s.repo.stock().Entry(itemValve).OnHand))

	progress, err := s.svc.POProgress(s.ctx, po.ID)
	s.Require().NoError(err)
	s.Require().Len(progress.Lines, 1)
	s.True(qty(4).Equal(progress.Lines[0].Received))
	s.True(qty(6).Equal(progress.Lines[0].Outstanding))

	grns, err := s.svc.ListGRNs(s.ctx)
	s.Require().NoError(err)
	s.Len(grns, 1)
	s.Equal([][]int64{{itemValve}}, s.notifier.Calls)
}

func (s *ServiceSuite) TestFullReceiptClosesPO() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(10)}, PRLineInput{ItemID: itemGasket, Quantity: qty(2)})
	po := s.createPO(pr,
		POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(10), UnitPrice: qty(3)},
		POLineInput{PRLineID: pr.Lines[1].ID, ItemID: itemGasket, Quantity: qty(2), UnitPrice: qty(1)},
	)
	_, err := s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: po.Lines[0].ID, ItemID: itemValve, ReceivedQuantity: qty(10)},
		{POLineID: po.Lines[1].ID, ItemID: itemGasket, ReceivedQuantity: decimal.Zero},
	}})
	s.Require().NoError(err)
	stored, err := s.svc.GetPO(s.ctx, po.ID)
	s.Require().NoError(err)
	s.Equal(POStatusOpen, stored.Status)

	_, err = s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: po.Lines[1].ID, ItemID: itemGasket, ReceivedQuantity: qty(2)},
	}})
	s.Require().NoError(err)
	stored, err = s.svc.GetPO(s.ctx, po.ID)
	s.Require().NoError(err)
	s.Equal(POStatusClosed, stored.Status)

	_, err = s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: po.Lines[1].ID, ItemID: itemGasket, ReceivedQuantity: qty(1)},
	}})
	s.ErrorIs(err, shared.ErrInvalidTransition)
	s.True(qty(2).Equal(s.repo.stock().Entry(itemGasket).OnHand))
}

func (s *ServiceSuite) TestGRNValidation() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(10)})
	po := s.createPO(pr, POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(10), UnitPrice: qty(3)})

	_, err := s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: po.Lines[0].ID, ItemID: itemValve, ReceivedQuantity: decimal.Zero},
	}})
	s.ErrorIs(err, shared.ErrValidation)

	_, err = s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: po.Lines[0].ID, ItemID: itemGasket, ReceivedQuantity: qty(1)},
	}})
	s.ErrorIs(err, shared.ErrMismatchedItem)

	_, err = s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: 999, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: po.Lines[0].ID, ItemID: itemValve, ReceivedQuantity: qty(1)},
	}})
	s.ErrorIs(err, shared.ErrNotFound)
	s.True(s.repo.stock().Entry(itemValve).OnHand.IsZero())
}

func (s *ServiceSuite) TestGRNIdempotencyKey() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(10)})
	po := s.createPO(pr, POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(10), UnitPrice: qty(3)})
	input := CreateGRNInput{POID: po.ID, ReceivedBy: "stores", IdempotencyKey: "dock-7", Lines: []GRNLineInput{
		{POLineID: po.Lines[0].ID, ItemID: itemValve, ReceivedQuantity: qty(11)},
	}}

	_, err := s.svc.CreateGRN(s.ctx, input)
	s.Require().ErrorIs(err, shared.ErrOverReceipt)
	s.False(s.idem.Has("grn:dock-7"))

	input.Lines[0].ReceivedQuantity = qty(3)
	_, err = s.svc.CreateGRN(s.ctx, input)
	s.Require().NoError(err)
	s.True(s.idem.Has("grn:dock-7"))

	_, err = s.svc.CreateGRN(s.ctx, input)
	s.ErrorIs(err, shared.ErrIdempotencyConflict)
	s.True(qty(3).Equal(s.repo.stock().Entry(itemValve).OnHand))
}

func (s *ServiceSuite) TestQuantityPrecision() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: decimal.RequireFromString("10.50000")})
	s.True(decimal.RequireFromString("10.5").Equal(pr.Lines[0].Quantity))

	_, err := s.svc.CreatePR(s.ctx, CreatePRInput{DepartmentID: deptStores, RequestedBy: "buyer", Lines: []PRLineInput{
		{ItemID: itemValve, Quantity: qty(1)},
		{ItemID: itemGasket, Quantity: decimal.RequireFromString("0.00001")},
	}})
	s.Require().ErrorIs(err, shared.ErrValidation)
	var le *shared.LineError
	s.Require().True(errors.As(err, &le))
	s.Equal(2, le.Line)

	line := pr.Lines[0]
	cases := []struct {
		name string
		line POLineInput
	}{
		{"quantity scale", POLineInput{PRLineID: line.ID, ItemID: itemValve, Quantity: decimal.RequireFromString("1.00005"), UnitPrice: qty(1)}},
		{"price scale", POLineInput{PRLineID: line.ID, ItemID: itemValve, Quantity: qty(1), UnitPrice: decimal.RequireFromString("2.12345")}},
		{"quantity magnitude", POLineInput{PRLineID: line.ID, ItemID: itemValve, Quantity: decimal.New(1, 14), UnitPrice: qty(1)}},
		{"total magnitude", POLineInput{PRLineID: line.ID, ItemID: itemValve, Quantity: qty(10), UnitPrice: decimal.New(1, 13)}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.CreatePO(s.ctx, CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "buyer", Lines: []POLineInput{tc.line}})
			s.ErrorIs(err, shared.ErrValidation)
		})
	}
	pos, err := s.svc.ListPOs(s.ctx)
	s.Require().NoError(err)
	s.Empty(pos)

	po := s.createPO(pr, POLineInput{PRLineID: line.ID, ItemID: itemValve, Quantity: qty(3), UnitPrice: decimal.RequireFromString("0.3333")})
	s.True(decimal.RequireFromString("0.9999").Equal(po.TotalAmount))

	_, err = s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
		{POLineID: po.Lines[0].ID, ItemID: itemValve, ReceivedQuantity: decimal.RequireFromString("1.00005")},
	}})
	s.ErrorIs(err, shared.ErrValidation)
	s.True(s.repo.stock().Entry(itemValve).OnHand.IsZero())
	s.Empty(s.repo.stock().Movements(itemValve))
}

// concurrently runs n calls of fn at once and returns their errors by index.
func concurrently(n int, fn func() error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func countOutcomes(errs []error, sentinel error) (ok, matched, other int) {
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, sentinel):
			matched++
		default:
			other++
		}
	}
	return ok, matched, other
}

func (s *ServiceSuite) TestConcurrentPOsRespectPRLine() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(10)})
	errs := concurrently(20, func() error {
		_, err := s.svc.CreatePO(s.ctx, CreatePOInput{PRID: pr.ID, VendorID: vendorAcme, CreatedBy: "buyer", Lines: []POLineInput{
			{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(3), UnitPrice: qty(1)},
		}})
		return err
	})
	ok, over, other := countOutcomes(errs, shared.ErrOverOrder)
	s.Equal(3, ok)
	s.Equal(17, over)
	s.Zero(other)

	pos, err := s.svc.ListPOs(s.ctx)
	s.Require().NoError(err)
	ordered := decimal.Zero
	for _, po := range pos {
		ordered = ordered.Add(po.Lines[0].Quantity)
	}
	s.True(qty(9).Equal(ordered))
}

func (s *ServiceSuite) TestConcurrentGRNsRespectPOLine() {
	pr := s.createPR(PRLineInput{ItemID: itemValve, Quantity: qty(10)})
	po := s.createPO(pr, POLineInput{PRLineID: pr.Lines[0].ID, ItemID: itemValve, Quantity: qty(10), UnitPrice: qty(3)})
	errs := concurrently(20, func() error {
		_, err := s.svc.CreateGRN(s.ctx, CreateGRNInput{POID: po.ID, ReceivedBy: "stores", Lines: []GRNLineInput{
			{POLineID: po.Lines[0].ID, ItemID: itemValve, ReceivedQuantity: qty(3)},
		}})
		return err
	})
	ok, over, other := countOutcomes(errs, shared.ErrOverReceipt)
	s.Equal(3, ok)
	s.Equal(17, over)
	s.Zero(other)
	s.True(qty(9).Equal(s.repo.stock().Entry(itemValve).OnHand))

	progress, err := s.svc.POProgress(s.ctx, po.ID)
	s.Require().NoError(err)
	s.True(qty(9).Equal(progress.Lines[0].Received))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
