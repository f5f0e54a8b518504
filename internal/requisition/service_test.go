package requisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/plantops/plantstore/internal/masterdata/masterdatatest"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/shared/sharedtest"
)

const (
	deptMaintenance int64 = 1
	itemBearing     int64 = 10
	itemGrease      int64 = 11
)

type ServiceSuite struct {
	suite.Suite
	repo      *memoryRepo
	approvals *sharedtest.Approvals
	audit     *sharedtest.Audit
	notifier  *sharedtest.Notifier
	svc       *Service
	ctx       context.Context
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = newMemoryRepo()
	s.approvals = &sharedtest.Approvals{}
	s.audit = &sharedtest.Audit{}
	s.notifier = &sharedtest.Notifier{}
	lookup := masterdatatest.New().
		AddDepartment(deptMaintenance, "MNT").
		AddItem(itemBearing, "BRG-6205").
		AddItem(itemGrease, "GRS-EP2")
	s.svc = NewService(s.repo, lookup, s.approvals, s.audit, s.notifier, nil)
}

func (s *ServiceSuite) create(lines ...LineInput) Requisition {
	req, err := s.svc.Create(s.ctx, CreateInput{DepartmentID: deptMaintenance, RequestedBy: "fitter", Lines: lines})
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) decide(id int64, stage Stage, approve bool) (Requisition, error) {
	return s.svc.Decide(s.ctx, DecideInput{RequisitionID: id, Stage: stage, Approve: approve, DecidedBy: "approver"})
}

func (s *ServiceSuite) TestApprovalReservesStock() {
	s.repo.stock().Seed(itemBearing, decimal.NewFromInt(100), decimal.Zero)

	req := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(10)})
	s.Equal(StatusPendingHOD, req.Status)
	s.NotEmpty(req.Number)
	s.Require().Len(req.Lines, 1)

	req, err := s.decide(req.ID, StageHOD, true)
	s.Require().NoError(err)
	s.Equal(StatusPendingPlantHead, req.Status)
	s.NotNil(req.HODActionAt)
	s.Equal("approver", req.HODDecidedBy)

	req, err = s.decide(req.ID, StagePlantHead, true)
	s.Require().NoError(err)
	s.Equal(StatusApproved, req.Status)
	s.NotNil(req.PlantHeadActionAt)

	entry := s.repo.stock().Entry(itemBearing)
	s.True(decimal.NewFromInt(10).Equal(entry.Reserved))
	s.True(decimal.NewFromInt(90).Equal(entry.Available()))

	s.Equal([]shared.ApprovalAction{shared.ApprovalSubmit, shared.ApprovalApprove, shared.ApprovalApprove}, s.approvals.Actions(Module, req.ID))
	s.Equal([][]int64{{itemBearing}}, s.notifier.Calls)

	stored, err := s.svc.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(StatusApproved, stored.Status)
}

func (s *ServiceSuite) TestApprovalFailsOnShortStock() {
	s.repo.stock().Seed(itemBearing, decimal.NewFromInt(50), decimal.Zero)
	s.repo.stock().Seed(itemGrease, decimal.NewFromInt(5), decimal.Zero)

	req := s.create(
		LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(10)},
		LineInput{ItemID: itemGrease, Quantity: decimal.NewFromInt(10)},
	)
	_, err := s.decide(req.ID, StageHOD, true)
	s.Require().NoError(err)

	_, err = s.decide(req.ID, StagePlantHead, true)
	s.Require().ErrorIs(err, shared.ErrInsufficientStock)
	var le *shared.LineError
	s.Require().True(errors.As(err, &le))
	s.Equal(2, le.Line)
	s.Equal(itemGrease, le.ItemID)

	stored, err := s.svc.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(StatusPendingPlantHead, stored.Status)
	s.True(s.repo.stock().Entry(itemBearing).Reserved.IsZero())
	s.True(s.repo.stock().Entry(itemGrease).Reserved.IsZero())
	s.Empty(s.notifier.Calls)
}

func (s *ServiceSuite) TestRejections() {
	req := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(1)})

	_, err := s.decide(req.ID, StagePlantHead, true)
	s.ErrorIs(err, shared.ErrInvalidTransition)

	req, err = s.decide(req.ID, StageHOD, false)
	s.Require().NoError(err)
	s.Equal(StatusRejectedByHOD, req.Status)

	_, err = s.decide(req.ID, StageHOD, true)
	s.ErrorIs(err, shared.ErrInvalidTransition)
	_, err = s.svc.Cancel(s.ctx, CancelInput{RequisitionID: req.ID, CancelledBy: "fitter"})
	s.ErrorIs(err, shared.ErrInvalidTransition)

	other := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(1)})
	_, err = s.decide(other.ID, StageHOD, true)
	s.Require().NoError(err)
	other, err = s.decide(other.ID, StagePlantHead, false)
	s.Require().NoError(err)
	s.Equal(StatusRejectedByPlantHead, other.Status)
	s.True(s.repo.stock().Entry(itemBearing).Reserved.IsZero())
}

func (s *ServiceSuite) TestCancel() {
	req := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(3)})
	_, err := s.decide(req.ID, StageHOD, true)
	s.Require().NoError(err)

	req, err = s.svc.Cancel(s.ctx, CancelInput{RequisitionID: req.ID, CancelledBy: "fitter", Remarks: "not needed"})
	s.Require().NoError(err)
	s.Equal(StatusCancelled, req.Status)
	s.Equal("not needed", req.DecisionRemarks)
	s.Contains(s.audit.Actions(), "requisition:cancel")

	_, err = s.decide(req.ID, StagePlantHead, true)
	s.ErrorIs(err, shared.ErrInvalidTransition)
}

func (s *ServiceSuite) TestCreateValidation() {
	cases := []struct {
		name  string
		input CreateInput
		line  int
	}{
		{name: "no lines", input: CreateInput{DepartmentID: deptMaintenance, RequestedBy: "fitter"}},
		{name: "missing requester", input: CreateInput{DepartmentID: deptMaintenance, Lines: []LineInput{{ItemID: itemBearing, Quantity: decimal.NewFromInt(1)}}}},
		{name: "unknown department", input: CreateInput{DepartmentID: 99, RequestedBy: "fitter", Lines: []LineInput{{ItemID: itemBearing, Quantity: decimal.NewFromInt(1)}}}},
		{name: "zero quantity", line: 2, input: CreateInput{DepartmentID: deptMaintenance, RequestedBy: "fitter", Lines: []LineInput{
			{ItemID: itemBearing, Quantity: decimal.NewFromInt(1)},
			{ItemID: itemGrease, Quantity: decimal.Zero},
		}}},
		{name: "unknown item", line: 1, input: CreateInput{DepartmentID: deptMaintenance, RequestedBy: "fitter", Lines: []LineInput{
			{ItemID: 404, Quantity: decimal.NewFromInt(1)},
		}}},
		{name: "too many decimal places", line: 2, input: CreateInput{DepartmentID: deptMaintenance, RequestedBy: "fitter", Lines: []LineInput{
			{ItemID: itemBearing, Quantity: decimal.RequireFromString("1.5")},
			{ItemID: itemGrease, Quantity: decimal.RequireFromString("0.00001")},
		}}},
		{name: "quantity too large", line: 1, input: CreateInput{DepartmentID: deptMaintenance, RequestedBy: "fitter", Lines: []LineInput{
			{ItemID: itemBearing, Quantity: decimal.New(1, 14)},
		}}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.Create(s.ctx, tc.input)
			s.Require().ErrorIs(err, shared.ErrValidation)
			if tc.line > 0 {
				var le *shared.LineError
				s.Require().True(errors.As(err, &le))
				s.Equal(tc.line, le.Line)
			}
		})
	}
	list, err := s.svc.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *ServiceSuite) TestMissingRequisition() {
	_, err := s.decide(999, StageHOD, true)
	s.ErrorIs(err, shared.ErrNotFound)
	_, err = s.svc.Approvals(s.ctx, 999)
	s.ErrorIs(err, shared.ErrNotFound)
	_, err = s.svc.Decide(s.ctx, DecideInput{RequisitionID: 1, Stage: "CFO", DecidedBy: "x"})
	s.ErrorIs(err, shared.ErrValidation)
}

func (s *ServiceSuite) TestListAndApprovals() {
	first := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(1)})
	second := s.create(LineInput{ItemID: itemGrease, Quantity: decimal.NewFromInt(2)})
	_, err := s.decide(second.ID, StageHOD, false)
	s.Require().NoError(err)

	list, err := s.svc.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(first.ID, list[0].ID)

	logs, err := s.svc.Approvals(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Require().Len(logs, 2)
	s.Equal(shared.ApprovalReject, logs[1].Action)
	s.Equal("HOD", logs[1].Note)
}

func (s *ServiceSuite) TestCreateRetriesTakenNumber() {
	numbers := []string{"REQ-A", "REQ-A", "REQ-B"}
	s.svc.numbers = func(string, time.Time) string {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}
	first := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(1)})
	second := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(2)})
	s.Equal("REQ-A", first.Number)
	s.Equal("REQ-B", second.Number)
	s.Empty(numbers)

	list, err := s.svc.List(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 2)
}

func (s *ServiceSuite) TestConcurrentApprovalsShareAvailableStock() {
	s.repo.stock().Seed(itemBearing, decimal.NewFromInt(25), decimal.Zero)
	ids := make([]int64, 10)
	for i := range ids {
		req := s.create(LineInput{ItemID: itemBearing, Quantity: decimal.NewFromInt(5)})
		_, err := s.decide(req.ID, StageHOD, true)
		s.Require().NoError(err)
		ids[i] = req.ID
	}

	errs := make([]error, len(ids))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			<-start
			_, errs[i] = s.decide(id, StagePlantHead, true)
		}(i, id)
	}
	close(start)
	wg.Wait()

	approved, short := 0, 0
	for i, err := range errs {
		stored, getErr := s.svc.Get(s.ctx, ids[i])
		s.Require().NoError(getErr)
		switch {
		case err == nil:
			approved++
			s.Equal(StatusApproved, stored.Status)
		case errors.Is(err, shared.ErrInsufficientStock):
			short++
			s.Equal(StatusPendingPlantHead, stored.Status)
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(5, approved)
	s.Equal(5, short)
	entry := s.repo.stock().Entry(itemBearing)
	s.True(decimal.NewFromInt(25).Equal(entry.Reserved))
	s.True(entry.Available().IsZero())
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
