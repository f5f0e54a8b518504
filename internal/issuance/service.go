package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/requisition"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
)

// Audit and idempotency module names.
const (
	ModuleIssue  = "store_issue"
	ModuleReturn = "store_return"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetIssue(ctx context.Context, id int64) (StoreIssue, error)
	ListIssues(ctx context.Context) ([]StoreIssue, error)
	ListIssuesByRequisition(ctx context.Context, requisitionID int64) ([]StoreIssue, error)
	IssuedQuantities(ctx context.Context, requisitionLineIDs []int64) (map[int64]decimal.Decimal, error)
	GetReturn(ctx context.Context, id int64) (StoreReturn, error)
	ListReturns(ctx context.Context) ([]StoreReturn, error)
}

// TxRepository exposes transactional operations. GetRequisitionForUpdate locks
// the requisition lines before their issued sums are read.
type TxRepository interface {
	GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error)
	IssuedQuantities(ctx context.Context, requisitionLineIDs []int64) (map[int64]decimal.Decimal, error)
	CreateIssue(ctx context.Context, issue StoreIssue) (StoreIssue, error)
	CreateReturn(ctx context.Context, ret StoreReturn) (StoreReturn, error)
	Ledger() *stock.Ledger
}

// RequisitionReader loads requisitions for progress reports.
type RequisitionReader interface {
	Get(ctx context.Context, id int64) (requisition.Requisition, error)
}

// Lookup resolves the master data issues and returns reference.
type Lookup interface {
	masterdata.ItemLookup
	masterdata.DepartmentLookup
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service processes store issues and returns.
type Service struct {
	repo         RepositoryPort
	requisitions RequisitionReader
	lookup       Lookup
	audit        AuditPort
	idempotency  shared.Idempotency
	notifier     stock.Notifier
	validator    *shared.Validator
	logger       *slog.Logger
	now          func() time.Time
	numbers      func(prefix string, at time.Time) string
}

// NewService constructs the issuance service.
func NewService(repo RepositoryPort, requisitions RequisitionReader, lookup Lookup, audit AuditPort, idem shared.Idempotency, notifier stock.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		requisitions: requisitions,
		lookup:       lookup,
		audit:        audit,
		idempotency:  idem,
		notifier:     notifier,
		validator:    shared.NewValidator(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		numbers:      shared.DocumentNumber,
	}
}

// CreateIssueInput issues material against an approved requisition.
type CreateIssueInput struct {
	RequisitionID  int64            `json:"requisition_id" validate:"gt=0"`
	IssuedBy       string           `json:"issued_by" validate:"required,max=100"`
	IssueDate      *time.Time       `json:"issue_date"`
	Remarks        string           `json:"remarks" validate:"max=500"`
	Lines          []IssueLineInput `json:"lines" validate:"required,min=1"`
	IdempotencyKey string           `json:"-"`
}

// IssueLineInput issues part of one requisition line. Zero lines are ignored.
type IssueLineInput struct {
	RequisitionLineID int64           `json:"requisition_line_id"`
	IssuedQuantity    decimal.Decimal `json:"issued_quantity"`
}

// CreateReturnInput takes material back into the store.
type CreateReturnInput struct {
	StoreIssueID   int64             `json:"store_issue_id" validate:"gte=0"`
	DepartmentID   int64             `json:"department_id" validate:"gte=0"`
	ReturnedBy     string            `json:"returned_by" validate:"required,max=100"`
	ReturnDate     *time.Time        `json:"return_date"`
	Remarks        string            `json:"remarks" validate:"max=500"`
	Lines          []ReturnLineInput `json:"lines" validate:"required,min=1"`
	IdempotencyKey string            `json:"-"`
}

// ReturnLineInput is one returned item. Zero lines are ignored.
type ReturnLineInput struct {
	ItemID           int64           `json:"item_id"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
	Reason           string          `json:"reason"`
}

type positioned[T any] struct {
	line int
	in   T
}

// CreateIssue consumes the reserved stock of the issued lines. Either every
// line is issued or none is.
func (s *Service) CreateIssue(ctx context.Context, input CreateIssueInput) (StoreIssue, error) {
	input.IssuedBy = strings.TrimSpace(input.IssuedBy)
	if err := s.validator.Struct(input); err != nil {
		return StoreIssue{}, err
	}
	var kept []positioned[IssueLineInput]
	for i, l := range input.Lines {
		switch {
		case l.RequisitionLineID <= 0:
			return StoreIssue{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, Detail: "requisition_line_id is required"}
		case l.IssuedQuantity.IsNegative():
			return StoreIssue{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, LineID: l.RequisitionLineID, Detail: "issued_quantity must not be negative"}
		case l.IssuedQuantity.IsZero():
			continue
		}
		if err := shared.CheckQuantity("issued_quantity", l.IssuedQuantity); err != nil {
			return StoreIssue{}, &shared.LineError{Err: err, Line: i + 1, LineID: l.RequisitionLineID}
		}
		kept = append(kept, positioned[IssueLineInput]{line: i + 1, in: l})
	}
	if len(kept) == 0 {
		return StoreIssue{}, shared.ErrEmptyIssue
	}
	release, err := shared.ClaimIdempotency(ctx, s.idempotency, ModuleIssue, input.IdempotencyKey)
	if err != nil {
		return StoreIssue{}, err
	}
	issueDate := s.today()
	if input.IssueDate != nil {
		issueDate = *input.IssueDate
	}
	var created StoreIssue
	post := func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequisitionForUpdate(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		if req.Status != requisition.StatusApproved {
			return fmt.Errorf("%w: requisition %s is %s", shared.ErrInvalidTransition, req.Number, req.Status)
		}
		ids := make([]int64, 0, len(req.Lines))
		for _, l := range req.Lines {
			ids = append(ids, l.ID)
		}
		issued, err := tx.IssuedQuantities(ctx, ids)
		if err != nil {
			return err
		}
		lines, totals, err := planIssue(req, issued, kept)
		if err != nil {
			return err
		}
		status := IssueStatusPartial
		if Progress(req, totals).Complete {
			status = IssueStatusIssued
		}
		issue := StoreIssue{
			Number:        s.numbers("ISS", s.now()),
			RequisitionID: req.ID,
			DepartmentID:  req.DepartmentID,
			IssuedBy:      input.IssuedBy,
			IssueDate:     issueDate,
			Remarks:       input.Remarks,
			Status:        status,
			Lines:         lines,
		}
		created, err = tx.CreateIssue(ctx, issue)
		if err != nil {
			return err
		}
		ledgerLines := make([]stock.Line, 0, len(created.Lines))
		for i, l := range created.Lines {
			ledgerLines = append(ledgerLines, stock.Line{Position: kept[i].line, LineID: l.RequisitionLineID, ItemID: l.ItemID, Quantity: l.IssuedQuantity})
		}
		return tx.Ledger().ConsumeLines(ctx, ledgerLines, stock.Ref{Module: ModuleIssue, ID: created.Number})
	}
	err = shared.RetryNumberClash(func() error { return s.repo.WithTx(ctx, post) })
	if err != nil {
		release()
		return StoreIssue{}, err
	}
	s.recordAudit(ctx, created.IssuedBy, "issue:create", ModuleIssue, created.ID, map[string]any{
		"number":         created.Number,
		"requisition_id": created.RequisitionID,
		"status":         string(created.Status),
	})
	stock.NotifyChanged(ctx, s.notifier, s.logger, created.ItemIDs())
	return created, nil
}

// planIssue checks kept lines against the requisition and returns the issue
// lines along with the cumulative issued quantity per requisition line.
func planIssue(req requisition.Requisition, issued map[int64]decimal.Decimal, kept []positioned[IssueLineInput]) ([]IssueLine, map[int64]decimal.Decimal, error) {
	cumulative := make(map[int64]decimal.Decimal, len(issued))
	for id, q := range issued {
		cumulative[id] = q
	}
	lines := make([]IssueLine, 0, len(kept))
	for _, k := range kept {
		reqLine, ok := req.FindLine(k.in.RequisitionLineID)
		if !ok {
			return nil, nil, &shared.LineError{Err: shared.ErrNotFound, Line: k.line, LineID: k.in.RequisitionLineID,
				Detail: fmt.Sprintf("line is not on requisition %s", req.Number)}
		}
		next := cumulative[reqLine.ID].Add(k.in.IssuedQuantity)
		if next.GreaterThan(reqLine.Quantity) {
			return nil, nil, &shared.LineError{Err: shared.ErrOverIssue, Line: k.line, LineID: reqLine.ID, ItemID: reqLine.ItemID,
				Detail: fmt.Sprintf("requested %s, already issued %s, issuing %s", reqLine.Quantity, cumulative[reqLine.ID], k.in.IssuedQuantity)}
		}
		cumulative[reqLine.ID] = next
		lines = append(lines, IssueLine{RequisitionLineID: reqLine.ID, ItemID: reqLine.ItemID, RequestedQuantity: reqLine.Quantity, IssuedQuantity: k.in.IssuedQuantity})
	}
	return lines, cumulative, nil
}

// CreateReturn credits returned quantities back to on-hand stock. Returns are
// not capped by the linked issue.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput) (StoreReturn, error) {
	input.ReturnedBy = strings.TrimSpace(input.ReturnedBy)
	if err := s.validator.Struct(input); err != nil {
		return StoreReturn{}, err
	}
	var kept []positioned[ReturnLineInput]
	for i, l := range input.Lines {
		switch {
		case l.ItemID <= 0:
			return StoreReturn{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, Detail: "item_id is required"}
		case l.ReturnedQuantity.IsNegative():
			return StoreReturn{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, ItemID: l.ItemID, Detail: "returned_quantity must not be negative"}
		case l.ReturnedQuantity.IsZero():
			continue
		}
		if err := shared.CheckQuantity("returned_quantity", l.ReturnedQuantity); err != nil {
			return StoreReturn{}, &shared.LineError{Err: err, Line: i + 1, ItemID: l.ItemID}
		}
		kept = append(kept, positioned[ReturnLineInput]{line: i + 1, in: l})
	}
	if len(kept) == 0 {
		return StoreReturn{}, shared.ErrEmptyReturn
	}
	ret := StoreReturn{
		DepartmentID: input.DepartmentID,
		ReturnedBy:   input.ReturnedBy,
		ReturnDate:   s.today(),
		Remarks:      input.Remarks,
	}
	if input.ReturnDate != nil {
		ret.ReturnDate = *input.ReturnDate
	}
	if input.StoreIssueID > 0 {
		issue, err := s.repo.GetIssue(ctx, input.StoreIssueID)
		if err != nil {
			return StoreReturn{}, err
		}
		id := issue.ID
		ret.StoreIssueID = &id
		if ret.DepartmentID == 0 {
			ret.DepartmentID = issue.DepartmentID
		}
	}
	if ret.DepartmentID == 0 {
		return StoreReturn{}, shared.Invalid("department_id is required without a store issue")
	}
	if err := masterdata.CheckDepartment(ctx, s.lookup, ret.DepartmentID); err != nil {
		return StoreReturn{}, err
	}
	itemIDs := make([]int64, 0, len(kept))
	for _, k := range kept {
		itemIDs = append(itemIDs, k.in.ItemID)
		ret.Lines = append(ret.Lines, ReturnLine{ItemID: k.in.ItemID, ReturnedQuantity: k.in.ReturnedQuantity, Reason: k.in.Reason})
	}
	if err := masterdata.CheckItems(ctx, s.lookup, itemIDs); err != nil {
		return StoreReturn{}, atKeptLine(err, kept)
	}
	release, err := shared.ClaimIdempotency(ctx, s.idempotency, ModuleReturn, input.IdempotencyKey)
	if err != nil {
		return StoreReturn{}, err
	}
	var created StoreReturn
	err = shared.RetryNumberClash(func() error {
		ret.Number = s.numbers("RET", s.now())
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.CreateReturn(ctx, ret)
			if err != nil {
				return err
			}
			ledgerLines := make([]stock.Line, 0, len(created.Lines))
			for i, l := range created.Lines {
				ledgerLines = append(ledgerLines, stock.Line{Position: kept[i].line, LineID: l.ID, ItemID: l.ItemID, Quantity: l.ReturnedQuantity})
			}
			ref := stock.Ref{Type: stock.MovementReturn, Module: ModuleReturn, ID: created.Number}
			return tx.Ledger().ReceiveLines(ctx, ledgerLines, ref)
		})
	})
	if err != nil {
		release()
		return StoreReturn{}, err
	}
	s.recordAudit(ctx, created.ReturnedBy, "return:create", ModuleReturn, created.ID, map[string]any{
		"number":         created.Number,
		"store_issue_id": input.StoreIssueID,
	})
	stock.NotifyChanged(ctx, s.notifier, s.logger, created.ItemIDs())
	return created, nil
}

// atKeptLine maps a line error over the kept lines back to the submitted position.
func atKeptLine[T any](err error, kept []positioned[T]) error {
	var le *shared.LineError
	if !errors.As(err, &le) || le.Line < 1 || le.Line > len(kept) {
		return err
	}
	copied := *le
	copied.Line = kept[le.Line-1].line
	return &copied
}

// GetIssue returns a store issue with lines.
func (s *Service) GetIssue(ctx context.Context, id int64) (StoreIssue, error) {
	return s.repo.GetIssue(ctx, id)
}

// ListIssues returns store issues by ascending id.
func (s *Service) ListIssues(ctx context.Context) ([]StoreIssue, error) {
	return s.repo.ListIssues(ctx)
}

// ListIssuesByRequisition returns the issues raised against a requisition.
func (s *Service) ListIssuesByRequisition(ctx context.Context, requisitionID int64) ([]StoreIssue, error) {
	return s.repo.ListIssuesByRequisition(ctx, requisitionID)
}

// GetReturn returns a store return with lines.
func (s *Service) GetReturn(ctx context.Context, id int64) (StoreReturn, error) {
	return s.repo.GetReturn(ctx, id)
}

// ListReturns returns store returns by ascending id.
func (s *Service) ListReturns(ctx context.Context) ([]StoreReturn, error) {
	return s.repo.ListReturns(ctx)
}

// IssueProgress reports requested against issued quantity per requisition line.
func (s *Service) IssueProgress(ctx context.Context, requisitionID int64) (IssueProgress, error) {
	req, err := s.requisitions.Get(ctx, requisitionID)
	if err != nil {
		return IssueProgress{}, err
	}
	ids := make([]int64, 0, len(req.Lines))
	for _, l := range req.Lines {
		ids = append(ids, l.ID)
	}
	issued, err := s.repo.IssuedQuantities(ctx, ids)
	if err != nil {
		return IssueProgress{}, err
	}
	return Progress(req, issued), nil
}

func (s *Service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
