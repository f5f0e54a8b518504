package requisition

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
)

// Module is the approval and audit module name of requisitions.
const Module = "requisition"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Requisition, error)
	List(ctx context.Context) ([]Requisition, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, req Requisition) (Requisition, error)
	GetForUpdate(ctx context.Context, id int64) (Requisition, error)
	UpdateDecision(ctx context.Context, req Requisition) error
	Ledger() *stock.Ledger
}

// Lookup resolves the master data a requisition references.
type Lookup interface {
	masterdata.ItemLookup
	masterdata.DepartmentLookup
}

// ApprovalPort records and lists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the requisition approval workflow.
type Service struct {
	repo      RepositoryPort
	lookup    Lookup
	approvals ApprovalPort
	audit     AuditPort
	notifier  stock.Notifier
	validator *shared.Validator
	logger    *slog.Logger
	now       func() time.Time
	numbers   func(prefix string, at time.Time) string
}

// NewService constructs requisition service.
func NewService(repo RepositoryPort, lookup Lookup, approvals ApprovalPort, audit AuditPort, notifier stock.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		lookup:    lookup,
		approvals: approvals,
		audit:     audit,
		notifier:  notifier,
		validator: shared.NewValidator(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		numbers:   shared.DocumentNumber,
	}
}

// CreateInput describes a new requisition.
type CreateInput struct {
	DepartmentID   int64       `json:"department_id" validate:"gt=0"`
	RequestedBy    string      `json:"requested_by" validate:"required,max=100"`
	RequiredByDate *time.Time  `json:"required_by_date"`
	Remarks        string      `json:"remarks" validate:"max=500"`
	Lines          []LineInput `json:"lines" validate:"required,min=1"`
}

// LineInput is one requested item.
type LineInput struct {
	ItemID   int64           `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Purpose  string          `json:"purpose"`
}

// DecideInput records an approver decision. Stage and Approve come from the route.
type DecideInput struct {
	RequisitionID int64  `json:"-" validate:"gt=0"`
	Stage         Stage  `json:"-" validate:"oneof=HOD PLANT_HEAD"`
	Approve       bool   `json:"-"`
	DecidedBy     string `json:"decided_by" validate:"required,max=100"`
	Remarks       string `json:"remarks" validate:"max=500"`
}

// CancelInput withdraws a requisition before a final decision.
type CancelInput struct {
	RequisitionID int64  `json:"-" validate:"gt=0"`
	CancelledBy   string `json:"cancelled_by" validate:"required,max=100"`
	Remarks       string `json:"remarks" validate:"max=500"`
}

// Create validates and submits a requisition for HOD approval.
func (s *Service) Create(ctx context.Context, input CreateInput) (Requisition, error) {
	input.RequestedBy = strings.TrimSpace(input.RequestedBy)
	if err := s.validator.Struct(input); err != nil {
		return Requisition{}, err
	}
	itemIDs := make([]int64, 0, len(input.Lines))
	for i, line := range input.Lines {
		if line.ItemID <= 0 {
			return Requisition{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, Detail: "item_id is required"}
		}
		if !line.Quantity.IsPositive() {
			return Requisition{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, ItemID: line.ItemID, Detail: "quantity must be positive"}
		}
		if err := shared.CheckQuantity("quantity", line.Quantity); err != nil {
			return Requisition{}, &shared.LineError{Err: err, Line: i + 1, ItemID: line.ItemID}
		}
		itemIDs = append(itemIDs, line.ItemID)
	}
	if err := masterdata.CheckDepartment(ctx, s.lookup, input.DepartmentID); err != nil {
		return Requisition{}, err
	}
	if err := masterdata.CheckItems(ctx, s.lookup, itemIDs); err != nil {
		return Requisition{}, err
	}
	status, err := Next(StatusDraft, "", ActionSubmit)
	if err != nil {
		return Requisition{}, err
	}
	req := Requisition{
		DepartmentID:   input.DepartmentID,
		RequestedBy:    input.RequestedBy,
		RequiredByDate: input.RequiredByDate,
		Remarks:        input.Remarks,
		Status:         status,
	}
	for _, line := range input.Lines {
		req.Lines = append(req.Lines, Line{ItemID: line.ItemID, Quantity: line.Quantity, Purpose: line.Purpose})
	}
	var created Requisition
	err = shared.RetryNumberClash(func() error {
		req.Number = s.numbers("REQ", s.now())
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.Create(ctx, req)
			return err
		})
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordApproval(ctx, created.ID, created.RequestedBy, shared.ApprovalSubmit, input.Remarks)
	s.recordAudit(ctx, created.RequestedBy, "requisition:create", created.ID, map[string]any{
		"number": created.Number,
		"lines":  len(created.Lines),
	})
	return created, nil
}

// Decide applies an HOD or plant head decision. Final approval reserves every
// line in the same transaction; a shortfall on any line rejects the decision.
func (s *Service) Decide(ctx context.Context, input DecideInput) (Requisition, error) {
	input.DecidedBy = strings.TrimSpace(input.DecidedBy)
	if err := s.validator.Struct(input); err != nil {
		return Requisition{}, err
	}
	action := ActionReject
	if input.Approve {
		action = ActionApprove
	}
	var updated Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		next, err := Next(req.Status, input.Stage, action)
		if err != nil {
			return err
		}
		now := s.now()
		switch input.Stage {
		case StageHOD:
			req.HODDecidedBy = input.DecidedBy
			req.HODActionAt = &now
		case StagePlantHead:
			req.PlantHeadDecidedBy = input.DecidedBy
			req.PlantHeadActionAt = &now
		}
		req.Status = next
		req.DecisionRemarks = input.Remarks
		req.UpdatedAt = now
		if next == StatusApproved {
			ref := stock.Ref{Module: Module, ID: req.Number}
			if err := tx.Ledger().ReserveLines(ctx, ledgerLines(req.Lines), ref); err != nil {
				return err
			}
		}
		if err := tx.UpdateDecision(ctx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	approval := shared.ApprovalReject
	if input.Approve {
		approval = shared.ApprovalApprove
	}
	s.recordApproval(ctx, updated.ID, input.DecidedBy, approval, stageNote(input.Stage, input.Remarks))
	s.recordAudit(ctx, input.DecidedBy, "requisition:"+strings.ToLower(string(action)), updated.ID, map[string]any{
		"stage":  string(input.Stage),
		"status": string(updated.Status),
	})
	if updated.Status == StatusApproved {
		stock.NotifyChanged(ctx, s.notifier, s.logger, updated.ItemIDs())
	}
	return updated, nil
}

// Cancel withdraws a non-terminal requisition. Nothing is reserved before
// final approval, so no stock is touched.
func (s *Service) Cancel(ctx context.Context, input CancelInput) (Requisition, error) {
	input.CancelledBy = strings.TrimSpace(input.CancelledBy)
	if err := s.validator.Struct(input); err != nil {
		return Requisition{}, err
	}
	var updated Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		next, err := Next(req.Status, "", ActionCancel)
		if err != nil {
			return err
		}
		req.Status = next
		req.DecisionRemarks = input.Remarks
		req.UpdatedAt = s.now()
		if err := tx.UpdateDecision(ctx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordApproval(ctx, updated.ID, input.CancelledBy, shared.ApprovalCancel, input.Remarks)
	s.recordAudit(ctx, input.CancelledBy, "requisition:cancel", updated.ID, nil)
	return updated, nil
}

// Get returns a requisition with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Requisition, error) {
	return s.repo.Get(ctx, id)
}

// List returns all requisitions ordered by id.
func (s *Service) List(ctx context.Context) ([]Requisition, error) {
	return s.repo.List(ctx)
}

// Approvals returns the approval history of a requisition.
func (s *Service) Approvals(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.List(ctx, Module, shared.ApprovalRef(Module, id))
}

func stageNote(stage Stage, remarks string) string {
	if remarks == "" {
		return string(stage)
	}
	return fmt.Sprintf("%s: %s", stage, remarks)
}

func ledgerLines(lines []Line) []stock.Line {
	out := make([]stock.Line, 0, len(lines))
	for i, l := range lines {
		out = append(out, stock.Line{Position: i + 1, LineID: l.ID, ItemID: l.ItemID, Quantity: l.Quantity})
	}
	return out
}

func (s *Service) recordApproval(ctx context.Context, id int64, actor string, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module: Module,
		RefID:  shared.ApprovalRef(Module, id),
		Actor:  actor,
		Action: action,
		Note:   note,
	})
	if err != nil {
		s.logger.Warn("approval record failed", slog.Int64("requisition_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   Module,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
