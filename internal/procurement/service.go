package procurement

import (
	"context"
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
	ModulePR  = "purchase_requisition"
	ModulePO  = "purchase_order"
	ModuleGRN = "grn"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequisition, error)
	ListPRs(ctx context.Context) ([]PurchaseRequisition, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context) ([]PurchaseOrder, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, error)
	ListGRNs(ctx context.Context) ([]GoodsReceipt, error)
	ReceivedQuantities(ctx context.Context, poLineIDs []int64) (map[int64]decimal.Decimal, error)
}

// TxRepository exposes transactional operations. The ForUpdate reads lock the
// parent lines so the child sums read afterwards include every earlier writer.
type TxRepository interface {
	CreatePR(ctx context.Context, pr PurchaseRequisition) (PurchaseRequisition, error)
	GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequisition, error)
	OrderedQuantities(ctx context.Context, prLineIDs []int64) (map[int64]decimal.Decimal, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	ReceivedQuantities(ctx context.Context, poLineIDs []int64) (map[int64]decimal.Decimal, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt) (GoodsReceipt, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	Ledger() *stock.Ledger
}

// RequisitionReader loads requisitions a PR is raised against.
type RequisitionReader interface {
	Get(ctx context.Context, id int64) (requisition.Requisition, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the PR -> PO -> GRN chain.
type Service struct {
	repo         RepositoryPort
	requisitions RequisitionReader
	lookup       masterdata.Lookup
	audit        AuditPort
	idempotency  shared.Idempotency
	notifier     stock.Notifier
	validator    *shared.Validator
	logger       *slog.Logger
	now          func() time.Time
	numbers      func(prefix string, at time.Time) string
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, requisitions RequisitionReader, lookup masterdata.Lookup, audit AuditPort, idem shared.Idempotency, notifier stock.Notifier, logger *slog.Logger) *Service {
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

// CreatePRInput describes a purchase requisition. Lines may be omitted when a
// requisition is referenced; they are then copied from it.
type CreatePRInput struct {
	RequisitionID int64         `json:"requisition_id" validate:"gte=0"`
	DepartmentID  int64         `json:"department_id" validate:"gte=0"`
	RequestedBy   string        `json:"requested_by" validate:"required,max=100"`
	Remarks       string        `json:"remarks" validate:"max=500"`
	Lines         []PRLineInput `json:"lines"`
}

// PRLineInput is one requested purchase.
type PRLineInput struct {
	ItemID   int64           `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Purpose  string          `json:"purpose"`
}

// CreatePOInput describes a purchase order against a PR.
type CreatePOInput struct {
	PRID                 int64         `json:"pr_id" validate:"gt=0"`
	VendorID             int64         `json:"vendor_id" validate:"gt=0"`
	DepartmentID         int64         `json:"department_id" validate:"gte=0"`
	CreatedBy            string        `json:"created_by" validate:"required,max=100"`
	OrderDate            *time.Time    `json:"order_date"`
	ExpectedDeliveryDate *time.Time    `json:"expected_delivery_date"`
	Remarks              string        `json:"remarks" validate:"max=500"`
	Lines                []POLineInput `json:"lines" validate:"required,min=1"`
}

// POLineInput orders part of a PR line.
type POLineInput struct {
	PRLineID  int64           `json:"pr_line_id"`
	ItemID    int64           `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateGRNInput records a delivery against an open PO.
type CreateGRNInput struct {
	POID           int64          `json:"po_id" validate:"gt=0"`
	ReceivedBy     string         `json:"received_by" validate:"required,max=100"`
	ReceiptDate    *time.Time     `json:"receipt_date"`
	Remarks        string         `json:"remarks" validate:"max=500"`
	Lines          []GRNLineInput `json:"lines" validate:"required,min=1"`
	IdempotencyKey string         `json:"-"`
}

// GRNLineInput is the delivered quantity of one PO line.
type GRNLineInput struct {
	POLineID         int64           `json:"po_line_id"`
	ItemID           int64           `json:"item_id"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
}

// CreatePR creates a DRAFT purchase requisition.
func (s *Service) CreatePR(ctx context.Context, input CreatePRInput) (PurchaseRequisition, error) {
	input.RequestedBy = strings.TrimSpace(input.RequestedBy)
	if err := s.validator.Struct(input); err != nil {
		return PurchaseRequisition{}, err
	}
	pr := PurchaseRequisition{
		DepartmentID: input.DepartmentID,
		RequestedBy:  input.RequestedBy,
		Remarks:      input.Remarks,
		Status:       PRStatusDraft,
	}
	lines := input.Lines
	if input.RequisitionID > 0 {
		req, err := s.requisitions.Get(ctx, input.RequisitionID)
		if err != nil {
			return PurchaseRequisition{}, err
		}
		if req.Status != requisition.StatusApproved {
			return PurchaseRequisition{}, fmt.Errorf("%w: requisition %s is %s", shared.ErrInvalidTransition, req.Number, req.Status)
		}
		id := req.ID
		pr.RequisitionID = &id
		if pr.DepartmentID == 0 {
			pr.DepartmentID = req.DepartmentID
		}
		if len(lines) == 0 {
			for _, l := range req.Lines {
				lines = append(lines, PRLineInput{ItemID: l.ItemID, Quantity: l.Quantity, Purpose: l.Purpose})
			}
		}
	}
	if pr.DepartmentID == 0 {
		return PurchaseRequisition{}, shared.Invalid("department_id is required without a requisition")
	}
	if len(lines) == 0 {
		return PurchaseRequisition{}, shared.Invalid("lines are required")
	}
	itemIDs := make([]int64, 0, len(lines))
	for i, l := range lines {
		if l.ItemID <= 0 {
			return PurchaseRequisition{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, Detail: "item_id is required"}
		}
		if !l.Quantity.IsPositive() {
			return PurchaseRequisition{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, ItemID: l.ItemID, Detail: "quantity must be positive"}
		}
		if err := shared.CheckQuantity("quantity", l.Quantity); err != nil {
			return PurchaseRequisition{}, &shared.LineError{Err: err, Line: i + 1, ItemID: l.ItemID}
		}
		itemIDs = append(itemIDs, l.ItemID)
		pr.Lines = append(pr.Lines, PRLine{ItemID: l.ItemID, Quantity: l.Quantity, Purpose: l.Purpose})
	}
	if err := masterdata.CheckDepartment(ctx, s.lookup, pr.DepartmentID); err != nil {
		return PurchaseRequisition{}, err
	}
	if err := masterdata.CheckItems(ctx, s.lookup, itemIDs); err != nil {
		return PurchaseRequisition{}, err
	}
	var created PurchaseRequisition
	err := shared.RetryNumberClash(func() error {
		pr.Number = s.numbers("PR", s.now())
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.CreatePR(ctx, pr)
			return err
		})
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.recordAudit(ctx, created.RequestedBy, "pr:create", ModulePR, created.ID, map[string]any{
		"number":         created.Number,
		"requisition_id": input.RequisitionID,
	})
	return created, nil
}

// CreatePO orders PR lines from a vendor. Every line is checked against the
// locked PR lines before anything is written.
func (s *Service) CreatePO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	input.CreatedBy = strings.TrimSpace(input.CreatedBy)
	if err := s.validator.Struct(input); err != nil {
		return PurchaseOrder{}, err
	}
	for i, l := range input.Lines {
		switch {
		case l.PRLineID <= 0:
			return PurchaseOrder{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, Detail: "pr_line_id is required"}
		case l.ItemID <= 0:
			return PurchaseOrder{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, LineID: l.PRLineID, Detail: "item_id is required"}
		case !l.Quantity.IsPositive():
			return PurchaseOrder{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, LineID: l.PRLineID, ItemID: l.ItemID, Detail: "quantity must be positive"}
		case l.UnitPrice.IsNegative():
			return PurchaseOrder{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, LineID: l.PRLineID, ItemID: l.ItemID, Detail: "unit_price must not be negative"}
		}
		if err := checkAmounts(l.Quantity, l.UnitPrice); err != nil {
			return PurchaseOrder{}, &shared.LineError{Err: err, Line: i + 1, LineID: l.PRLineID, ItemID: l.ItemID}
		}
	}
	if err := masterdata.CheckVendor(ctx, s.lookup, input.VendorID); err != nil {
		return PurchaseOrder{}, err
	}
	if input.DepartmentID > 0 {
		if err := masterdata.CheckDepartment(ctx, s.lookup, input.DepartmentID); err != nil {
			return PurchaseOrder{}, err
		}
	}
	orderDate := s.today()
	if input.OrderDate != nil {
		orderDate = *input.OrderDate
	}
	var created PurchaseOrder
	post := func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.GetPRForUpdate(ctx, input.PRID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(pr.Lines))
		for _, l := range pr.Lines {
			ids = append(ids, l.ID)
		}
		ordered, err := tx.OrderedQuantities(ctx, ids)
		if err != nil {
			return err
		}
		lines, total, err := planOrder(pr, ordered, input.Lines)
		if err != nil {
			return err
		}
		po := PurchaseOrder{
			Number:               s.numbers("PO", s.now()),
			PRID:                 pr.ID,
			VendorID:             input.VendorID,
			DepartmentID:         pr.DepartmentID,
			CreatedBy:            input.CreatedBy,
			OrderDate:            orderDate,
			ExpectedDeliveryDate: input.ExpectedDeliveryDate,
			Remarks:              input.Remarks,
			Status:               POStatusOpen,
			TotalAmount:          total,
			Lines:                lines,
		}
		if input.DepartmentID > 0 {
			po.DepartmentID = input.DepartmentID
		}
		created, err = tx.CreatePO(ctx, po)
		return err
	}
	err := shared.RetryNumberClash(func() error { return s.repo.WithTx(ctx, post) })
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, created.CreatedBy, "po:create", ModulePO, created.ID, map[string]any{
		"number": created.Number,
		"pr_id":  created.PRID,
		"total":  created.TotalAmount.String(),
	})
	return created, nil
}

// checkAmounts keeps quantity, price and their line total within storable
// precision.
func checkAmounts(qty, price decimal.Decimal) error {
	if err := shared.CheckQuantity("quantity", qty); err != nil {
		return err
	}
	if err := shared.CheckQuantity("unit_price", price); err != nil {
		return err
	}
	return shared.CheckQuantity("total_amount", qty.Mul(price).Round(shared.QuantityScale))
}

// planOrder validates PO lines against PR lines and the quantities already
// ordered, which it does not modify.
func planOrder(pr PurchaseRequisition, ordered map[int64]decimal.Decimal, inputs []POLineInput) ([]POLine, decimal.Decimal, error) {
	byID := make(map[int64]PRLine, len(pr.Lines))
	for _, l := range pr.Lines {
		byID[l.ID] = l
	}
	cumulative := make(map[int64]decimal.Decimal, len(ordered))
	for id, qty := range ordered {
		cumulative[id] = qty
	}
	total := decimal.Zero
	lines := make([]POLine, 0, len(inputs))
	for i, in := range inputs {
		prLine, ok := byID[in.PRLineID]
		if !ok {
			return nil, decimal.Zero, &shared.LineError{Err: shared.ErrNotFound, Line: i + 1, LineID: in.PRLineID, ItemID: in.ItemID,
				Detail: fmt.Sprintf("line is not on purchase requisition %s", pr.Number)}
		}
		if in.ItemID != prLine.ItemID {
			return nil, decimal.Zero, &shared.LineError{Err: shared.ErrMismatchedItem, Line: i + 1, LineID: in.PRLineID, ItemID: in.ItemID,
				Detail: fmt.Sprintf("purchase requisition line is for item %d", prLine.ItemID)}
		}
		next := cumulative[prLine.ID].Add(in.Quantity)
		if next.GreaterThan(prLine.Quantity) {
			return nil, decimal.Zero, &shared.LineError{Err: shared.ErrOverOrder, Line: i + 1, LineID: in.PRLineID, ItemID: in.ItemID,
				Detail: fmt.Sprintf("requisitioned %s, already ordered %s, requested %s", prLine.Quantity, cumulative[prLine.ID], in.Quantity)}
		}
		cumulative[prLine.ID] = next
		amount := in.Quantity.Mul(in.UnitPrice).Round(shared.QuantityScale)
		total = total.Add(amount)
		lines = append(lines, POLine{PRLineID: prLine.ID, ItemID: in.ItemID, Quantity: in.Quantity, UnitPrice: in.UnitPrice, TotalAmount: amount})
	}
	if err := shared.CheckQuantity("total_amount", total); err != nil {
		return nil, decimal.Zero, err
	}
	return lines, total, nil
}

// CreateGRN receives goods against an open PO, credits stock and closes the PO
// once every line is fully received.
func (s *Service) CreateGRN(ctx context.Context, input CreateGRNInput) (GoodsReceipt, error) {
	input.ReceivedBy = strings.TrimSpace(input.ReceivedBy)
	if err := s.validator.Struct(input); err != nil {
		return GoodsReceipt{}, err
	}
	positive := false
	for i, l := range input.Lines {
		switch {
		case l.POLineID <= 0:
			return GoodsReceipt{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, Detail: "po_line_id is required"}
		case l.ItemID <= 0:
			return GoodsReceipt{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, LineID: l.POLineID, Detail: "item_id is required"}
		case l.ReceivedQuantity.IsNegative():
			return GoodsReceipt{}, &shared.LineError{Err: shared.ErrValidation, Line: i + 1, LineID: l.POLineID, ItemID: l.ItemID, Detail: "received_quantity must not be negative"}
		}
		if err := shared.CheckQuantity("received_quantity", l.ReceivedQuantity); err != nil {
			return GoodsReceipt{}, &shared.LineError{Err: err, Line: i + 1, LineID: l.POLineID, ItemID: l.ItemID}
		}
		if l.ReceivedQuantity.IsPositive() {
			positive = true
		}
	}
	if !positive {
		return GoodsReceipt{}, shared.Invalid("goods receipt needs at least one line with a received quantity")
	}
	release, err := shared.ClaimIdempotency(ctx, s.idempotency, ModuleGRN, input.IdempotencyKey)
	if err != nil {
		return GoodsReceipt{}, err
	}
	receiptDate := s.today()
	if input.ReceiptDate != nil {
		receiptDate = *input.ReceiptDate
	}
	var (
		created GoodsReceipt
		closed  bool
	)
	post := func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status != POStatusOpen {
			return fmt.Errorf("%w: purchase order %s is %s", shared.ErrInvalidTransition, po.Number, po.Status)
		}
		ids := make([]int64, 0, len(po.Lines))
		for _, l := range po.Lines {
			ids = append(ids, l.ID)
		}
		received, err := tx.ReceivedQuantities(ctx, ids)
		if err != nil {
			return err
		}
		lines, err := planReceipt(po, received, input.Lines)
		if err != nil {
			return err
		}
		grn := GoodsReceipt{
			Number:      s.numbers("GRN", s.now()),
			POID:        po.ID,
			VendorID:    po.VendorID,
			ReceivedBy:  input.ReceivedBy,
			ReceiptDate: receiptDate,
			Remarks:     input.Remarks,
			Status:      GRNStatusReceived,
			Lines:       lines,
		}
		created, err = tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		ledgerLines := make([]stock.Line, 0, len(created.Lines))
		for i, l := range created.Lines {
			ledgerLines = append(ledgerLines, stock.Line{Position: i + 1, LineID: l.POLineID, ItemID: l.ItemID, Quantity: l.ReceivedQuantity})
		}
		ref := stock.Ref{Type: stock.MovementReceipt, Module: ModuleGRN, ID: created.Number}
		if err := tx.Ledger().ReceiveLines(ctx, ledgerLines, ref); err != nil {
			return err
		}
		totals := make(map[int64]decimal.Decimal, len(received))
		for id, qty := range received {
			totals[id] = qty
		}
		for _, l := range created.Lines {
			totals[l.POLineID] = totals[l.POLineID].Add(l.ReceivedQuantity)
		}
		if po.FullyReceived(totals) {
			closed = true
			return tx.UpdatePOStatus(ctx, po.ID, POStatusClosed)
		}
		return nil
	}
	err = shared.RetryNumberClash(func() error { return s.repo.WithTx(ctx, post) })
	if err != nil {
		release()
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, created.ReceivedBy, "grn:create", ModuleGRN, created.ID, map[string]any{
		"number":    created.Number,
		"po_id":     created.POID,
		"po_closed": closed,
	})
	stock.NotifyChanged(ctx, s.notifier, s.logger, receivedItems(created.Lines))
	return created, nil
}

// planReceipt validates GRN lines against the PO lines and the quantities
// already received.
func planReceipt(po PurchaseOrder, received map[int64]decimal.Decimal, inputs []GRNLineInput) ([]GRNLine, error) {
	byID := make(map[int64]POLine, len(po.Lines))
	for _, l := range po.Lines {
		byID[l.ID] = l
	}
	cumulative := make(map[int64]decimal.Decimal, len(received))
	for id, qty := range received {
		cumulative[id] = qty
	}
	lines := make([]GRNLine, 0, len(inputs))
	for i, in := range inputs {
		poLine, ok := byID[in.POLineID]
		if !ok {
			return nil, &shared.LineError{Err: shared.ErrNotFound, Line: i + 1, LineID: in.POLineID, ItemID: in.ItemID,
				Detail: fmt.Sprintf("line is not on purchase order %s", po.Number)}
		}
		if in.ItemID != poLine.ItemID {
			return nil, &shared.LineError{Err: shared.ErrMismatchedItem, Line: i + 1, LineID: in.POLineID, ItemID: in.ItemID,
				Detail: fmt.Sprintf("purchase order line is for item %d", poLine.ItemID)}
		}
		next := cumulative[poLine.ID].Add(in.ReceivedQuantity)
		if next.GreaterThan(poLine.Quantity) {
			return nil, &shared.LineError{Err: shared.ErrOverReceipt, Line: i + 1, LineID: in.POLineID, ItemID: in.ItemID,
				Detail: fmt.Sprintf("ordered %s, already received %s, delivered %s", poLine.Quantity, cumulative[poLine.ID], in.ReceivedQuantity)}
		}
		cumulative[poLine.ID] = next
		lines = append(lines, GRNLine{POLineID: poLine.ID, ItemID: in.ItemID, OrderedQuantity: poLine.Quantity, ReceivedQuantity: in.ReceivedQuantity})
	}
	return lines, nil
}

func receivedItems(lines []GRNLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ReceivedQuantity.IsPositive() {
			ids = append(ids, l.ItemID)
		}
	}
	return ids
}

// GetPR returns a purchase requisition with lines.
func (s *Service) GetPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	return s.repo.GetPR(ctx, id)
}

// ListPRs returns purchase requisitions by ascending id.
func (s *Service) ListPRs(ctx context.Context) ([]PurchaseRequisition, error) {
	return s.repo.ListPRs(ctx)
}

// GetPO returns a purchase order with lines.
func (s *Service) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// ListPOs returns purchase orders by ascending id.
func (s *Service) ListPOs(ctx context.Context) ([]PurchaseOrder, error) {
	return s.repo.ListPOs(ctx)
}

// GetGRN returns a goods receipt with lines.
func (s *Service) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetGRN(ctx, id)
}

// ListGRNs returns goods receipts by ascending id.
func (s *Service) ListGRNs(ctx context.Context) ([]GoodsReceipt, error) {
	return s.repo.ListGRNs(ctx)
}

// POProgress reports ordered against received quantity per PO line.
func (s *Service) POProgress(ctx context.Context, poID int64) (POProgress, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return POProgress{}, err
	}
	ids := make([]int64, 0, len(po.Lines))
	for _, l := range po.Lines {
		ids = append(ids, l.ID)
	}
	received, err := s.repo.ReceivedQuantities(ctx, ids)
	if err != nil {
		return POProgress{}, err
	}
	return po.Progress(received), nil
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
