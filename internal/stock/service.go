package stock

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, itemID int64) (Entry, error)
	ListEntries(ctx context.Context) ([]Entry, error)
	EntriesFor(ctx context.Context, itemIDs []int64) (map[int64]Entry, error)
	ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error)
}

// TxRepository is the unit of work handed to WithTx callbacks.
type TxRepository interface {
	Ledger() *Ledger
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier is told which items changed after a stock-affecting commit.
type Notifier interface {
	StockChanged(ctx context.Context, itemIDs []int64) error
}

// NotifyChanged informs n about committed changes, logging failures.
func NotifyChanged(ctx context.Context, n Notifier, logger *slog.Logger, itemIDs []int64) {
	if n == nil || len(itemIDs) == 0 {
		return
	}
	if err := n.StockChanged(ctx, itemIDs); err != nil && logger != nil {
		logger.Warn("stock change notification failed", slog.Any("items", itemIDs), slog.Any("error", err))
	}
}

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

// Service coordinates stock operations that are not part of another document.
type Service struct {
	repo      RepositoryPort
	items     masterdata.ItemLookup
	audit     AuditPort
	notifier  Notifier
	validator *shared.Validator
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, items masterdata.ItemLookup, audit AuditPort, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, items: items, audit: audit, notifier: notifier, validator: shared.NewValidator(), logger: logger}
}

// AddStockInput describes a manual receipt.
type AddStockInput struct {
	ItemID   int64           `json:"-" validate:"gt=0"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
	Actor    string          `json:"actor" validate:"required,max=100"`
	Note     string          `json:"note" validate:"max=500"`
}

// AdjustInput describes a signed manual correction.
type AdjustInput struct {
	ItemID int64           `json:"-" validate:"gt=0"`
	Delta  decimal.Decimal `json:"delta"`
	Actor  string          `json:"actor" validate:"required,max=100"`
	Note   string          `json:"note" validate:"max=500"`
}

// AddStock credits on-hand stock outside of a goods receipt.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (Snapshot, error) {
	if err := s.validator.Struct(input); err != nil {
		return Snapshot{}, err
	}
	return s.post(ctx, input.ItemID, input.Quantity, input.Actor, input.Note, "stock:add")
}

// Adjust applies a signed correction to on-hand stock.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Snapshot, error) {
	if err := s.validator.Struct(input); err != nil {
		return Snapshot{}, err
	}
	if input.Delta.IsZero() {
		return Snapshot{}, shared.Invalid("delta must be non-zero")
	}
	return s.post(ctx, input.ItemID, input.Delta, input.Actor, input.Note, "stock:adjust")
}

func (s *Service) post(ctx context.Context, itemID int64, delta decimal.Decimal, actor, note, action string) (Snapshot, error) {
	if s.items != nil {
		if err := masterdata.CheckItems(ctx, s.items, []int64{itemID}); err != nil {
			return Snapshot{}, err
		}
	}
	ref := Ref{Type: MovementAdjust, Module: "stock", ID: actor, Note: note}
	var snap Snapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		snap, err = tx.Ledger().AdjustOnHand(ctx, itemID, delta, ref)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.recordAudit(ctx, actor, action, itemID, map[string]any{"delta": delta.String(), "note": note})
	NotifyChanged(ctx, s.notifier, s.logger, []int64{itemID})
	return snap, nil
}

// Get returns the position of an item; unknown items read as zero.
func (s *Service) Get(ctx context.Context, itemID int64) (Snapshot, error) {
	entry, err := s.repo.GetEntry(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	entry.ItemID = itemID
	return entry.Snapshot(), nil
}

// List returns every known position ordered by item id.
func (s *Service) List(ctx context.Context) ([]Snapshot, error) {
	entries, err := s.repo.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Snapshot())
	}
	return out, nil
}

// CheckAvailability returns one snapshot per requested id in request order.
func (s *Service) CheckAvailability(ctx context.Context, itemIDs []int64) ([]Snapshot, error) {
	entries, err := s.repo.EntriesFor(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(itemIDs))
	for _, id := range itemIDs {
		entry, ok := entries[id]
		if !ok {
			entry = Entry{ItemID: id}
		}
		out = append(out, entry.Snapshot())
	}
	return out, nil
}

// Movements returns the newest stock card rows for an item.
func (s *Service) Movements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = defaultMovementLimit
	}
	if limit > maxMovementLimit {
		limit = maxMovementLimit
	}
	return s.repo.ListMovements(ctx, itemID, limit)
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, itemID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "stock_entry",
		EntityID: strconv.FormatInt(itemID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", fmt.Errorf("stock: %w", err)))
	}
}
