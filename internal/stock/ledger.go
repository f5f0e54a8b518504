package stock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/shared"
)

// Store is the row store the ledger mutates inside the caller's transaction.
type Store interface {
	// GetEntryForUpdate locks and returns the item row. A missing row reads
	// as a zero entry.
	GetEntryForUpdate(ctx context.Context, itemID int64) (Entry, error)
	SaveEntry(ctx context.Context, entry Entry) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// Ledger applies stock mutations within a single unit of work.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger wraps a transaction-scoped store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// AdjustOnHand adds delta (positive or negative) to on-hand stock. A negative
// delta may only draw from available stock.
func (l *Ledger) AdjustOnHand(ctx context.Context, itemID int64, delta decimal.Decimal, ref Ref) (Snapshot, error) {
	if delta.IsZero() {
		return Snapshot{}, itemError(shared.ErrValidation, itemID, "adjustment must be non-zero")
	}
	if err := shared.CheckQuantity("quantity", delta); err != nil {
		return Snapshot{}, itemError(err, itemID, "")
	}
	entry, err := l.lock(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	next := entry.OnHand.Add(delta)
	if next.IsNegative() {
		return Snapshot{}, itemError(shared.ErrNegativeStock, itemID,
			fmt.Sprintf("on hand %s, change %s", entry.OnHand, delta))
	}
	if err := shared.CheckQuantity("on_hand", next); err != nil {
		return Snapshot{}, itemError(err, itemID, "")
	}
	if next.LessThan(entry.Reserved) {
		return Snapshot{}, itemError(shared.ErrInsufficientStock, itemID,
			fmt.Sprintf("available %s, change %s", entry.Available(), delta))
	}
	entry.OnHand = next
	kind := ref.Type
	if kind == "" {
		kind = MovementAdjust
	}
	return l.apply(ctx, entry, kind, delta, ref)
}

// Reserve earmarks qty of available stock.
func (l *Ledger) Reserve(ctx context.Context, itemID int64, qty decimal.Decimal, ref Ref) (Snapshot, error) {
	if err := positive(itemID, qty); err != nil {
		return Snapshot{}, err
	}
	entry, err := l.lock(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	if qty.GreaterThan(entry.Available()) {
		return Snapshot{}, itemError(shared.ErrInsufficientStock, itemID,
			fmt.Sprintf("available %s, requested %s", entry.Available(), qty))
	}
	entry.Reserved = entry.Reserved.Add(qty)
	return l.apply(ctx, entry, MovementReserve, qty, ref)
}

// Release returns qty of reserved stock to available.
func (l *Ledger) Release(ctx context.Context, itemID int64, qty decimal.Decimal, ref Ref) (Snapshot, error) {
	if err := positive(itemID, qty); err != nil {
		return Snapshot{}, err
	}
	entry, err := l.lock(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := release(&entry, qty, shared.ErrInvariantViolation); err != nil {
		return Snapshot{}, err
	}
	return l.apply(ctx, entry, MovementRelease, qty.Neg(), ref)
}

// Consume releases qty from the reservation and debits it from on-hand in a
// single write.
func (l *Ledger) Consume(ctx context.Context, itemID int64, qty decimal.Decimal, ref Ref) (Snapshot, error) {
	if err := positive(itemID, qty); err != nil {
		return Snapshot{}, err
	}
	entry, err := l.lock(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := release(&entry, qty, shared.ErrInsufficientReservation); err != nil {
		return Snapshot{}, err
	}
	entry.OnHand = entry.OnHand.Sub(qty)
	return l.apply(ctx, entry, MovementIssue, qty.Neg(), ref)
}

// Snapshot reads the item position, holding its row lock for the rest of the
// transaction.
func (l *Ledger) Snapshot(ctx context.Context, itemID int64) (Snapshot, error) {
	entry, err := l.lock(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	return entry.Snapshot(), nil
}

// ReserveLines reserves every line, locking rows in ascending item order.
func (l *Ledger) ReserveLines(ctx context.Context, lines []Line, ref Ref) error {
	return eachLine(lines, func(line Line) error {
		_, err := l.Reserve(ctx, line.ItemID, line.Quantity, ref)
		return err
	})
}

// ConsumeLines consumes every line, locking rows in ascending item order.
func (l *Ledger) ConsumeLines(ctx context.Context, lines []Line, ref Ref) error {
	return eachLine(lines, func(line Line) error {
		_, err := l.Consume(ctx, line.ItemID, line.Quantity, ref)
		return err
	})
}

// ReceiveLines credits on-hand for every line with a positive quantity.
func (l *Ledger) ReceiveLines(ctx context.Context, lines []Line, ref Ref) error {
	return eachLine(lines, func(line Line) error {
		if !line.Quantity.IsPositive() {
			return nil
		}
		_, err := l.AdjustOnHand(ctx, line.ItemID, line.Quantity, ref)
		return err
	})
}

func eachLine(lines []Line, fn func(Line) error) error {
	ordered := make([]Line, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ItemID < ordered[j].ItemID })
	for _, line := range ordered {
		if err := fn(line); err != nil {
			return shared.AtLine(err, line.Position, line.LineID)
		}
	}
	return nil
}

func (l *Ledger) lock(ctx context.Context, itemID int64) (Entry, error) {
	if itemID <= 0 {
		return Entry{}, shared.Invalid("item id required")
	}
	entry, err := l.store.GetEntryForUpdate(ctx, itemID)
	if err != nil {
		return Entry{}, err
	}
	entry.ItemID = itemID
	return entry, nil
}

func (l *Ledger) apply(ctx context.Context, entry Entry, kind MovementType, qty decimal.Decimal, ref Ref) (Snapshot, error) {
	if entry.Reserved.IsNegative() || entry.OnHand.LessThan(entry.Reserved) {
		return Snapshot{}, itemError(shared.ErrInvariantViolation, entry.ItemID,
			fmt.Sprintf("on hand %s, reserved %s", entry.OnHand, entry.Reserved))
	}
	now := l.now()
	entry.UpdatedAt = now
	if err := l.store.SaveEntry(ctx, entry); err != nil {
		return Snapshot{}, err
	}
	movement := Movement{
		ItemID:        entry.ItemID,
		Type:          kind,
		Quantity:      qty,
		OnHandAfter:   entry.OnHand,
		ReservedAfter: entry.Reserved,
		RefModule:     ref.Module,
		RefID:         ref.ID,
		Note:          ref.Note,
		CreatedAt:     now,
	}
	if err := l.store.InsertMovement(ctx, movement); err != nil {
		return Snapshot{}, err
	}
	return entry.Snapshot(), nil
}

func release(entry *Entry, qty decimal.Decimal, shortfall error) error {
	if qty.GreaterThan(entry.Reserved) {
		return itemError(shortfall, entry.ItemID, fmt.Sprintf("reserved %s, requested %s", entry.Reserved, qty))
	}
	entry.Reserved = entry.Reserved.Sub(qty)
	return nil
}

func positive(itemID int64, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return itemError(shared.ErrValidation, itemID, "quantity must be positive")
	}
	if err := shared.CheckQuantity("quantity", qty); err != nil {
		return itemError(err, itemID, "")
	}
	return nil
}

func itemError(err error, itemID int64, detail string) error {
	return &shared.LineError{Err: err, ItemID: itemID, Detail: detail}
}
