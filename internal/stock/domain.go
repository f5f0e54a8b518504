package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType labels a ledger movement on the stock card.
type MovementType string

const (
	// MovementReceipt credits on-hand from a goods receipt.
	MovementReceipt MovementType = "RECEIPT"
	// MovementAdjust is a manual correction or addition.
	MovementAdjust MovementType = "ADJUST"
	// MovementReserve earmarks available stock for an approved requisition.
	MovementReserve MovementType = "RESERVE"
	// MovementRelease returns reserved stock to available.
	MovementRelease MovementType = "RELEASE"
	// MovementIssue consumes reserved stock.
	MovementIssue MovementType = "ISSUE"
	// MovementReturn credits on-hand from a store return.
	MovementReturn MovementType = "RETURN"
)

// Entry is the per-item stock position. 0 <= Reserved <= OnHand always holds.
type Entry struct {
	ItemID    int64
	OnHand    decimal.Decimal
	Reserved  decimal.Decimal
	UpdatedAt time.Time
}

// Available is on-hand stock not earmarked by a reservation.
func (e Entry) Available() decimal.Decimal {
	return e.OnHand.Sub(e.Reserved)
}

// Snapshot returns the read model of the entry.
func (e Entry) Snapshot() Snapshot {
	return Snapshot{ItemID: e.ItemID, OnHand: e.OnHand, Reserved: e.Reserved, Available: e.Available()}
}

// Snapshot is the externally visible stock position of an item.
type Snapshot struct {
	ItemID    int64           `json:"item_id"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}

// Movement is one append-only stock card row.
type Movement struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	Type          MovementType    `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	OnHandAfter   decimal.Decimal `json:"on_hand_after"`
	ReservedAfter decimal.Decimal `json:"reserved_after"`
	RefModule     string          `json:"ref_module,omitempty"`
	RefID         string          `json:"ref_id,omitempty"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Ref identifies the document behind a ledger mutation.
type Ref struct {
	// Type overrides the movement type recorded by AdjustOnHand.
	Type   MovementType
	Module string
	ID     string
	Note   string
}

// Line is a document line routed to the ledger.
type Line struct {
	// Position is the 1-based index of the line in the submitted document.
	Position int
	LineID   int64
	ItemID   int64
	Quantity decimal.Decimal
}
