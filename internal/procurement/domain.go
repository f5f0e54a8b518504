package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// PRStatus is the purchase requisition status.
type PRStatus string

// PRStatusDraft is the only status this engine assigns to a PR.
const PRStatusDraft PRStatus = "DRAFT"

// POStatus is the purchase order status.
type POStatus string

const (
	POStatusOpen   POStatus = "OPEN"
	POStatusClosed POStatus = "CLOSED"
)

// GRNStatus is the goods receipt status.
type GRNStatus string

const GRNStatusReceived GRNStatus = "RECEIVED"

// PurchaseRequisition asks purchasing to buy items, optionally on behalf of an
// approved requisition.
type PurchaseRequisition struct {
	ID            int64     `json:"id"`
	Number        string    `json:"number"`
	RequisitionID *int64    `json:"requisition_id,omitempty"`
	DepartmentID  int64     `json:"department_id"`
	RequestedBy   string    `json:"requested_by"`
	Remarks       string    `json:"remarks,omitempty"`
	Status        PRStatus  `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	Lines         []PRLine  `json:"lines"`
}

// PRLine is a requested purchase quantity.
type PRLine struct {
	ID       int64           `json:"id"`
	PRID     int64           `json:"pr_id"`
	ItemID   int64           `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Purpose  string          `json:"purpose,omitempty"`
}

// PurchaseOrder commits a vendor to deliver PR quantities.
type PurchaseOrder struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"number"`
	PRID                 int64           `json:"pr_id"`
	VendorID             int64           `json:"vendor_id"`
	DepartmentID         int64           `json:"department_id"`
	CreatedBy            string          `json:"created_by"`
	OrderDate            time.Time       `json:"order_date"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
	Remarks              string          `json:"remarks,omitempty"`
	Status               POStatus        `json:"status"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	CreatedAt            time.Time       `json:"created_at"`
	Lines                []POLine        `json:"lines"`
}

// POLine orders part of a PR line at a unit price.
type POLine struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	PRLineID    int64           `json:"pr_line_id"`
	ItemID      int64           `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// GoodsReceipt records delivered quantities against a PO.
type GoodsReceipt struct {
	ID          int64     `json:"id"`
	Number      string    `json:"number"`
	POID        int64     `json:"po_id"`
	VendorID    int64     `json:"vendor_id"`
	ReceivedBy  string    `json:"received_by"`
	ReceiptDate time.Time `json:"receipt_date"`
	Remarks     string    `json:"remarks,omitempty"`
	Status      GRNStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Lines       []GRNLine `json:"lines"`
}

// GRNLine snapshots the ordered quantity next to what arrived.
type GRNLine struct {
	ID               int64           `json:"id"`
	GRNID            int64           `json:"grn_id"`
	POLineID         int64           `json:"po_line_id"`
	ItemID           int64           `json:"item_id"`
	OrderedQuantity  decimal.Decimal `json:"ordered_quantity"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
}

// LineProgress compares ordered and received quantities of one PO line.
type LineProgress struct {
	POLineID    int64           `json:"po_line_id"`
	ItemID      int64           `json:"item_id"`
	Ordered     decimal.Decimal `json:"ordered"`
	Received    decimal.Decimal `json:"received"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// POProgress summarises receipts against a purchase order.
type POProgress struct {
	POID   int64          `json:"po_id"`
	Status POStatus       `json:"status"`
	Lines  []LineProgress `json:"lines"`
}

// ItemIDs lists the line items in line order.
func (pr PurchaseRequisition) ItemIDs() []int64 {
	ids := make([]int64, 0, len(pr.Lines))
	for _, l := range pr.Lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}

// ItemIDs lists the line items in line order.
func (po PurchaseOrder) ItemIDs() []int64 {
	ids := make([]int64, 0, len(po.Lines))
	for _, l := range po.Lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}

// ItemIDs lists the line items in line order.
func (g GoodsReceipt) ItemIDs() []int64 {
	ids := make([]int64, 0, len(g.Lines))
	for _, l := range g.Lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}

// Progress builds the receipt summary from cumulative received quantities.
func (po PurchaseOrder) Progress(received map[int64]decimal.Decimal) POProgress {
	out := POProgress{POID: po.ID, Status: po.Status, Lines: make([]LineProgress, 0, len(po.Lines))}
	for _, l := range po.Lines {
		got := received[l.ID]
		outstanding := l.Quantity.Sub(got)
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		out.Lines = append(out.Lines, LineProgress{POLineID: l.ID, ItemID: l.ItemID, Ordered: l.Quantity, Received: got, Outstanding: outstanding})
	}
	return out
}

// FullyReceived reports whether every line has received at least its ordered quantity.
func (po PurchaseOrder) FullyReceived(received map[int64]decimal.Decimal) bool {
	for _, l := range po.Lines {
		if received[l.ID].LessThan(l.Quantity) {
			return false
		}
	}
	return true
}
