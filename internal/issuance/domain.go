// Package issuance issues reserved stock to departments against approved
// requisitions and takes returned material back into the store.
package issuance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/requisition"
)

// IssueStatus tells whether a requisition has been fully served.
type IssueStatus string

const (
	IssueStatusPartial IssueStatus = "PARTIALLY_ISSUED"
	IssueStatusIssued  IssueStatus = "ISSUED"
)

// StoreIssue hands material to the requesting department.
type StoreIssue struct {
	ID            int64       `json:"id"`
	Number        string      `json:"number"`
	RequisitionID int64       `json:"requisition_id"`
	DepartmentID  int64       `json:"department_id"`
	IssuedBy      string      `json:"issued_by"`
	IssueDate     time.Time   `json:"issue_date"`
	Remarks       string      `json:"remarks,omitempty"`
	Status        IssueStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	Lines         []IssueLine `json:"lines"`
}

// IssueLine issues part of a requisition line.
type IssueLine struct {
	ID                int64           `json:"id"`
	IssueID           int64           `json:"issue_id"`
	RequisitionLineID int64           `json:"requisition_line_id"`
	ItemID            int64           `json:"item_id"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	IssuedQuantity    decimal.Decimal `json:"issued_quantity"`
}

// StoreReturn takes unused material back into stock.
type StoreReturn struct {
	ID           int64        `json:"id"`
	Number       string       `json:"number"`
	StoreIssueID *int64       `json:"store_issue_id,omitempty"`
	DepartmentID int64        `json:"department_id"`
	ReturnedBy   string       `json:"returned_by"`
	ReturnDate   time.Time    `json:"return_date"`
	Remarks      string       `json:"remarks,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Lines        []ReturnLine `json:"lines"`
}

// ReturnLine is one returned item.
type ReturnLine struct {
	ID               int64           `json:"id"`
	ReturnID         int64           `json:"return_id"`
	ItemID           int64           `json:"item_id"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
	Reason           string          `json:"reason,omitempty"`
}

// LineProgress compares requested and issued quantity of a requisition line.
type LineProgress struct {
	RequisitionLineID int64           `json:"requisition_line_id"`
	ItemID            int64           `json:"item_id"`
	Requested         decimal.Decimal `json:"requested"`
	Issued            decimal.Decimal `json:"issued"`
	Outstanding       decimal.Decimal `json:"outstanding"`
}

// IssueProgress summarises issues against a requisition.
type IssueProgress struct {
	RequisitionID int64              `json:"requisition_id"`
	Status        requisition.Status `json:"status"`
	Complete      bool               `json:"complete"`
	Lines         []LineProgress     `json:"lines"`
}

// ItemIDs lists the line items in line order.
func (i StoreIssue) ItemIDs() []int64 {
	ids := make([]int64, 0, len(i.Lines))
	for _, l := range i.Lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}

// ItemIDs lists the line items in line order.
func (r StoreReturn) ItemIDs() []int64 {
	ids := make([]int64, 0, len(r.Lines))
	for _, l := range r.Lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}

// Progress builds the per-line issue summary from cumulative issued quantities.
func Progress(req requisition.Requisition, issued map[int64]decimal.Decimal) IssueProgress {
	out := IssueProgress{RequisitionID: req.ID, Status: req.Status, Complete: true, Lines: make([]LineProgress, 0, len(req.Lines))}
	for _, l := range req.Lines {
		got := issued[l.ID]
		outstanding := l.Quantity.Sub(got)
		if outstanding.IsPositive() {
			out.Complete = false
		} else {
			outstanding = decimal.Zero
		}
		out.Lines = append(out.Lines, LineProgress{RequisitionLineID: l.ID, ItemID: l.ItemID, Requested: l.Quantity, Issued: got, Outstanding: outstanding})
	}
	return out
}
