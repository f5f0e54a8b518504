package requisition

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/plantops/plantstore/internal/shared"
)

// Status enumerates requisition states.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusPendingHOD          Status = "PENDING_HOD_APPROVAL"
	StatusRejectedByHOD       Status = "REJECTED_BY_HOD"
	StatusPendingPlantHead    Status = "PENDING_PLANT_HEAD_APPROVAL"
	StatusRejectedByPlantHead Status = "REJECTED_BY_PLANT_HEAD"
	StatusApproved            Status = "APPROVED"
	StatusCancelled           Status = "CANCELLED"
)

// Stage names the approver level of a decision.
type Stage string

const (
	StageHOD       Stage = "HOD"
	StagePlantHead Stage = "PLANT_HEAD"
)

// Action is a state machine input.
type Action string

const (
	ActionSubmit  Action = "SUBMIT"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionCancel  Action = "CANCEL"
)

type transitionKey struct {
	from   Status
	stage  Stage
	action Action
}

// Submit and cancel carry no stage.
var transitions = map[transitionKey]Status{
	{StatusDraft, "", ActionSubmit}:                         StatusPendingHOD,
	{StatusPendingHOD, StageHOD, ActionApprove}:             StatusPendingPlantHead,
	{StatusPendingHOD, StageHOD, ActionReject}:              StatusRejectedByHOD,
	{StatusPendingPlantHead, StagePlantHead, ActionApprove}: StatusApproved,
	{StatusPendingPlantHead, StagePlantHead, ActionReject}:  StatusRejectedByPlantHead,
	{StatusDraft, "", ActionCancel}:                         StatusCancelled,
	{StatusPendingHOD, "", ActionCancel}:                    StatusCancelled,
	{StatusPendingPlantHead, "", ActionCancel}:              StatusCancelled,
}

// Next returns the status reached from `from` by applying action at stage.
func Next(from Status, stage Stage, action Action) (Status, error) {
	to, ok := transitions[transitionKey{from: from, stage: stage, action: action}]
	if !ok {
		if stage == "" {
			return from, fmt.Errorf("%w: cannot %s a requisition in %s", shared.ErrInvalidTransition, action, from)
		}
		return from, fmt.Errorf("%w: cannot %s at %s stage a requisition in %s", shared.ErrInvalidTransition, action, stage, from)
	}
	return to, nil
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejectedByHOD, StatusRejectedByPlantHead, StatusApproved, StatusCancelled:
		return true
	}
	return false
}

// Statuses lists every status.
func Statuses() []Status {
	return []Status{
		StatusDraft, StatusPendingHOD, StatusRejectedByHOD, StatusPendingPlantHead,
		StatusRejectedByPlantHead, StatusApproved, StatusCancelled,
	}
}

// Requisition is an internal material request.
type Requisition struct {
	ID                 int64      `json:"id"`
	Number             string     `json:"number"`
	DepartmentID       int64      `json:"department_id"`
	RequestedBy        string     `json:"requested_by"`
	RequiredByDate     *time.Time `json:"required_by_date,omitempty"`
	Remarks            string     `json:"remarks,omitempty"`
	Status             Status     `json:"status"`
	HODDecidedBy       string     `json:"hod_decided_by,omitempty"`
	HODActionAt        *time.Time `json:"hod_action_at,omitempty"`
	PlantHeadDecidedBy string     `json:"plant_head_decided_by,omitempty"`
	PlantHeadActionAt  *time.Time `json:"plant_head_action_at,omitempty"`
	DecisionRemarks    string     `json:"decision_remarks,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Lines              []Line     `json:"lines"`
}

// Line is one requested item.
type Line struct {
	ID            int64           `json:"id"`
	RequisitionID int64           `json:"requisition_id"`
	ItemID        int64           `json:"item_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Purpose       string          `json:"purpose,omitempty"`
}

// FindLine returns the line with the given id.
func (r Requisition) FindLine(id int64) (Line, bool) {
	for _, l := range r.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return Line{}, false
}

// ItemIDs lists the line items in line order.
func (r Requisition) ItemIDs() []int64 {
	ids := make([]int64, 0, len(r.Lines))
	for _, l := range r.Lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}
