package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique key clash.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation marks malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition occurs when a document status disallows the action.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrMismatchedItem occurs when a line item differs from its parent line.
	ErrMismatchedItem = errors.New("item does not match referenced line")
	// ErrOverOrder occurs when ordered quantity would exceed the requisitioned quantity.
	ErrOverOrder = errors.New("ordered quantity exceeds purchase requisition line")
	// ErrOverReceipt occurs when received quantity would exceed the ordered quantity.
	ErrOverReceipt = errors.New("received quantity exceeds purchase order line")
	// ErrOverIssue occurs when issued quantity would exceed the requisition line.
	ErrOverIssue = errors.New("issued quantity exceeds requisition line")
	// ErrInsufficientStock occurs when available stock cannot cover a request.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientReservation occurs when reserved stock cannot cover a consumption.
	ErrInsufficientReservation = errors.New("insufficient reservation")
	// ErrNegativeStock occurs when on-hand quantity would drop below zero.
	ErrNegativeStock = errors.New("stock would become negative")
	// ErrInvariantViolation flags ledger misuse that correct callers never trigger.
	ErrInvariantViolation = errors.New("stock invariant violated")
	// ErrEmptyIssue occurs when no issue line carries a quantity.
	ErrEmptyIssue = errors.New("issue has no lines with quantity")
	// ErrEmptyReturn occurs when no return line carries a quantity.
	ErrEmptyReturn = errors.New("return has no lines with quantity")
	// ErrNumberTaken occurs when a generated document number already exists.
	ErrNumberTaken = fmt.Errorf("%w: document number taken", ErrDuplicate)
	// ErrConcurrentUpdate signals a serialization failure; the request may be resubmitted.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
)

// LineError pins an error to the document line or item that caused it.
type LineError struct {
	Err error
	// Line is the 1-based position in the submitted document, zero when unknown.
	Line   int
	LineID int64
	ItemID int64
	Detail string
}

func (e *LineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d", e.Line)
	} else {
		b.WriteString(" (")
	}
	if e.LineID > 0 {
		if e.Line > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "line_id %d", e.LineID)
	}
	if e.ItemID > 0 {
		if e.Line > 0 || e.LineID > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "item %d", e.ItemID)
	}
	b.WriteString(")")
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// AtLine returns err annotated with the document position. Existing LineError
// values keep their item and detail.
func AtLine(err error, line int, lineID int64) error {
	if err == nil {
		return nil
	}
	var le *LineError
	if errors.As(err, &le) {
		copied := *le
		if copied.Line == 0 {
			copied.Line = line
		}
		if copied.LineID == 0 {
			copied.LineID = lineID
		}
		return &copied
	}
	return &LineError{Err: err, Line: line, LineID: lineID}
}

// Invalid builds a validation error with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
