package httpx

import (
	"errors"
	"net/http"

	"github.com/plantops/plantstore/internal/shared"
)

type problemKind struct {
	err    error
	status int
	title  string
	code   string
}

var problemKinds = []problemKind{
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed", "VALIDATION_ERROR"},
	{shared.ErrEmptyIssue, http.StatusBadRequest, "Empty Issue", "EMPTY_ISSUE"},
	{shared.ErrEmptyReturn, http.StatusBadRequest, "Empty Return", "EMPTY_RETURN"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found", "NOT_FOUND"},
	{shared.ErrDuplicate, http.StatusConflict, "Duplicate", "DUPLICATE"},
	{shared.ErrInvalidTransition, http.StatusConflict, "Invalid State Transition", "INVALID_STATE_TRANSITION"},
	{shared.ErrConcurrentUpdate, http.StatusConflict, "Concurrent Update", "CONCURRENT_UPDATE"},
	{shared.ErrIdempotencyConflict, http.StatusConflict, "Already Processed", "IDEMPOTENCY_CONFLICT"},
	{shared.ErrMismatchedItem, http.StatusUnprocessableEntity, "Mismatched Item", "MISMATCHED_ITEM"},
	{shared.ErrOverOrder, http.StatusUnprocessableEntity, "Over Order", "OVER_ORDER"},
	{shared.ErrOverReceipt, http.StatusUnprocessableEntity, "Over Receipt", "OVER_RECEIPT"},
	{shared.ErrOverIssue, http.StatusUnprocessableEntity, "Over Issue", "OVER_ISSUE"},
	{shared.ErrInsufficientStock, http.StatusUnprocessableEntity, "Insufficient Stock", "INSUFFICIENT_STOCK"},
	{shared.ErrInsufficientReservation, http.StatusUnprocessableEntity, "Insufficient Reservation", "INSUFFICIENT_RESERVATION"},
	{shared.ErrNegativeStock, http.StatusUnprocessableEntity, "Negative Stock", "NEGATIVE_STOCK"},
	{shared.ErrInvariantViolation, http.StatusInternalServerError, "Invariant Violation", "INVARIANT_VIOLATION"},
}

// ProblemFor maps an error onto the problem document the API returns.
func ProblemFor(err error) ProblemDetail {
	p := ProblemDetail{Status: http.StatusInternalServerError, Title: "Internal Error", Code: "INTERNAL"}
	for _, kind := range problemKinds {
		if errors.Is(err, kind.err) {
			p = ProblemDetail{Status: kind.status, Title: kind.title, Code: kind.code, Detail: err.Error()}
			break
		}
	}
	var le *shared.LineError
	if errors.As(err, &le) {
		p.Line = le.Line
		p.LineID = le.LineID
		p.ItemID = le.ItemID
	}
	return p
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	writeProblem(w, ProblemFor(err))
}
