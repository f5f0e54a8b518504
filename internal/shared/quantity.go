package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of fractional digits stored for quantities,
// prices and amounts (NUMERIC(18,4)).
const QuantityScale = 4

var quantityLimit = decimal.New(1, 18-QuantityScale)

// CheckQuantity rejects values the database would round or refuse, so that
// the value checked is the value stored.
func CheckQuantity(field string, q decimal.Decimal) error {
	if !q.Truncate(QuantityScale).Equal(q) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", ErrValidation, field, QuantityScale)
	}
	if q.Abs().GreaterThanOrEqual(quantityLimit) {
		return fmt.Errorf("%w: %s must be below %s", ErrValidation, field, quantityLimit)
	}
	return nil
}
