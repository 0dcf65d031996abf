package exchange

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound means the exchange has no record of the order.
var ErrOrderNotFound = errors.New("exchange: order not found")

// RejectError is a definitive refusal: the order never reached the book.
type RejectError struct {
	Code       int64
	Message    string
	PriceDrift bool
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("exchange: rejected code=%d: %s", e.Code, e.Message)
}

type Outcome string

const (
	OutcomeRejected Outcome = "rejected"
	OutcomeNotFound Outcome = "not_found"
	OutcomeUnknown  Outcome = "unknown"
)

// Classify maps a gateway error onto the three outcomes the coordinator acts on.
func Classify(err error) (Outcome, *RejectError) {
	var rej *RejectError
	switch {
	case err == nil:
		return "", nil
	case errors.As(err, &rej):
		return OutcomeRejected, rej
	case errors.Is(err, ErrOrderNotFound):
		return OutcomeNotFound, nil
	default:
		return OutcomeUnknown, nil
	}
}
