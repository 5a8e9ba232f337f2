package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrProductNotFound        = errors.New("product not found")
	ErrVariantNotFound        = errors.New("variant not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrOfferCapExceeded       = errors.New("offer unit cap exceeded")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidStateTransition = errors.New("invalid order state transition")
)

// InvalidInputf returns an error wrapping ErrInvalidInput with a formatted reason
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// LineItemError names the order line that caused a failure
type LineItemError struct {
	Index     int
	ProductID uuid.UUID
	Err       error
}

func (e *LineItemError) Error() string {
	return fmt.Sprintf("line %d (product %s): %v", e.Index, e.ProductID, e.Err)
}

func (e *LineItemError) Unwrap() error {
	return e.Err
}

// Reason returns a short machine-readable reason for the line failure
func (e *LineItemError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(e.Err, ErrVariantNotFound):
		return "variant_not_found"
	case errors.Is(e.Err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(e.Err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
