package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems              = errors.New("items required")
	ErrDeliveryAddressRequired = errors.New("delivery address required")
	ErrDishesUnavailable       = errors.New("one or more dishes unavailable")
	ErrNotFound                = errors.New("order not found")
	ErrClientNotFound          = errors.New("client not found")
	ErrAlreadyCancelled        = errors.New("order is already cancelled")
	ErrAlreadyDelivered        = errors.New("delivered order cannot be cancelled")
	// ErrStatusConflict is returned when the order changed status between read
	// and write.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	DishID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for dish %s", e.DishID)
}

// InvalidValueError indicates an unknown enum value in a request.
type InvalidValueError struct {
	Field string
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// InvalidTransitionError indicates a status jump outside the lifecycle.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// ForbiddenError indicates the actor may not perform the operation.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}
