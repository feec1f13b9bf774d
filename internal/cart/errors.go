package cart

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuantityLimitExceeded is returned when a line would hold more than
	// MaxQuantity units.
	ErrQuantityLimitExceeded = errors.New("quantity limit exceeded")

	// ErrItemNotFound is returned when an operation targets a key that is
	// not in the cart.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidItem is returned for structurally invalid items (empty
	// product id, negative price, non-positive quantity on insert).
	ErrInvalidItem = errors.New("invalid item")

	errDuplicateKey = fmt.Errorf("%w: duplicate key", ErrInvalidItem)
)

// ItemError attaches the offending key and quantity to a cart error.
// Use errors.Is against the sentinels above to branch on the cause.
type ItemError struct {
	Key      Key
	Quantity int
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("cart item %s (quantity %d): %v", e.Key, e.Quantity, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// ValidationErrors collects every invalid item found by Validate.
type ValidationErrors []*ItemError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d invalid cart item(s): %s", len(v), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual item errors to errors.Is / errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// IsQuantityLimit reports whether err is (or wraps) ErrQuantityLimitExceeded.
func IsQuantityLimit(err error) bool {
	return errors.Is(err, ErrQuantityLimitExceeded)
}

// IsNotFound reports whether err is (or wraps) ErrItemNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}
