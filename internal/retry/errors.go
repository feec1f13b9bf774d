package retry

import (
	"errors"
	"fmt"
)

// Category is one entry of the closed error taxonomy. Every failure seen by
// the sync engine maps to exactly one Category.
type Category string

const (
	CategoryNetworkUnavailable  Category = "NETWORK_UNAVAILABLE"
	CategoryConnectionTimeout   Category = "CONNECTION_TIMEOUT"
	CategoryServerUnavailable   Category = "SERVER_UNAVAILABLE"
	CategoryTokenExpired        Category = "TOKEN_EXPIRED"
	CategoryTokenInvalid        Category = "TOKEN_INVALID"
	CategoryUnauthorized        Category = "UNAUTHORIZED"
	CategoryProductUnavailable  Category = "PRODUCT_UNAVAILABLE"
	CategoryInsufficientStock   Category = "INSUFFICIENT_STOCK"
	CategoryPriceChanged        Category = "PRICE_CHANGED"
	CategoryValidationError     Category = "VALIDATION_ERROR"
	CategoryInternalServerError Category = "INTERNAL_SERVER_ERROR"
	CategoryUnknown             Category = "UNKNOWN"
)

// Categories lists the taxonomy in declaration order.
var Categories = []Category{
	CategoryNetworkUnavailable,
	CategoryConnectionTimeout,
	CategoryServerUnavailable,
	CategoryTokenExpired,
	CategoryTokenInvalid,
	CategoryUnauthorized,
	CategoryProductUnavailable,
	CategoryInsufficientStock,
	CategoryPriceChanged,
	CategoryValidationError,
	CategoryInternalServerError,
	CategoryUnknown,
}

// IsTransient reports whether c is a connectivity/server-side category that
// is retried transparently through the offline queue.
func (c Category) IsTransient() bool {
	switch c {
	case CategoryNetworkUnavailable, CategoryConnectionTimeout, CategoryServerUnavailable, CategoryInternalServerError:
		return true
	}
	return false
}

// IsBusinessRule reports whether c carries a mandated local correction.
func (c Category) IsBusinessRule() bool {
	switch c {
	case CategoryProductUnavailable, CategoryInsufficientStock, CategoryPriceChanged:
		return true
	}
	return false
}

// IsAuth reports whether c requires the user to authenticate again.
func (c Category) IsAuth() bool {
	return c == CategoryTokenInvalid || c == CategoryUnauthorized
}

// FailureKind tags the shape of a raw failure.
type FailureKind int

const (
	// FailureUnknown is any error that is neither a transport nor an HTTP failure.
	FailureUnknown FailureKind = iota
	// FailureNetwork is a transport-level failure: no response was received.
	FailureNetwork
	// FailureHTTP is a structured response from the server.
	FailureHTTP
)

func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network"
	case FailureHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Failure is the tagged union produced by Classify. Only the fields that
// belong to Kind are meaningful: Timeout for FailureNetwork, Status and Code
// for FailureHTTP.
type Failure struct {
	Kind    FailureKind
	Timeout bool
	Status  int
	Code    string
}

// Error is a classified failure. It is the only error shape downstream code
// inspects; raw transport and HTTP errors stay wrapped inside.
type Error struct {
	Category Category
	Failure  Failure
	Err      error
}

func (e *Error) Error() string {
	switch e.Failure.Kind {
	case FailureHTTP:
		if e.Failure.Code != "" {
			return fmt.Sprintf("%s (http %d %s): %v", e.Category, e.Failure.Status, e.Failure.Code, e.Err)
		}
		return fmt.Sprintf("%s (http %d): %v", e.Category, e.Failure.Status, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CategoryOf classifies err and returns its category. A nil error has no
// category and returns "".
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	return Classify(err).Category
}

// ErrOffline signals that the connectivity source reports no network. The
// coordinator returns it instead of attempting a call that cannot succeed.
var ErrOffline = errors.New("network unavailable")
