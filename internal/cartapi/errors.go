package cartapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/cartsync/internal/retry"
)

// HTTPError is a structured Cart API failure. It implements
// retry.StatusError so classification never inspects it directly.
//
// AvailableQuantity and CurrentPrice accompany INSUFFICIENT_STOCK and
// PRICE_CHANGED respectively.
type HTTPError struct {
	Status            int    `json:"-"`
	Code              string `json:"code,omitempty"`
	Message           string `json:"message,omitempty"`
	AvailableQuantity *int   `json:"available_quantity,omitempty"`
	CurrentPrice      *int64 `json:"current_price,omitempty"`
}

var _ retry.StatusError = (*HTTPError)(nil)

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("cart api: %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("cart api: %d: %s", e.Status, msg)
}

func (e *HTTPError) HTTPStatus() int   { return e.Status }
func (e *HTTPError) ErrorCode() string { return e.Code }

// Details extracts the correction hints carried by err, if any.
func Details(err error) (available *int, price *int64) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.AvailableQuantity, he.CurrentPrice
	}
	return nil, nil
}

// Error constructors used by the in-memory backend and tests.

func ErrProductUnavailable(productID string) *HTTPError {
	return &HTTPError{Status: http.StatusGone, Code: retry.CodeProductUnavailable, Message: "product " + productID + " is no longer available"}
}

func ErrInsufficientStock(productID string, available int) *HTTPError {
	return &HTTPError{Status: http.StatusConflict, Code: retry.CodeInsufficientStock, Message: "not enough stock for " + productID, AvailableQuantity: &available}
}

func ErrPriceChanged(productID string, current int64) *HTTPError {
	return &HTTPError{Status: http.StatusConflict, Code: retry.CodePriceChanged, Message: "price of " + productID + " changed", CurrentPrice: &current}
}

func ErrValidation(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusUnprocessableEntity, Code: retry.CodeValidation, Message: msg}
}

func ErrItemNotFound(key string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: retry.CodeItemNotFound, Message: "no cart line " + key}
}

func ErrTokenExpired() *HTTPError {
	return &HTTPError{Status: http.StatusUnauthorized, Code: retry.CodeTokenExpired, Message: "token expired"}
}

func ErrTokenInvalid() *HTTPError {
	return &HTTPError{Status: http.StatusUnauthorized, Code: retry.CodeTokenInvalid, Message: "token invalid"}
}

func ErrServerUnavailable() *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Message: "service unavailable"}
}
