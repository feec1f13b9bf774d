package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusError is implemented by errors that carry an HTTP-shaped response.
// The Cart API client's error type satisfies it; Classify does not depend on
// any concrete client.
type StatusError interface {
	error
	HTTPStatus() int
	ErrorCode() string
}

// Classify maps a raw error onto the taxonomy. It is the single place where
// error shapes are inspected; an already classified *Error is returned as is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var se StatusError
	if errors.As(err, &se) {
		status, code := se.HTTPStatus(), strings.ToUpper(se.ErrorCode())
		return &Error{
			Category: categoryForHTTP(status, code),
			Failure:  Failure{Kind: FailureHTTP, Status: status, Code: code},
			Err:      err,
		}
	}

	if errors.Is(err, ErrOffline) {
		return &Error{Category: CategoryNetworkUnavailable, Failure: Failure{Kind: FailureNetwork}, Err: err}
	}

	if isTimeout(err) {
		return &Error{Category: CategoryConnectionTimeout, Failure: Failure{Kind: FailureNetwork, Timeout: true}, Err: err}
	}

	if isConnectionFailure(err) {
		return &Error{Category: CategoryNetworkUnavailable, Failure: Failure{Kind: FailureNetwork}, Err: err}
	}

	return &Error{Category: CategoryUnknown, Failure: Failure{Kind: FailureUnknown}, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Machine-readable codes understood in Cart API error bodies. Codes take
// precedence over the status when both are present.
const (
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeProductUnavailable = "PRODUCT_UNAVAILABLE"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodePriceChanged       = "PRICE_CHANGED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeItemNotFound       = "ITEM_NOT_FOUND"
)

func categoryForHTTP(status int, code string) Category {
	switch code {
	case CodeTokenExpired:
		return CategoryTokenExpired
	case CodeTokenInvalid:
		return CategoryTokenInvalid
	case CodeUnauthorized:
		return CategoryUnauthorized
	case CodeProductUnavailable, "PRODUCT_NOT_FOUND":
		return CategoryProductUnavailable
	case CodeInsufficientStock, "OUT_OF_STOCK":
		return CategoryInsufficientStock
	case CodePriceChanged:
		return CategoryPriceChanged
	case CodeValidation, CodeItemNotFound:
		return CategoryValidationError
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CategoryUnauthorized
	case status == http.StatusGone:
		return CategoryProductUnavailable
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return CategoryConnectionTimeout
	case status == http.StatusTooManyRequests, status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return CategoryServerUnavailable
	case status >= 500:
		return CategoryInternalServerError
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return CategoryValidationError
	}
	return CategoryUnknown
}
