package mapping

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Class string

const (
	ClassAuth          Class = "auth"
	ClassRateLimit     Class = "rate_limit"
	ClassOrderRejected Class = "order_rejected"
	ClassUnknown       Class = "unknown"
)

// Sentinels for errors.Is against an *ExchangeError's class.
var (
	ErrAuth            = errors.New("exchange: authentication failed")
	ErrRateLimit       = errors.New("exchange: rate limited")
	ErrOrderRejected   = errors.New("exchange: order rejected")
	ErrUnknownExchange = errors.New("exchange: unclassified error")
)

// CodeNoSuchOrder is returned when querying or cancelling an order the
// exchange does not know.
const CodeNoSuchOrder = -2013

// ExchangeError is an error reported by the exchange itself: an error body
// or a non-2xx status.
type ExchangeError struct {
	Code       int
	Message    string
	HTTPStatus int
	Class      Class
	RetryAfter time.Duration
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s (HTTP %d, %s)", e.Code, e.Message, e.HTTPStatus, e.Class)
}

func (e *ExchangeError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Class == ClassAuth
	case ErrRateLimit:
		return e.Class == ClassRateLimit
	case ErrOrderRejected:
		return e.Class == ClassOrderRejected
	case ErrUnknownExchange:
		return e.Class == ClassUnknown
	}
	return false
}

// Classify buckets an exchange error code. When the body carried no code
// (code == 0) the HTTP status decides.
func Classify(code, httpStatus int) Class {
	switch code {
	case -1002, -1021, -1022, -2014, -2015:
		return ClassAuth
	case -1003, -1015:
		return ClassRateLimit
	}
	switch {
	case code <= -1100 && code >= -1199,
		code <= -2010 && code >= -2030,
		code <= -4000 && code >= -4999:
		return ClassOrderRejected
	}
	if code == 0 {
		switch httpStatus {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassAuth
		case http.StatusTooManyRequests, http.StatusTeapot:
			return ClassRateLimit
		}
	}
	return ClassUnknown
}

// MappingError means a successful response did not match the expected
// schema.
type MappingError struct {
	Endpoint string
	Field    string
	Err      error
}

func (e *MappingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("mapping %s: missing or invalid field %q", e.Endpoint, e.Field)
	}
	return fmt.Sprintf("mapping %s: %v", e.Endpoint, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }
