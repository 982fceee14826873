package binance_http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindNetwork     Kind = "network"
	KindServer      Kind = "server" // 5xx, outcome unknown
	KindCanceled    Kind = "canceled"
	KindCircuitOpen Kind = "circuit_open"
	KindRateWait    Kind = "rate_wait"
)

// TransportError means no usable exchange response was received. For a
// write endpoint the request may still have been executed exchange-side.
type TransportError struct {
	Kind       Kind
	Endpoint   string
	Attempts   int
	StatusCode int
	Err        error
	// NotSent is set when the failure happened before any request reached
	// the network (limiter wait canceled, breaker open).
	NotSent bool
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transport: %s %s", e.Endpoint, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Unsent reports whether the exchange cannot have seen the request, so a
// failed write is known not to have executed.
func (e *TransportError) Unsent() bool {
	return e.NotSent || e.Kind == KindCircuitOpen || e.Kind == KindRateWait
}

// Retryable reports whether another attempt could succeed. Only consulted
// for idempotent endpoints.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindServer:
		return true
	}
	return false
}

// RawResponse is an HTTP response with a status below 500. Mapping it to a
// typed result or exchange error is left to the caller.
type RawResponse struct {
	Endpoint   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *RawResponse) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// UsedWeight returns the X-MBX-USED-WEIGHT-1M header, or -1.
func (r *RawResponse) UsedWeight() int {
	if r.Header == nil {
		return -1
	}
	n, err := strconv.Atoi(r.Header.Get("X-Mbx-Used-Weight-1m"))
	if err != nil {
		return -1
	}
	return n
}

// RetryAfter parses a Retry-After header given in seconds.
func (r *RawResponse) RetryAfter() time.Duration {
	if r.Header == nil {
		return 0
	}
	secs, err := strconv.Atoi(r.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
