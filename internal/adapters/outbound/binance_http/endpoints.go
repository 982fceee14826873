package binance_http

import "net/http"

type Security int

const (
	SecurityNone Security = iota
	SecuritySigned
)

// Endpoint describes one REST operation. Idempotent endpoints may be
// retried on transport failures; the rest are attempted exactly once.
type Endpoint struct {
	Name       string
	Method     string
	Path       string
	Security   Security
	Idempotent bool
}

func (e Endpoint) Signed() bool { return e.Security == SecuritySigned }

var (
	EndpointPing         = Endpoint{"ping", http.MethodGet, "/fapi/v1/ping", SecurityNone, true}
	EndpointServerTime   = Endpoint{"server_time", http.MethodGet, "/fapi/v1/time", SecurityNone, true}
	EndpointExchangeInfo = Endpoint{"exchange_info", http.MethodGet, "/fapi/v1/exchangeInfo", SecurityNone, true}
	EndpointBalance      = Endpoint{"balance", http.MethodGet, "/fapi/v2/balance", SecuritySigned, true}
	EndpointPlaceOrder   = Endpoint{"place_order", http.MethodPost, "/fapi/v1/order", SecuritySigned, false}
	EndpointQueryOrder   = Endpoint{"query_order", http.MethodGet, "/fapi/v1/order", SecuritySigned, true}
	EndpointCancelOrder  = Endpoint{"cancel_order", http.MethodDelete, "/fapi/v1/order", SecuritySigned, false}
)
