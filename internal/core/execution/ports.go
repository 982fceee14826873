package execution

import (
	"context"

	"github.com/charleschow/futures-trading/internal/adapters/binance_auth"
	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
	"github.com/charleschow/futures-trading/internal/core/tracking"
	"github.com/charleschow/futures-trading/internal/core/trading"
)

// Sender delivers one logical REST call. Satisfied by *binance_http.Client.
type Sender interface {
	Send(ctx context.Context, ep binance_http.Endpoint, q binance_http.Query) (*binance_http.RawResponse, error)
}

// RequestSigner stamps and signs a parameter list. Satisfied by
// *binance_auth.Signer.
type RequestSigner interface {
	Sign(params binance_auth.Params) binance_auth.SignedRequest
}

// Journal records placement attempts. Satisfied by *tracking.Store.
type Journal interface {
	Begin(req trading.Request) (int64, error)
	Complete(id int64, outcome tracking.Outcome, res *trading.Result, cause error) error
	Unresolved() ([]tracking.Entry, error)
}

var (
	_ Sender        = (*binance_http.Client)(nil)
	_ RequestSigner = (*binance_auth.Signer)(nil)
	_ Journal       = (*tracking.Store)(nil)
)
