package display

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
	"github.com/charleschow/futures-trading/internal/core/mapping"
	"github.com/charleschow/futures-trading/internal/core/tracking"
	"github.com/charleschow/futures-trading/internal/core/trading"
)

const (
	dividerHeavy = "========================================"
	dividerLight = "----------------------------------------"
)

// Draft renders a one-line confirmation prompt summary.
func Draft(w io.Writer, req trading.Request) {
	line := fmt.Sprintf("%s %s %s %s", req.Side, req.Type, req.Quantity, req.Symbol)
	if req.IsLimit() {
		line += fmt.Sprintf(" @ %s %s", req.Price, req.TimeInForce)
	}
	if req.ReduceOnly {
		line += " reduce-only"
	}
	fmt.Fprintf(w, "  %s\n", line)
}

// OrderResult renders an order as returned by place, query or cancel. The
// limit price is shown for LIMIT orders and the average price only once
// something has filled.
func OrderResult(w io.Writer, title string, res trading.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n  %s\n%s\n", dividerHeavy, title, dividerHeavy)
	row := func(label string, v any) { fmt.Fprintf(&b, "  %-14s: %v\n", label, v) }

	row("Order ID", res.OrderID)
	if res.ClientOrderID != "" {
		row("Client ID", res.ClientOrderID)
	}
	row("Symbol", res.Symbol)
	row("Side", res.Side)
	row("Type", res.Type)
	status := string(res.Status)
	if !res.Status.Known() {
		status += " (unrecognised)"
	}
	row("Status", status)
	row("Orig Qty", res.OrigQty)
	row("Executed Qty", res.ExecutedQty)
	if res.Type == trading.OrderTypeLimit {
		row("Limit Price", res.Price)
		if res.TimeInForce != "" {
			row("Time In Force", res.TimeInForce)
		}
	}
	if !res.AvgPrice.IsZero() {
		row("Avg Price", res.AvgPrice)
	}
	if !res.UpdateTime.IsZero() {
		row("Updated", res.UpdateTime.UTC().Format("2006-01-02 15:04:05.000 MST"))
	}
	fmt.Fprint(w, b.String())
}

// Balances lists assets with a non-zero balance.
func Balances(w io.Writer, view trading.BalanceView) {
	assets := view.NonZero()
	fmt.Fprintln(w, "Account Balances:")
	if len(assets) == 0 {
		fmt.Fprintln(w, "  (no funded assets)")
		return
	}
	for _, a := range assets {
		fmt.Fprintf(w, "  %-8s balance=%s available=%s unrealized=%s\n",
			a.Asset, a.Balance, a.AvailableBalance, a.CrossUnPnl)
	}
}

func ServerTime(w io.Writer, st trading.ServerTime, offset time.Duration) {
	fmt.Fprintf(w, "Server time: %s (offset %s)\n",
		st.Time.UTC().Format("2006-01-02 15:04:05.000 MST"), offset.Round(time.Millisecond))
}

// Symbol renders the trading rules of one symbol.
func Symbol(w io.Writer, s trading.SymbolInfo) {
	fmt.Fprintf(w, "%s  %s  base=%s quote=%s  pricePrecision=%d quantityPrecision=%d\n",
		s.Symbol, s.Status, s.BaseAsset, s.QuoteAsset, s.PricePrecision, s.QuantityPrecision)
	if f, ok := s.Filter("PRICE_FILTER"); ok {
		fmt.Fprintf(w, "    price    min=%s max=%s tick=%s\n", f.MinPrice, f.MaxPrice, f.TickSize)
	}
	if f, ok := s.Filter("LOT_SIZE"); ok {
		fmt.Fprintf(w, "    quantity min=%s max=%s step=%s\n", f.MinQty, f.MaxQty, f.StepSize)
	}
	if f, ok := s.Filter("MIN_NOTIONAL"); ok {
		fmt.Fprintf(w, "    notional min=%s\n", f.Notional)
	}
}

// Symbols prints a compact list, one symbol per line.
func Symbols(w io.Writer, info trading.ExchangeInfo) {
	fmt.Fprintf(w, "%d symbols (timezone %s)\n%s\n", len(info.Symbols), info.Timezone, dividerLight)
	for _, s := range info.Symbols {
		fmt.Fprintf(w, "  %-14s %s\n", s.Symbol, s.Status)
	}
}

func JournalEntry(w io.Writer, e tracking.Entry) {
	price := ""
	if e.Price != "" {
		price = " @ " + e.Price
	}
	fmt.Fprintf(w, "  #%d %s %s %s %s%s client_id=%s -> %s", e.ID, e.Side, e.Type, e.Quantity, e.Symbol,
		price, e.ClientOrderID, e.Outcome)
	if e.OrderID != 0 {
		fmt.Fprintf(w, " order_id=%d status=%s", e.OrderID, e.Status)
	}
	fmt.Fprintln(w)
}

// Error renders a failure with a label for its category.
func Error(w io.Writer, err error) {
	var (
		verr *trading.ValidationError
		xerr *mapping.ExchangeError
		terr *binance_http.TransportError
		merr *mapping.MappingError
	)
	switch {
	case errors.As(err, &verr):
		fmt.Fprintf(w, "Validation error: %s\n", verr)
	case errors.As(err, &xerr):
		fmt.Fprintf(w, "Exchange error (%s): [%d] %s\n", xerr.Class, xerr.Code, xerr.Message)
		if xerr.RetryAfter > 0 {
			fmt.Fprintf(w, "  retry after %s\n", xerr.RetryAfter)
		}
	case errors.As(err, &terr):
		fmt.Fprintf(w, "Transport error: %s\n", terr)
		if terr.Endpoint == binance_http.EndpointPlaceOrder.Name && !terr.Unsent() {
			fmt.Fprintln(w, "  The order may or may not have been placed; run reconcile or query it by client id.")
		}
	case errors.As(err, &merr):
		fmt.Fprintf(w, "Unexpected response: %s\n", merr)
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}
