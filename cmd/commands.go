package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/charleschow/futures-trading/internal/adapters/inbound/menu"
	"github.com/charleschow/futures-trading/internal/core/display"
	"github.com/charleschow/futures-trading/internal/core/execution"
	"github.com/charleschow/futures-trading/internal/core/trading"
)

type command struct {
	name    string
	summary string
	// signed commands need API credentials and sync the clock first.
	signed  bool
	journal bool
	run     func(ctx context.Context, a *app, args []string) error
}

func commandTable() []command {
	return []command{
		{name: "ping", summary: "test connectivity to the REST API", run: runPing},
		{name: "time", summary: "show exchange server time and local clock offset", run: runTime},
		{name: "exchange-info", summary: "list symbols, or trading rules with --symbol", run: runExchangeInfo},
		{name: "balance", summary: "show account balances", signed: true, run: runBalance},
		{name: "place", summary: "place a MARKET or LIMIT order", signed: true, journal: true, run: runPlace},
		{name: "order", summary: "query an order by --id or --client-id", signed: true, run: runOrder},
		{name: "cancel", summary: "cancel an open order by --id or --client-id", signed: true, run: runCancel},
		{name: "reconcile", summary: "resolve journal entries whose outcome is unknown", signed: true, journal: true, run: runReconcile},
		{name: "journal", summary: "show recent journal entries", journal: true, run: runJournal},
		{name: "interactive", summary: "launch the interactive menu", signed: true, journal: true, run: runInteractive},
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commandTable() {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// parse runs fs over args and turns failures into usage errors. Positional
// arguments are not accepted.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &usageError{}
	}
	if fs.NArg() > 0 {
		return usagef("unexpected argument %q", fs.Arg(0))
	}
	return nil
}

func runPing(ctx context.Context, a *app, args []string) error {
	if err := parse(a.flags("ping"), args); err != nil {
		return err
	}
	start := time.Now()
	if err := a.svc.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Ping OK: %s (%s)\n", a.cfg.BaseURL, time.Since(start).Round(time.Millisecond))
	return nil
}

func runTime(ctx context.Context, a *app, args []string) error {
	if err := parse(a.flags("time"), args); err != nil {
		return err
	}
	offset, err := a.svc.SyncClock(ctx, a.clock)
	if err != nil {
		return err
	}
	display.ServerTime(a.out, trading.ServerTime{Time: a.clock.Now()}, offset)
	return nil
}

func runExchangeInfo(ctx context.Context, a *app, args []string) error {
	fs := a.flags("exchange-info")
	symbol := fs.String("symbol", "", "show the trading rules of one symbol")
	if err := parse(fs, args); err != nil {
		return err
	}

	info, err := a.svc.ExchangeInfo(ctx)
	if err != nil {
		return err
	}
	if *symbol == "" {
		display.Symbols(a.out, info)
		return nil
	}
	s, ok := info.Symbol(trading.NormalizeSymbol(*symbol))
	if !ok {
		return fmt.Errorf("symbol %s is not listed", trading.NormalizeSymbol(*symbol))
	}
	display.Symbol(a.out, s)
	return nil
}

func runBalance(ctx context.Context, a *app, args []string) error {
	if err := parse(a.flags("balance"), args); err != nil {
		return err
	}
	view, err := a.svc.Balance(ctx)
	if err != nil {
		return err
	}
	display.Balances(a.out, view)
	return nil
}

func runPlace(ctx context.Context, a *app, args []string) error {
	fs := a.flags("place")
	var d trading.Draft
	fs.StringVar(&d.Symbol, "symbol", "", "trading pair, e.g. BTCUSDT (required)")
	fs.StringVar(&d.Side, "side", "", "BUY or SELL (required)")
	fs.StringVar(&d.Type, "type", "", "MARKET or LIMIT (required)")
	fs.StringVar(&d.Quantity, "quantity", "", "order quantity in base asset (required)")
	fs.StringVar(&d.Price, "price", "", "limit price, LIMIT orders only")
	fs.StringVar(&d.TimeInForce, "tif", "", "GTC, IOC, FOK or GTX, LIMIT orders only (default GTC)")
	fs.BoolVar(&d.ReduceOnly, "reduce-only", false, "only reduce an existing position")
	fs.StringVar(&d.ClientOrderID, "client-id", "", "client order id (generated when empty)")
	if err := parse(fs, args); err != nil {
		return err
	}
	for _, req := range []struct{ flag, v string }{
		{"symbol", d.Symbol}, {"side", d.Side}, {"type", d.Type}, {"quantity", d.Quantity},
	} {
		if req.v == "" {
			return usagef("--%s is required", req.flag)
		}
	}

	fmt.Fprintln(a.out, "Order Request:")
	fmt.Fprintf(a.out, "  Symbol    : %s\n  Side      : %s\n  Type      : %s\n  Quantity  : %s\n",
		d.Symbol, d.Side, d.Type, d.Quantity)
	if d.Price != "" {
		fmt.Fprintf(a.out, "  Price     : %s\n", d.Price)
	}
	fmt.Fprintln(a.out)

	res, err := a.svc.PlaceOrder(ctx, d)
	if err != nil {
		return err
	}
	display.OrderResult(a.out, "ORDER PLACED", res)
	return nil
}

// orderRefFlags registers the flags naming an existing order.
func orderRefFlags(fs *flag.FlagSet) (symbol *string, id *int64, clientID *string) {
	symbol = fs.String("symbol", "", "trading pair (required)")
	id = fs.Int64("id", 0, "exchange order id")
	clientID = fs.String("client-id", "", "client order id")
	return symbol, id, clientID
}

func runOrder(ctx context.Context, a *app, args []string) error {
	fs := a.flags("order")
	symbol, id, clientID := orderRefFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if *symbol == "" || (*id == 0 && *clientID == "") {
		return usagef("--symbol and one of --id or --client-id are required")
	}
	res, err := a.svc.QueryOrder(ctx, *symbol, *id, *clientID)
	if err != nil {
		return err
	}
	display.OrderResult(a.out, "ORDER STATUS", res)
	return nil
}

func runCancel(ctx context.Context, a *app, args []string) error {
	fs := a.flags("cancel")
	symbol, id, clientID := orderRefFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if *symbol == "" || (*id == 0 && *clientID == "") {
		return usagef("--symbol and one of --id or --client-id are required")
	}
	res, err := a.svc.CancelOrder(ctx, *symbol, *id, *clientID)
	if err != nil {
		return err
	}
	display.OrderResult(a.out, "ORDER CANCELED", res)
	return nil
}

func runReconcile(ctx context.Context, a *app, args []string) error {
	if err := parse(a.flags("reconcile"), args); err != nil {
		return err
	}
	recs, err := a.svc.Reconcile(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "No unresolved orders.")
		return nil
	}

	var failed int
	for _, r := range recs {
		display.JournalEntry(a.out, r.Entry)
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprint(a.out, "    still unresolved: ")
			display.Error(a.out, r.Err)
		case r.Result != nil:
			fmt.Fprintf(a.out, "    %s: order %d is %s\n", r.Outcome, r.Result.OrderID, r.Result.Status)
		default:
			fmt.Fprintf(a.out, "    %s\n", r.Outcome)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entries could not be reconciled", failed, len(recs))
	}
	return nil
}

func runJournal(_ context.Context, a *app, args []string) error {
	fs := a.flags("journal")
	n := fs.Int("n", 20, "number of recent entries to show")
	if err := parse(fs, args); err != nil {
		return err
	}
	if a.journal == nil {
		return execution.ErrNoJournal
	}
	entries, err := a.journal.Recent(*n)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSYMBOL\tSIDE\tTYPE\tQTY\tPRICE\tCLIENT ID\tOUTCOME\tORDER ID\tSTATUS")
	for _, e := range entries {
		orderID := ""
		if e.OrderID != 0 {
			orderID = fmt.Sprint(e.OrderID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Symbol, e.Side, e.Type,
			e.Quantity, e.Price, e.ClientOrderID, e.Outcome, orderID, e.Status)
	}
	return tw.Flush()
}

func runInteractive(ctx context.Context, a *app, args []string) error {
	if err := parse(a.flags("interactive"), args); err != nil {
		return err
	}
	return menu.Run(ctx, a.in, a.out, a.svc)
}
