package menu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charleschow/futures-trading/internal/core/display"
	"github.com/charleschow/futures-trading/internal/core/trading"
	"github.com/charleschow/futures-trading/internal/telemetry"
)

// Trader is the subset of the execution service the menu drives.
type Trader interface {
	PlaceOrder(ctx context.Context, d trading.Draft) (trading.Result, error)
	Balance(ctx context.Context) (trading.BalanceView, error)
	Ping(ctx context.Context) error
	ServerTime(ctx context.Context) (trading.ServerTime, error)
}

type State int

const (
	StateMain State = iota
	StatePlaceOrder
	StateConfirm
	StateResult
	StateDone
)

func (s State) String() string {
	switch s {
	case StateMain:
		return "MAIN"
	case StatePlaceOrder:
		return "PLACE_ORDER"
	case StateConfirm:
		return "CONFIRM"
	case StateResult:
		return "RESULT"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// field is one prompt of the order form.
type field struct {
	label string
	def   string
	set   func(d *trading.Draft, v string)
	// skip hides the prompt given what has been entered so far.
	skip func(d trading.Draft) bool
}

func limitOnly(d trading.Draft) bool {
	return !strings.EqualFold(strings.TrimSpace(d.Type), string(trading.OrderTypeLimit))
}

var orderForm = []field{
	{label: "Symbol (e.g. BTCUSDT)", def: "BTCUSDT", set: func(d *trading.Draft, v string) { d.Symbol = v }},
	{label: "Side   [BUY / SELL]", def: "BUY", set: func(d *trading.Draft, v string) { d.Side = v }},
	{label: "Type   [MARKET / LIMIT]", def: "MARKET", set: func(d *trading.Draft, v string) { d.Type = v }},
	{label: "Quantity", set: func(d *trading.Draft, v string) { d.Quantity = v }},
	{label: "Price", set: func(d *trading.Draft, v string) { d.Price = v }, skip: limitOnly},
	{label: "Time in force [GTC / IOC / FOK / GTX]", def: "GTC",
		set: func(d *trading.Draft, v string) { d.TimeInForce = v }, skip: limitOnly},
}

// Machine is the interactive menu. It is driven one input line at a time by
// Handle and writes everything it shows to out. Not safe for concurrent use.
type Machine struct {
	trader Trader
	out    io.Writer
	now    func() time.Time

	state State
	draft trading.Draft
	field int
	// view renders the outcome shown on entering RESULT.
	view func(w io.Writer)
}

func NewMachine(trader Trader, out io.Writer) *Machine {
	return &Machine{trader: trader, out: out, now: time.Now, state: StateMain}
}

func (m *Machine) State() State { return m.state }

// Start prints the main menu.
func (m *Machine) Start() {
	m.enter(StateMain)
}

// Handle feeds one line of input to the current state. It returns false once
// the user has quit.
func (m *Machine) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	switch m.state {
	case StateMain:
		m.handleMain(ctx, line)
	case StatePlaceOrder:
		m.handleField(line)
	case StateConfirm:
		m.handleConfirm(ctx, line)
	case StateDone:
		return false
	}
	return m.state != StateDone
}

func (m *Machine) handleMain(ctx context.Context, choice string) {
	switch strings.ToLower(choice) {
	case "1":
		m.draft = trading.Draft{}
		m.field = 0
		fmt.Fprintf(m.out, "\n── Place New Order ──────────────────────────────\n")
		m.enter(StatePlaceOrder)
	case "2":
		view, err := m.trader.Balance(ctx)
		m.show(func(w io.Writer) { display.Balances(w, view) }, err)
	case "3":
		m.show(m.pingView(ctx))
	case "q", "quit", "exit":
		fmt.Fprintln(m.out, "  Goodbye!")
		m.enter(StateDone)
	default:
		fmt.Fprintln(m.out, "  Invalid choice. Try again.")
		m.enter(StateMain)
	}
}

func (m *Machine) pingView(ctx context.Context) (func(io.Writer), error) {
	sent := m.now()
	if err := m.trader.Ping(ctx); err != nil {
		return nil, err
	}
	rtt := m.now().Sub(sent)

	st, err := m.trader.ServerTime(ctx)
	if err != nil {
		return nil, err
	}
	offset := st.Time.Sub(m.now())
	return func(w io.Writer) {
		fmt.Fprintf(w, "Ping OK (%s)\n", rtt.Round(time.Millisecond))
		display.ServerTime(w, st, offset)
	}, nil
}

func (m *Machine) handleField(v string) {
	f := orderForm[m.field]
	if v == "" {
		v = f.def
	}
	f.set(&m.draft, v)
	m.field++
	m.enter(StatePlaceOrder)
}

func (m *Machine) handleConfirm(ctx context.Context, answer string) {
	switch strings.ToLower(answer) {
	case "y", "yes":
		res, err := m.trader.PlaceOrder(ctx, m.draft)
		m.show(func(w io.Writer) { display.OrderResult(w, "ORDER PLACED", res) }, err)
	default:
		fmt.Fprintln(m.out, "  Cancelled.")
		m.enter(StateMain)
	}
}

// show moves to RESULT with either the rendered view or the error.
func (m *Machine) show(view func(io.Writer), err error) {
	if err != nil {
		view = func(w io.Writer) { display.Error(w, err) }
	}
	m.view = view
	m.enter(StateResult)
}

// enter switches state and prints whatever the new state needs from the
// user. PLACE_ORDER advances past skipped fields and, once the form is
// complete, validates the draft locally before asking for confirmation.
// RESULT renders and falls straight back to MAIN.
func (m *Machine) enter(s State) {
	if s != m.state {
		telemetry.Debugf("menu: %s -> %s", m.state, s)
	}
	m.state = s

	switch s {
	case StateMain:
		fmt.Fprintf(m.out, "\nMain Menu:\n  [1] Place Order\n  [2] Check Balance\n  [3] Ping / Server Time\n  [q] Quit\n\n  Enter choice: ")
	case StatePlaceOrder:
		for m.field < len(orderForm) && orderForm[m.field].skip != nil && orderForm[m.field].skip(m.draft) {
			m.field++
		}
		if m.field < len(orderForm) {
			f := orderForm[m.field]
			if f.def != "" {
				fmt.Fprintf(m.out, "  %s [%s]: ", f.label, f.def)
			} else {
				fmt.Fprintf(m.out, "  %s: ", f.label)
			}
			return
		}
		req, err := trading.Validate(m.draft)
		if err != nil {
			fmt.Fprintln(m.out)
			m.show(nil, err)
			return
		}
		fmt.Fprintln(m.out, "\nSummary:")
		display.Draft(m.out, req)
		m.enter(StateConfirm)
	case StateConfirm:
		fmt.Fprint(m.out, "\nConfirm? [y/N]: ")
	case StateResult:
		fmt.Fprintln(m.out)
		m.view(m.out)
		m.view = nil
		m.enter(StateMain)
	}
}

// Run checks connectivity, then drives a Machine from in until the user
// quits, in is exhausted or ctx is done.
func Run(ctx context.Context, in io.Reader, out io.Writer, trader Trader) error {
	if _, err := trader.ServerTime(ctx); err != nil {
		return fmt.Errorf("connectivity check: %w", err)
	}
	fmt.Fprintln(out, "Connected to Binance Futures")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewMachine(trader, out)
	m.Start()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			if !m.Handle(ctx, line) {
				return nil
			}
		}
	}
}
