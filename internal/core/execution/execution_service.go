package execution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/charleschow/futures-trading/internal/adapters/binance_auth"
	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
	"github.com/charleschow/futures-trading/internal/core/mapping"
	"github.com/charleschow/futures-trading/internal/core/tracking"
	"github.com/charleschow/futures-trading/internal/core/trading"
	"github.com/charleschow/futures-trading/internal/telemetry"
)

const (
	defaultExchangeInfoTTL   = 5 * time.Minute
	exchangeInfoFetchTimeout = 30 * time.Second
)

var ErrNoJournal = errors.New("execution: no order journal configured")

// Service runs every exchange operation through the same pipeline:
// validate, sign, send, map. It is the only layer that logs the request
// lifecycle. Safe for concurrent use; calls are independent and unordered.
type Service struct {
	sender    Sender
	signer    RequestSigner
	journal   Journal
	clientIDs func() string
	infoTTL   time.Duration
	now       func() time.Time

	submitted *clientIDGuard

	infoMu    sync.RWMutex
	info      *trading.ExchangeInfo
	infoAt    time.Time
	infoGroup singleflight.Group
}

type Option func(*Service)

// WithJournal records every placement attempt in j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithClientIDs fills Request.ClientOrderID from gen when the caller left
// it empty, so a lost response can be reconciled later.
func WithClientIDs(gen func() string) Option {
	return func(s *Service) { s.clientIDs = gen }
}

func WithExchangeInfoTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.infoTTL = d
		}
	}
}

func NewService(sender Sender, signer RequestSigner, opts ...Option) *Service {
	s := &Service{
		sender:    sender,
		signer:    signer,
		infoTTL:   defaultExchangeInfoTTL,
		now:       time.Now,
		submitted: newClientIDGuard(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlaceOrder validates d, submits it once and maps the response. A
// validation failure never reaches the network. A *TransportError on this
// path means the order may or may not exist; use Reconcile or QueryOrder.
func (s *Service) PlaceOrder(ctx context.Context, d trading.Draft) (trading.Result, error) {
	c := s.begin(binance_http.EndpointPlaceOrder.Name)

	req, err := trading.Validate(d)
	if err != nil {
		telemetry.Metrics.OrderErrors.Inc()
		return trading.Result{}, c.fail(err)
	}
	if req.ClientOrderID == "" && s.clientIDs != nil {
		req.ClientOrderID = s.clientIDs()
	}
	if !s.submitted.Claim(req.ClientOrderID) {
		telemetry.Metrics.OrderErrors.Inc()
		return trading.Result{}, c.fail(&trading.ValidationError{Rule: trading.RuleClientID,
			Value: req.ClientOrderID, Reason: "already submitted in this session"})
	}
	c.advance(StageValidated)

	entryID := s.journalBegin(req)

	res, err := roundTrip(ctx, s, c, binance_http.EndpointPlaceOrder, orderParams(req), mapping.Order)
	if err != nil {
		telemetry.Metrics.OrderErrors.Inc()
		outcome := outcomeOf(err)
		if outcome == tracking.OutcomeFailed {
			s.submitted.Release(req.ClientOrderID)
		}
		s.journalComplete(entryID, outcome, nil, err)
		return trading.Result{}, err
	}

	fillFromRequest(&res, req)
	telemetry.Metrics.OrdersPlaced.Inc()
	s.journalComplete(entryID, tracking.OutcomePlaced, &res, nil)

	telemetry.Infof("execution: order placed id=%d client_id=%s %s %s %s qty=%s status=%s executed=%s avg=%s latency=%s",
		res.OrderID, res.ClientOrderID, res.Symbol, res.Side, res.Type, res.OrigQty, res.Status,
		res.ExecutedQty, res.AvgPrice, c.elapsed())
	return res, nil
}

// QueryOrder looks an order up by exchange id or client order id.
func (s *Service) QueryOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (trading.Result, error) {
	return s.orderByRef(ctx, binance_http.EndpointQueryOrder, symbol, orderID, clientOrderID)
}

// CancelOrder cancels an open order. Like placement it is attempted once.
func (s *Service) CancelOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) (trading.Result, error) {
	res, err := s.orderByRef(ctx, binance_http.EndpointCancelOrder, symbol, orderID, clientOrderID)
	if err == nil {
		telemetry.Infof("execution: order canceled id=%d %s status=%s", res.OrderID, res.Symbol, res.Status)
	}
	return res, err
}

func (s *Service) orderByRef(ctx context.Context, ep binance_http.Endpoint, symbol string, orderID int64, clientOrderID string) (trading.Result, error) {
	c := s.begin(ep.Name)

	sym, err := trading.ValidateOrderRef(symbol, orderID, clientOrderID)
	if err != nil {
		return trading.Result{}, c.fail(err)
	}
	c.advance(StageValidated)

	var p binance_auth.Params
	p.Add("symbol", sym)
	if orderID > 0 {
		p.Add("orderId", strconv.FormatInt(orderID, 10))
	}
	if clientOrderID != "" {
		p.Add("origClientOrderId", clientOrderID)
	}

	res, err := roundTrip(ctx, s, c, ep, p, mapping.Order)
	if err != nil {
		return trading.Result{}, err
	}
	if res.Symbol == "" {
		res.Symbol = sym
	}
	return res, nil
}

func (s *Service) Balance(ctx context.Context) (trading.BalanceView, error) {
	c := s.begin(binance_http.EndpointBalance.Name)
	c.advance(StageValidated)
	return roundTrip(ctx, s, c, binance_http.EndpointBalance, nil, mapping.Balance)
}

func (s *Service) Ping(ctx context.Context) error {
	c := s.begin(binance_http.EndpointPing.Name)
	c.advance(StageValidated)
	_, err := roundTrip(ctx, s, c, binance_http.EndpointPing, nil, func(raw *binance_http.RawResponse) (struct{}, error) {
		return struct{}{}, mapping.Ping(raw)
	})
	return err
}

func (s *Service) ServerTime(ctx context.Context) (trading.ServerTime, error) {
	c := s.begin(binance_http.EndpointServerTime.Name)
	c.advance(StageValidated)
	return roundTrip(ctx, s, c, binance_http.EndpointServerTime, nil, mapping.ServerTime)
}

// ExchangeInfo returns trading rules, cached for the configured TTL.
// Concurrent cache misses share one request.
func (s *Service) ExchangeInfo(ctx context.Context) (trading.ExchangeInfo, error) {
	s.infoMu.RLock()
	if s.info != nil && s.now().Sub(s.infoAt) < s.infoTTL {
		info := *s.info
		s.infoMu.RUnlock()
		return info, nil
	}
	s.infoMu.RUnlock()

	// The shared fetch is detached from the caller that started it; each
	// caller stops waiting when its own ctx ends.
	ch := s.infoGroup.DoChan(binance_http.EndpointExchangeInfo.Name, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeInfoFetchTimeout)
		defer cancel()

		c := s.begin(binance_http.EndpointExchangeInfo.Name)
		c.advance(StageValidated)
		info, err := roundTrip(fctx, s, c, binance_http.EndpointExchangeInfo, nil, mapping.ExchangeInfo)
		if err != nil {
			return nil, err
		}
		s.infoMu.Lock()
		s.info = &info
		s.infoAt = s.now()
		s.infoMu.Unlock()
		return info, nil
	})

	var r singleflight.Result
	select {
	case <-ctx.Done():
		return trading.ExchangeInfo{}, fmt.Errorf("exchange_info: %w", ctx.Err())
	case r = <-ch:
	}
	if r.Err != nil {
		return trading.ExchangeInfo{}, r.Err
	}
	v := r.Val
	if r.Shared {
		telemetry.Debugf("execution: exchange_info shared in-flight fetch")
	}
	return v.(trading.ExchangeInfo), nil
}

// SyncClock measures the offset between the local and exchange clocks and
// stores it in clock.
func (s *Service) SyncClock(ctx context.Context, clock *binance_auth.Clock) (time.Duration, error) {
	sent := clock.Local()
	st, err := s.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	offset := clock.Observe(sent, clock.Local(), st.Time)
	telemetry.Infof("execution: clock synced offset=%s", offset)
	return offset, nil
}

// Reconciliation is the result of checking one unresolved journal entry.
type Reconciliation struct {
	Entry   tracking.Entry
	Outcome tracking.Outcome
	Result  *trading.Result
	Err     error
}

// Reconcile looks up every pending or unknown journal entry by its client
// order id and records what the exchange reports. Entries without a client
// order id cannot be looked up and stay unresolved. It should not run
// while placements are in flight.
func (s *Service) Reconcile(ctx context.Context) ([]Reconciliation, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	entries, err := s.journal.Unresolved()
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	out := make([]Reconciliation, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		r := Reconciliation{Entry: e, Outcome: e.Outcome}
		if e.ClientOrderID == "" {
			r.Err = fmt.Errorf("journal entry %d has no client order id", e.ID)
			out = append(out, r)
			continue
		}

		res, err := s.QueryOrder(ctx, e.Symbol, 0, e.ClientOrderID)
		var xerr *mapping.ExchangeError
		switch {
		case err == nil:
			r.Outcome = tracking.OutcomePlaced
			r.Result = &res
		case errors.As(err, &xerr) && xerr.Code == mapping.CodeNoSuchOrder:
			r.Outcome = tracking.OutcomeNotFound
		default:
			r.Err = err
		}

		if r.Outcome != e.Outcome {
			if jerr := s.journal.Complete(e.ID, r.Outcome, r.Result, nil); jerr != nil {
				telemetry.Warnf("execution: reconcile entry %d: %v", e.ID, jerr)
			}
			telemetry.Infof("execution: reconciled client_id=%s %s -> %s", e.ClientOrderID, e.Outcome, r.Outcome)
		}
		out = append(out, r)
	}
	return out, nil
}

// roundTrip signs (for signed endpoints), sends and decodes one request,
// advancing c through the pipeline stages.
func roundTrip[T any](ctx context.Context, s *Service, c *call, ep binance_http.Endpoint,
	params binance_auth.Params, decode func(*binance_http.RawResponse) (T, error)) (T, error) {
	var zero T

	var q binance_http.Query = params
	if ep.Signed() {
		q = &signedQuery{signer: s.signer, params: params, first: s.signer.Sign(params)}
		c.advance(StageSigned)
	}
	telemetry.Debugf("execution: %s %s %s", ep.Method, ep.Path, params.Encode())

	c.advance(StageSent)
	raw, err := s.sender.Send(ctx, ep, q)
	if err != nil {
		return zero, c.fail(err)
	}
	if w := raw.UsedWeight(); w >= 0 {
		telemetry.Debugf("execution: %s HTTP %d used_weight=%d", ep.Name, raw.StatusCode, w)
	}

	v, err := decode(raw)
	if err != nil {
		return zero, c.fail(err)
	}
	c.advance(StageMapped)
	return v, nil
}

// signedQuery renders the request signed up front on the first attempt and
// re-signs on every retry, so each attempt carries a fresh timestamp.
type signedQuery struct {
	signer RequestSigner
	params binance_auth.Params
	first  binance_auth.SignedRequest
	used   bool
}

func (q *signedQuery) Encode() string {
	if !q.used {
		q.used = true
		return q.first.Encode()
	}
	return q.signer.Sign(q.params).Encode()
}

func orderParams(req trading.Request) binance_auth.Params {
	var p binance_auth.Params
	p.Add("symbol", req.Symbol)
	p.Add("side", string(req.Side))
	p.Add("type", string(req.Type))
	p.Add("quantity", req.Quantity.String())
	if req.IsLimit() {
		p.Add("price", req.Price.String())
		p.Add("timeInForce", string(req.TimeInForce))
	}
	p.Add("positionSide", "BOTH")
	if req.ReduceOnly {
		p.Add("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		p.Add("newClientOrderId", req.ClientOrderID)
	}
	return p
}

// fillFromRequest copies identifying fields the response left out.
func fillFromRequest(res *trading.Result, req trading.Request) {
	if res.Symbol == "" {
		res.Symbol = req.Symbol
	}
	if res.Side == "" {
		res.Side = req.Side
	}
	if res.Type == "" {
		res.Type = req.Type
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = req.ClientOrderID
	}
}

// outcomeOf decides the journal outcome of a failed placement.
func outcomeOf(err error) tracking.Outcome {
	var (
		terr *binance_http.TransportError
		xerr *mapping.ExchangeError
	)
	switch {
	case errors.As(err, &xerr):
		return tracking.OutcomeRejected
	case errors.As(err, &terr):
		if terr.Unsent() {
			return tracking.OutcomeFailed
		}
		return tracking.OutcomeUnknown
	}
	// mapping errors: the exchange answered 2xx but the body was unusable
	return tracking.OutcomeUnknown
}

func (s *Service) journalBegin(req trading.Request) int64 {
	if s.journal == nil {
		return 0
	}
	id, err := s.journal.Begin(req)
	if err != nil {
		telemetry.Warnf("execution: journal begin: %v", err)
		return 0
	}
	return id
}

func (s *Service) journalComplete(id int64, outcome tracking.Outcome, res *trading.Result, cause error) {
	if s.journal == nil || id == 0 {
		return
	}
	if err := s.journal.Complete(id, outcome, res, cause); err != nil {
		telemetry.Warnf("execution: journal complete %d: %v", id, err)
	}
}
