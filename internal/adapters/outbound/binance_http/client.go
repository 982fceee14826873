package binance_http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"github.com/charleschow/futures-trading/internal/telemetry"
)

const (
	TestnetBaseURL = "https://testnet.binancefuture.com"
	MainnetBaseURL = "https://fapi.binance.com"

	apiKeyHeader = "X-MBX-APIKEY"
	maxBodyBytes = 16 << 20
)

// Query is anything that renders to a URL query string: plain Params for
// public endpoints, a signed request for signed ones. Encode is called once
// per attempt, so a retried signed request can carry a fresh timestamp.
type Query interface {
	Encode() string
}

type Options struct {
	Timeout         time.Duration
	MaxReadAttempts int
	BackoffMin      time.Duration
	BackoffMax      time.Duration

	ReadRPS    float64
	ReadBurst  int
	WriteRPS   float64
	WriteBurst int

	BreakerFailures uint32
	BreakerCooldown time.Duration

	// ProxyAddr is a SOCKS5 host:port or socks5:// URL.
	ProxyAddr string

	// HTTPClient replaces the client built from Timeout and ProxyAddr.
	HTTPClient *http.Client
}

func DefaultOptions() Options {
	return Options{
		Timeout:         5 * time.Second,
		MaxReadAttempts: 3,
		BackoffMin:      250 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		ReadRPS:         20,
		ReadBurst:       20,
		WriteRPS:        10,
		WriteBurst:      10,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Client sends requests to the Binance futures REST API. It holds the API
// key only; signing happens before Send. Safe for concurrent use.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	opts         Options
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey string, opts Options) (*Client, error) {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxReadAttempts <= 0 {
		opts.MaxReadAttempts = def.MaxReadAttempts
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = def.BackoffMin
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	if opts.ReadRPS <= 0 {
		opts.ReadRPS, opts.ReadBurst = def.ReadRPS, def.ReadBurst
	}
	if opts.WriteRPS <= 0 {
		opts.WriteRPS, opts.WriteBurst = def.WriteRPS, def.WriteBurst
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = def.BreakerCooldown
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
		if opts.ProxyAddr != "" {
			tr, err := socksTransport(opts.ProxyAddr)
			if err != nil {
				return nil, err
			}
			httpClient.Transport = tr
		}
	}

	failures := opts.BreakerFailures
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   httpClient,
		opts:         opts,
		readLimiter:  rate.NewLimiter(rate.Limit(opts.ReadRPS), max(opts.ReadBurst, 1)),
		writeLimiter: rate.NewLimiter(rate.Limit(opts.WriteRPS), max(opts.WriteBurst, 1)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "binance-fapi",
			MaxRequests: 1,
			Timeout:     opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				telemetry.Warnf("binance_http: circuit breaker %s %s -> %s", name, from, to)
			},
		}),
	}
	return c, nil
}

func socksTransport(addr string) (*http.Transport, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "socks5", Host: addr}
	}
	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer %s: %w", u.Host, err)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		tr.DialContext = cd.DialContext
	} else {
		tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return tr, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// Send performs one logical call. Idempotent endpoints are retried with
// exponential backoff on timeouts, connection failures and 5xx, up to
// MaxReadAttempts; everything else gets a single attempt. Responses below
// 500 are returned as-is, including exchange error bodies.
func (c *Client) Send(ctx context.Context, ep Endpoint, q Query) (*RawResponse, error) {
	attempts := 1
	if ep.Idempotent {
		attempts = c.opts.MaxReadAttempts
	}
	b := &backoff.Backoff{Min: c.opts.BackoffMin, Max: c.opts.BackoffMax, Factor: 2, Jitter: true}

	var lastErr *TransportError
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, terr := c.attempt(ctx, ep, q)
		if terr == nil {
			return resp, nil
		}
		terr.Attempts = attempt
		lastErr = terr
		if !terr.Retryable() || attempt == attempts {
			break
		}

		wait := b.Duration()
		telemetry.Metrics.RequestRetries.Inc()
		telemetry.Debugf("binance_http: %s attempt %d/%d failed (%s), retrying in %s",
			ep.Name, attempt, attempts, terr.Kind, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			telemetry.Metrics.TransportErrors.Inc()
			return nil, &TransportError{Kind: KindCanceled, Endpoint: ep.Name, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	telemetry.Metrics.TransportErrors.Inc()
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, ep Endpoint, q Query) (*RawResponse, *TransportError) {
	lim := c.readLimiter
	if ep.Method != http.MethodGet {
		lim = c.writeLimiter
	}
	waitStart := time.Now()
	if err := lim.Wait(ctx); err != nil {
		kind := KindRateWait
		if ctx.Err() != nil {
			kind = KindCanceled
		}
		return nil, &TransportError{Kind: kind, Endpoint: ep.Name, NotSent: true, Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	telemetry.Metrics.RateLimiterWait.Record(time.Since(waitStart))

	u := c.baseURL + ep.Path
	if q != nil {
		if enc := q.Encode(); enc != "" {
			u += "?" + enc
		}
	}
	req, err := http.NewRequestWithContext(ctx, ep.Method, u, nil)
	if err != nil {
		return nil, &TransportError{Kind: KindNetwork, Endpoint: ep.Name, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	var raw *RawResponse
	start := time.Now()
	telemetry.Metrics.RequestsSent.Inc()
	telemetry.Metrics.InFlight.Inc()
	_, err = c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		raw = &RawResponse{
			Endpoint:   ep.Name,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errServerStatus
		}
		return nil, nil
	})
	telemetry.Metrics.InFlight.Dec()
	telemetry.Metrics.RequestLatency.Record(time.Since(start))

	if err == nil {
		if w := raw.UsedWeight(); w >= 0 {
			telemetry.Debugf("binance_http: %s used weight %d", ep.Name, w)
		}
		return raw, nil
	}
	return nil, classify(ctx, ep, raw, err)
}

var errServerStatus = errors.New("server error status")

func classify(ctx context.Context, ep Endpoint, raw *RawResponse, err error) *TransportError {
	terr := &TransportError{Endpoint: ep.Name, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		terr.Kind = KindCircuitOpen
		terr.NotSent = true
	case ctx.Err() != nil:
		terr.Kind = KindCanceled
		terr.Err = ctx.Err()
	case errors.Is(err, errServerStatus) && raw != nil:
		terr.Kind = KindServer
		terr.StatusCode = raw.StatusCode
		terr.Err = nil
		if body := truncate(raw.Body, 200); body != "" {
			terr.Err = errors.New(body)
		}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		terr.Kind = KindTimeout
	default:
		terr.Kind = KindNetwork
	}
	return terr
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
