package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	filledMarketBody = `{"orderId":3865920,"symbol":"BTCUSDT","status":"FILLED","clientOrderId":"cli-1",
		"price":"0","avgPrice":"97854.30","origQty":"0.002","executedQty":"0.002","timeInForce":"GTC",
		"type":"MARKET","side":"BUY","updateTime":1700000000123}`

	balanceBody = `[{"accountAlias":"SgsR","asset":"USDT","balance":"15000.00","crossWalletBalance":"15000.0",
		"crossUnPnl":"0.0","availableBalance":"14804.29","maxWithdrawAmount":"14804.29","updateTime":1700000000000}]`

	exchangeInfoBody = `{"timezone":"UTC","serverTime":1700000000000,
		"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
			"pricePrecision":2,"quantityPrecision":3,
			"filters":[{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"}]}]}`
)

// fakeExchange serves the REST endpoints the CLI uses.
type fakeExchange struct {
	mu          sync.Mutex
	orderCalls  int
	orderStatus int
	orderBody   string
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/fapi/v1/ping":
		w.Write([]byte(`{}`))
	case "/fapi/v1/time":
		fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
	case "/fapi/v1/exchangeInfo":
		w.Write([]byte(exchangeInfoBody))
	case "/fapi/v2/balance":
		w.Write([]byte(balanceBody))
	case "/fapi/v1/order":
		f.mu.Lock()
		f.orderCalls++
		status, body := f.orderStatus, f.orderBody
		f.mu.Unlock()
		if status == 0 {
			status, body = http.StatusOK, filledMarketBody
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeExchange) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderCalls
}

// setup isolates the environment and working directory and starts a fake
// exchange.
func setup(t *testing.T) (*fakeExchange, *httptest.Server) {
	t.Helper()
	for _, k := range []string{
		"BINANCE_BASE_URL", "BINANCE_WS_URL", "BINANCE_TESTNET_API_KEY", "BINANCE_TESTNET_API_SECRET",
		"BINANCE_RECV_WINDOW_MS", "BINANCE_PROXY", "BINANCE_TRANSPORT_CONFIG", "BINANCE_TIMEOUT_MS",
		"BINANCE_MAX_READ_ATTEMPTS", "JOURNAL_PATH", "TIME_SYNC", "CLIENT_ORDER_IDS", "LOG_LEVEL", "LOG_DIR",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())

	fx := &fakeExchange{}
	srv := httptest.NewServer(fx)
	t.Cleanup(srv.Close)
	return fx, srv
}

type result struct {
	code   int
	stdout string
	stderr string
}

func invoke(stdin string, args ...string) result {
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func signedArgs(srv *httptest.Server, args ...string) []string {
	return append([]string{"--base-url", srv.URL, "--api-key", "key", "--api-secret", "secret"}, args...)
}

func TestRun_Usage(t *testing.T) {
	setup(t)

	r := invoke("")
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "Commands:")
	assert.Contains(t, r.stderr, "interactive")

	r = invoke("", "moon")
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, `unknown command "moon"`)

	assert.Equal(t, exitOK, invoke("", "-h").code)
	assert.Equal(t, exitUsage, invoke("", "--no-such-flag", "ping").code)
}

func TestRun_Ping(t *testing.T) {
	_, srv := setup(t)

	r := invoke("", "--base-url", srv.URL, "ping")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Ping OK")

	assert.Equal(t, exitUsage, invoke("", "--base-url", srv.URL, "ping", "extra").code)
}

func TestRun_TimeAndExchangeInfo(t *testing.T) {
	_, srv := setup(t)

	r := invoke("", "--base-url", srv.URL, "time")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Server time:")

	r = invoke("", "--base-url", srv.URL, "exchange-info")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "1 symbols")

	r = invoke("", "--base-url", srv.URL, "exchange-info", "--symbol", "btcusdt")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "quantity min=0.001")

	r = invoke("", "--base-url", srv.URL, "exchange-info", "--symbol", "DOGEUSDT")
	assert.Equal(t, exitError, r.code)
	assert.Contains(t, r.stderr, "DOGEUSDT is not listed")
}

func TestRun_SignedCommandNeedsCredentials(t *testing.T) {
	_, srv := setup(t)

	r := invoke("", "--base-url", srv.URL, "balance")
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "BINANCE_TESTNET_API_KEY")
}

func TestRun_Balance(t *testing.T) {
	_, srv := setup(t)

	r := invoke("", signedArgs(srv, "balance")...)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "USDT")
	assert.Contains(t, r.stdout, "available=14804.29")
}

func TestRun_PlaceAndJournal(t *testing.T) {
	fx, srv := setup(t)

	r := invoke("", signedArgs(srv, "place", "--symbol", "BTCUSDT", "--side", "BUY", "--type", "MARKET",
		"--quantity", "0.002")...)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Equal(t, 1, fx.calls())
	assert.Contains(t, r.stdout, "Order Request:")
	assert.Contains(t, r.stdout, "ORDER PLACED")
	assert.Contains(t, r.stdout, "3865920")

	r = invoke("", "journal", "-n", "5")
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "OUTCOME")
	assert.Contains(t, r.stdout, "placed")
	assert.Contains(t, r.stdout, "3865920")

	r = invoke("", signedArgs(srv, "reconcile")...)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "No unresolved orders.")
}

func TestRun_PlaceValidationFailsWithoutNetwork(t *testing.T) {
	fx, srv := setup(t)

	r := invoke("", signedArgs(srv, "place", "--symbol", "ETH", "--side", "BUY", "--type", "MARKET",
		"--quantity", "1")...)
	assert.Equal(t, exitError, r.code)
	assert.Contains(t, r.stderr, "Validation error")
	assert.Zero(t, fx.calls())
}

func TestRun_PlaceMissingFlag(t *testing.T) {
	fx, srv := setup(t)

	r := invoke("", signedArgs(srv, "place", "--symbol", "BTCUSDT", "--side", "BUY", "--type", "MARKET")...)
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "--quantity is required")
	assert.Zero(t, fx.calls())
}

func TestRun_PlaceRejected(t *testing.T) {
	fx, srv := setup(t)
	fx.orderStatus = http.StatusBadRequest
	fx.orderBody = `{"code":-2019,"msg":"Margin is insufficient."}`

	r := invoke("", signedArgs(srv, "place", "--symbol", "BTCUSDT", "--side", "BUY", "--type", "LIMIT",
		"--quantity", "1", "--price", "60000")...)
	assert.Equal(t, exitError, r.code)
	assert.Contains(t, r.stderr, "Exchange error (order_rejected): [-2019] Margin is insufficient.")
}

func TestRun_OrderAndCancel(t *testing.T) {
	_, srv := setup(t)

	r := invoke("", signedArgs(srv, "order", "--symbol", "BTCUSDT", "--id", "3865920")...)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "ORDER STATUS")

	r = invoke("", signedArgs(srv, "cancel", "--symbol", "BTCUSDT", "--client-id", "cli-1")...)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "ORDER CANCELED")

	r = invoke("", signedArgs(srv, "order", "--symbol", "BTCUSDT")...)
	assert.Equal(t, exitUsage, r.code)
}

func TestRun_Interactive(t *testing.T) {
	_, srv := setup(t)

	r := invoke("3\nq\n", signedArgs(srv, "interactive")...)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Main Menu:")
	assert.Contains(t, r.stdout, "Ping OK")
	assert.Contains(t, r.stdout, "Goodbye!")
}

func TestRun_InvalidConfig(t *testing.T) {
	setup(t)
	t.Setenv("BINANCE_RECV_WINDOW_MS", "0")

	r := invoke("", "ping")
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "BINANCE_RECV_WINDOW_MS")
}
