package mapping

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
	"github.com/charleschow/futures-trading/internal/core/trading"
)

func raw(endpoint string, status int, body string) *binance_http.RawResponse {
	return &binance_http.RawResponse{
		Endpoint:   endpoint,
		StatusCode: status,
		Header:     http.Header{},
		Body:       []byte(body),
	}
}

const filledMarketBody = `{
	"orderId": 3865920,
	"symbol": "BTCUSDT",
	"status": "FILLED",
	"clientOrderId": "web_abc123",
	"price": "0",
	"avgPrice": "97854.30",
	"origQty": "0.002",
	"executedQty": "0.002",
	"cumQuote": "195.70860",
	"timeInForce": "GTC",
	"type": "MARKET",
	"reduceOnly": false,
	"side": "BUY",
	"positionSide": "BOTH",
	"updateTime": 1700000000123
}`

func TestOrder_FilledMarket(t *testing.T) {
	res, err := Order(raw("place_order", http.StatusOK, filledMarketBody))
	require.NoError(t, err)

	assert.Equal(t, int64(3865920), res.OrderID)
	assert.Equal(t, trading.StatusFilled, res.Status)
	assert.True(t, res.OrigQty.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, res.ExecutedQty.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, res.AvgPrice.Equal(decimal.RequireFromString("97854.30")))
	assert.True(t, res.Price.IsZero())
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, trading.SideBuy, res.Side)
	assert.Equal(t, trading.OrderTypeMarket, res.Type)
	assert.Equal(t, "web_abc123", res.ClientOrderID)
	assert.Equal(t, time.UnixMilli(1700000000123), res.UpdateTime)
	assert.True(t, res.Filled())
}

func TestOrder_NewLimitWithoutAvgPrice(t *testing.T) {
	body := `{"orderId":42,"symbol":"BTCUSDT","status":"NEW","price":"60000.10",
		"origQty":"0.010","executedQty":"0","timeInForce":"GTC","type":"LIMIT","side":"SELL"}`

	res, err := Order(raw("place_order", http.StatusOK, body))
	require.NoError(t, err)

	assert.Equal(t, trading.StatusNew, res.Status)
	assert.True(t, res.AvgPrice.IsZero())
	assert.True(t, res.Price.Equal(decimal.RequireFromString("60000.1")))
	assert.True(t, res.UpdateTime.IsZero())
}

func TestOrder_UnknownStatusCarriedThrough(t *testing.T) {
	body := `{"orderId":1,"status":"EXPIRED_IN_MATCH","origQty":"1","executedQty":"0"}`

	res, err := Order(raw("query_order", http.StatusOK, body))
	require.NoError(t, err)
	assert.Equal(t, trading.OrderStatus("EXPIRED_IN_MATCH"), res.Status)
	assert.False(t, res.Status.Known())
}

func TestOrder_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		body  string
		field string
	}{
		{`{"status":"NEW","origQty":"1","executedQty":"0"}`, "orderId"},
		{`{"orderId":1,"origQty":"1","executedQty":"0"}`, "status"},
		{`{"orderId":1,"status":"NEW","executedQty":"0"}`, "origQty"},
		{`{"orderId":1,"status":"NEW","origQty":"1"}`, "executedQty"},
		{`{"orderId":1,"status":"NEW","origQty":"abc","executedQty":"0"}`, "origQty"},
		{`{"orderId":1,"status":"NEW","origQty":"1","executedQty":"0","avgPrice":"x"}`, "avgPrice"},
	}
	for _, tc := range cases {
		_, err := Order(raw("place_order", http.StatusOK, tc.body))

		var merr *MappingError
		require.True(t, errors.As(err, &merr), tc.body)
		assert.Equal(t, tc.field, merr.Field, tc.body)
		assert.Equal(t, "place_order", merr.Endpoint)
	}
}

func TestOrder_MalformedJSON(t *testing.T) {
	_, err := Order(raw("place_order", http.StatusOK, `{"orderId":`))

	var merr *MappingError
	require.True(t, errors.As(err, &merr))
	assert.Empty(t, merr.Field)
	assert.Error(t, merr.Unwrap())
}

func TestOrder_RejectedInvalidSymbol(t *testing.T) {
	_, err := Order(raw("place_order", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`))

	var eerr *ExchangeError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, -1121, eerr.Code)
	assert.Equal(t, "Invalid symbol.", eerr.Message)
	assert.Equal(t, http.StatusBadRequest, eerr.HTTPStatus)
	assert.Equal(t, ClassOrderRejected, eerr.Class)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.NotErrorIs(t, err, ErrAuth)
}

func TestCheckError_ErrorBodyWith200(t *testing.T) {
	err := CheckError(raw("place_order", http.StatusOK, `{"code":-2019,"msg":"Margin is insufficient."}`))

	var eerr *ExchangeError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, ClassOrderRejected, eerr.Class)
	assert.Equal(t, http.StatusOK, eerr.HTTPStatus)
}

func TestCheckError_NonNegativeCodeIsNotAnError(t *testing.T) {
	assert.NoError(t, CheckError(raw("cancel_order", http.StatusOK, `{"code":200,"msg":"success"}`)))
	assert.NoError(t, CheckError(raw("balance", http.StatusOK, `[]`)))
}

func TestCheckError_Classes(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   Class
		is     error
	}{
		{http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`, ClassAuth, ErrAuth},
		{http.StatusBadRequest, `{"code":-1022,"msg":"Signature for this request is not valid."}`, ClassAuth, ErrAuth},
		{http.StatusBadRequest, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`, ClassAuth, ErrAuth},
		{http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests."}`, ClassRateLimit, ErrRateLimit},
		{http.StatusTeapot, ``, ClassRateLimit, ErrRateLimit},
		{http.StatusForbidden, `<html>WAF</html>`, ClassAuth, ErrAuth},
		{http.StatusBadRequest, `{"code":-4164,"msg":"Order's notional must be no smaller than 100"}`, ClassOrderRejected, ErrOrderRejected},
		{http.StatusBadRequest, `{"code":-1000,"msg":"An unknown error occurred."}`, ClassUnknown, ErrUnknownExchange},
		{http.StatusNotFound, ``, ClassUnknown, ErrUnknownExchange},
	}
	for _, tc := range cases {
		err := CheckError(raw("place_order", tc.status, tc.body))

		var eerr *ExchangeError
		require.True(t, errors.As(err, &eerr), tc.body)
		assert.Equal(t, tc.want, eerr.Class, tc.body)
		assert.ErrorIs(t, err, tc.is, tc.body)
	}
}

func TestCheckError_MessageFallbacks(t *testing.T) {
	err := CheckError(raw("ping", http.StatusNotFound, ``))
	var eerr *ExchangeError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, "Not Found", eerr.Message)
	assert.Zero(t, eerr.Code)

	err = CheckError(raw("ping", http.StatusForbidden, `blocked`))
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, "blocked", eerr.Message)
}

func TestCheckError_RetryAfter(t *testing.T) {
	r := raw("balance", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests."}`)
	r.Header.Set("Retry-After", "30")

	err := CheckError(r)
	var eerr *ExchangeError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, 30*time.Second, eerr.RetryAfter)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassAuth, Classify(-1002, 401))
	assert.Equal(t, ClassAuth, Classify(-2014, 400))
	assert.Equal(t, ClassRateLimit, Classify(-1015, 400))
	assert.Equal(t, ClassOrderRejected, Classify(-1100, 400))
	assert.Equal(t, ClassOrderRejected, Classify(-1199, 400))
	assert.Equal(t, ClassOrderRejected, Classify(-2010, 400))
	assert.Equal(t, ClassOrderRejected, Classify(CodeNoSuchOrder, 400))
	assert.Equal(t, ClassOrderRejected, Classify(-4999, 400))
	assert.Equal(t, ClassUnknown, Classify(-1099, 400))
	assert.Equal(t, ClassUnknown, Classify(-5000, 400))
	assert.Equal(t, ClassUnknown, Classify(-1000, 401), "a code wins over the status")
}

func TestExchangeError_Message(t *testing.T) {
	e := &ExchangeError{Code: -1121, Message: "Invalid symbol.", HTTPStatus: 400, Class: ClassOrderRejected}
	assert.Equal(t, "exchange error -1121: Invalid symbol. (HTTP 400, order_rejected)", e.Error())
}

func TestServerTime(t *testing.T) {
	st, err := ServerTime(raw("server_time", http.StatusOK, `{"serverTime":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000), st.Time)

	_, err = ServerTime(raw("server_time", http.StatusOK, `{}`))
	var merr *MappingError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "serverTime", merr.Field)
}

func TestPing(t *testing.T) {
	assert.NoError(t, Ping(raw("ping", http.StatusOK, `{}`)))

	var merr *MappingError
	assert.True(t, errors.As(Ping(raw("ping", http.StatusOK, `[]`)), &merr))
}

func TestBalance(t *testing.T) {
	body := `[
		{"accountAlias":"SgsR","asset":"USDT","balance":"15000.00000000","crossWalletBalance":"15000.0",
		 "crossUnPnl":"0.0","availableBalance":"14804.29","maxWithdrawAmount":"14804.29",
		 "marginAvailable":true,"updateTime":1700000000000},
		{"accountAlias":"SgsR","asset":"BNB","balance":"0.00000000","availableBalance":"0"}
	]`

	view, err := Balance(raw("balance", http.StatusOK, body))
	require.NoError(t, err)
	require.Len(t, view.Assets, 2)

	usdt, ok := view.Asset("USDT")
	require.True(t, ok)
	assert.True(t, usdt.Balance.Equal(decimal.RequireFromString("15000")))
	assert.True(t, usdt.AvailableBalance.Equal(decimal.RequireFromString("14804.29")))
	assert.Equal(t, "SgsR", usdt.AccountAlias)
	assert.Len(t, view.NonZero(), 1)
}

func TestBalance_MissingField(t *testing.T) {
	_, err := Balance(raw("balance", http.StatusOK, `[{"asset":"USDT","balance":"1"}]`))

	var merr *MappingError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "[0].availableBalance", merr.Field)
}

func TestExchangeInfo(t *testing.T) {
	body := `{
		"timezone":"UTC","serverTime":1700000000000,"rateLimits":[],
		"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
			"pricePrecision":2,"quantityPrecision":3,
			"filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.10","minPrice":"556.80","maxPrice":"4529764"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"},
				{"filterType":"MIN_NOTIONAL","notional":"100"}
			]}]
	}`

	info, err := ExchangeInfo(raw("exchange_info", http.StatusOK, body))
	require.NoError(t, err)
	assert.Equal(t, "UTC", info.Timezone)

	btc, ok := info.Symbol("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 3, btc.QuantityPrecision)
	lot, ok := btc.Filter("LOT_SIZE")
	require.True(t, ok)
	assert.Equal(t, "0.001", lot.StepSize)
	notional, ok := btc.Filter("MIN_NOTIONAL")
	require.True(t, ok)
	assert.Equal(t, "100", notional.Notional)
}

func TestExchangeInfo_MissingSymbols(t *testing.T) {
	_, err := ExchangeInfo(raw("exchange_info", http.StatusOK, `{"timezone":"UTC"}`))
	var merr *MappingError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "symbols", merr.Field)

	_, err = ExchangeInfo(raw("exchange_info", http.StatusOK, `{"symbols":[{"status":"TRADING"}]}`))
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "symbols[0].symbol", merr.Field)
}
