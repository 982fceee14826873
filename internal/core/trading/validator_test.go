package trading

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func market(symbol, qty string) Draft {
	return Draft{Symbol: symbol, Side: "BUY", Type: "MARKET", Quantity: qty}
}

func ruleOf(t *testing.T, err error) Rule {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want *ValidationError, got %v", err)
	return ve.Rule
}

func TestValidate_MarketOrder(t *testing.T) {
	req, err := Validate(market("BTCUSDT", "0.002"))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", req.Symbol)
	assert.Equal(t, SideBuy, req.Side)
	assert.Equal(t, OrderTypeMarket, req.Type)
	assert.True(t, req.Quantity.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, req.Price.IsZero())
	assert.Empty(t, req.TimeInForce)
}

func TestValidate_Normalizes(t *testing.T) {
	req, err := Validate(Draft{Symbol: "  ethusdt ", Side: "sell", Type: "Limit", Quantity: "1", Price: "2500.5", TimeInForce: "ioc"})
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", req.Symbol)
	assert.Equal(t, SideSell, req.Side)
	assert.Equal(t, OrderTypeLimit, req.Type)
	assert.Equal(t, TimeInForceIOC, req.TimeInForce)
	assert.Equal(t, "2500.5", req.Price.String())
}

func TestValidate_FullWidthSymbol(t *testing.T) {
	req, err := Validate(market("ＢＴＣＵＳＤＴ", "1"))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", req.Symbol)
}

func TestValidate_Symbol(t *testing.T) {
	valid := []string{"BTCUSDT", "1000PEPEUSDT", "XUSDT", "ABCDEFGHIJKUSDT"}
	for _, s := range valid {
		_, err := Validate(market(s, "1"))
		assert.NoError(t, err, s)
	}

	invalid := []string{"", "ETH", "BTC", "USDT", "BTCBUSD", "BTC-USDT", "BTC/USDT", "ABCDEFGHIJKLUSDT", "BTCUSDTX"}
	for _, s := range invalid {
		_, err := Validate(market(s, "1"))
		require.Error(t, err, s)
		assert.Equal(t, RuleSymbol, ruleOf(t, err), s)
	}
}

func TestValidate_SideAndType(t *testing.T) {
	_, err := Validate(Draft{Symbol: "BTCUSDT", Side: "HOLD", Type: "MARKET", Quantity: "1"})
	assert.Equal(t, RuleSide, ruleOf(t, err))

	_, err = Validate(Draft{Symbol: "BTCUSDT", Side: "BUY", Type: "STOP", Quantity: "1"})
	assert.Equal(t, RuleType, ruleOf(t, err))
}

func TestValidate_Quantity(t *testing.T) {
	for _, q := range []string{"0", "-1", "-0.0001", "abc", "", "NaN", "1,5"} {
		_, err := Validate(market("BTCUSDT", q))
		require.Error(t, err, q)
		assert.Equal(t, RuleQuantity, ruleOf(t, err), q)
	}

	req, err := Validate(market("BTCUSDT", "0.00000001"))
	require.NoError(t, err)
	assert.Equal(t, "0.00000001", req.Quantity.String())
}

func TestValidate_LimitPrice(t *testing.T) {
	base := Draft{Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Quantity: "0.01"}

	for _, p := range []string{"", "   ", "0", "-100", "cheap"} {
		d := base
		d.Price = p
		_, err := Validate(d)
		require.Error(t, err, p)
		assert.Equal(t, RulePrice, ruleOf(t, err), p)
	}

	d := base
	d.Price = "90000"
	req, err := Validate(d)
	require.NoError(t, err)
	assert.Equal(t, TimeInForceGTC, req.TimeInForce)
	assert.True(t, req.IsLimit())
}

func TestValidate_MarketIgnoresPrice(t *testing.T) {
	d := market("BTCUSDT", "1")
	d.Price = "-5"
	d.TimeInForce = "bogus"

	req, err := Validate(d)
	require.NoError(t, err)
	assert.True(t, req.Price.IsZero())
	assert.Empty(t, req.TimeInForce)
}

func TestValidate_TimeInForce(t *testing.T) {
	d := Draft{Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Quantity: "1", Price: "1", TimeInForce: "DAY"}
	_, err := Validate(d)
	assert.Equal(t, RuleTimeInForce, ruleOf(t, err))

	for _, tif := range []string{"GTC", "IOC", "FOK", "GTX"} {
		d.TimeInForce = tif
		req, err := Validate(d)
		require.NoError(t, err, tif)
		assert.Equal(t, TimeInForce(tif), req.TimeInForce)
	}
}

func TestValidate_FirstFailureWins(t *testing.T) {
	_, err := Validate(Draft{Symbol: "ETH", Side: "HOLD", Type: "STOP", Quantity: "-1"})
	assert.Equal(t, RuleSymbol, ruleOf(t, err))

	_, err = Validate(Draft{Symbol: "ETHUSDT", Side: "HOLD", Type: "STOP", Quantity: "-1"})
	assert.Equal(t, RuleSide, ruleOf(t, err))

	_, err = Validate(Draft{Symbol: "ETHUSDT", Side: "BUY", Type: "LIMIT", Quantity: "0"})
	assert.Equal(t, RuleQuantity, ruleOf(t, err))
}

func TestValidationError_Message(t *testing.T) {
	_, err := Validate(market("ETH", "1"))
	assert.Equal(t, `invalid symbol "ETH": must be a USDT pair such as BTCUSDT`, err.Error())
}

func TestOrderStatus_Known(t *testing.T) {
	assert.True(t, StatusFilled.Known())
	assert.False(t, OrderStatus("EXPIRED_IN_MATCH").Known())
}

func TestBalanceView_NonZero(t *testing.T) {
	v := BalanceView{Assets: []AssetBalance{
		{Asset: "BNB", Balance: decimal.Zero},
		{Asset: "USDT", Balance: decimal.RequireFromString("15000")},
	}}
	nz := v.NonZero()
	require.Len(t, nz, 1)
	assert.Equal(t, "USDT", nz[0].Asset)

	_, ok := v.Asset("BTC")
	assert.False(t, ok)
}

func TestValidateOrderRef(t *testing.T) {
	sym, err := ValidateOrderRef(" btcusdt ", 42, "")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", sym)

	_, err = ValidateOrderRef("BTCUSDT", 0, "cli-1")
	assert.NoError(t, err)

	_, err = ValidateOrderRef("BTC", 42, "")
	assert.Equal(t, RuleSymbol, ruleOf(t, err))

	_, err = ValidateOrderRef("BTCUSDT", 0, "  ")
	assert.Equal(t, RuleOrderRef, ruleOf(t, err))

	_, err = ValidateOrderRef("BTCUSDT", -5, "")
	assert.Equal(t, RuleOrderRef, ruleOf(t, err))
}

func TestValidate_ClientOrderID(t *testing.T) {
	d := market("BTCUSDT", "1")
	d.ClientOrderID = " 3f2b9c1e-6a7d-4f1b-9e0a-2d6c8b7a5e41 "
	req, err := Validate(d)
	require.NoError(t, err)
	assert.Equal(t, "3f2b9c1e-6a7d-4f1b-9e0a-2d6c8b7a5e41", req.ClientOrderID)

	for _, bad := range []string{"has space", "0123456789012345678901234567890123456", "emoji🚀"} {
		d.ClientOrderID = bad
		_, err := Validate(d)
		assert.Equal(t, RuleClientID, ruleOf(t, err), bad)
	}
}
