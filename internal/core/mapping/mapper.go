package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/charleschow/futures-trading/internal/adapters/outbound/binance_http"
	"github.com/charleschow/futures-trading/internal/core/trading"
)

// CheckError returns an *ExchangeError when the response is non-2xx or
// carries a negative {code, msg} body, and nil otherwise.
func CheckError(raw *binance_http.RawResponse) error {
	var body struct {
		Code *int    `json:"code"`
		Msg  *string `json:"msg"`
	}
	trimmed := bytes.TrimSpace(raw.Body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		_ = json.Unmarshal(trimmed, &body)
	}

	coded := body.Code != nil && body.Msg != nil && *body.Code < 0
	if raw.OK() && !coded {
		return nil
	}

	e := &ExchangeError{HTTPStatus: raw.StatusCode, RetryAfter: raw.RetryAfter()}
	if body.Code != nil {
		e.Code = *body.Code
	}
	switch {
	case body.Msg != nil:
		e.Message = *body.Msg
	case len(trimmed) > 0:
		e.Message = string(trimmed)
	default:
		e.Message = http.StatusText(raw.StatusCode)
	}
	e.Class = Classify(e.Code, raw.StatusCode)
	return e
}

func decode(raw *binance_http.RawResponse, v any) error {
	if err := CheckError(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw.Body, v); err != nil {
		return &MappingError{Endpoint: raw.Endpoint, Err: err}
	}
	return nil
}

// Ping accepts any JSON object.
func Ping(raw *binance_http.RawResponse) error {
	var v map[string]json.RawMessage
	return decode(raw, &v)
}

func ServerTime(raw *binance_http.RawResponse) (trading.ServerTime, error) {
	var body struct {
		ServerTime *int64 `json:"serverTime"`
	}
	if err := decode(raw, &body); err != nil {
		return trading.ServerTime{}, err
	}
	if body.ServerTime == nil {
		return trading.ServerTime{}, &MappingError{Endpoint: raw.Endpoint, Field: "serverTime"}
	}
	return trading.ServerTime{Time: time.UnixMilli(*body.ServerTime)}, nil
}

type orderBody struct {
	OrderID       *int64  `json:"orderId"`
	ClientOrderID string  `json:"clientOrderId"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Status        *string `json:"status"`
	TimeInForce   string  `json:"timeInForce"`
	Price         string  `json:"price"`
	OrigQty       *string `json:"origQty"`
	ExecutedQty   *string `json:"executedQty"`
	AvgPrice      string  `json:"avgPrice"`
	UpdateTime    int64   `json:"updateTime"`
}

// Order maps a place, query or cancel response. orderId, status, origQty
// and executedQty are required; symbol, side and type may be absent and
// are left empty.
func Order(raw *binance_http.RawResponse) (trading.Result, error) {
	var body orderBody
	if err := decode(raw, &body); err != nil {
		return trading.Result{}, err
	}
	missing := func(field string) (trading.Result, error) {
		return trading.Result{}, &MappingError{Endpoint: raw.Endpoint, Field: field}
	}
	if body.OrderID == nil {
		return missing("orderId")
	}
	if body.Status == nil || *body.Status == "" {
		return missing("status")
	}
	if body.OrigQty == nil {
		return missing("origQty")
	}
	if body.ExecutedQty == nil {
		return missing("executedQty")
	}

	fields := decimalFields{endpoint: raw.Endpoint}
	res := trading.Result{
		OrderID:       *body.OrderID,
		ClientOrderID: body.ClientOrderID,
		Symbol:        body.Symbol,
		Side:          trading.Side(body.Side),
		Type:          trading.OrderType(body.Type),
		Status:        trading.OrderStatus(*body.Status),
		TimeInForce:   trading.TimeInForce(body.TimeInForce),
		OrigQty:       fields.required("origQty", *body.OrigQty),
		ExecutedQty:   fields.required("executedQty", *body.ExecutedQty),
		Price:         fields.optional("price", body.Price),
		AvgPrice:      fields.optional("avgPrice", body.AvgPrice),
	}
	if body.UpdateTime > 0 {
		res.UpdateTime = time.UnixMilli(body.UpdateTime)
	}
	if fields.err != nil {
		return trading.Result{}, fields.err
	}
	return res, nil
}

type balanceEntry struct {
	AccountAlias       string  `json:"accountAlias"`
	Asset              *string `json:"asset"`
	Balance            *string `json:"balance"`
	CrossWalletBalance string  `json:"crossWalletBalance"`
	CrossUnPnl         string  `json:"crossUnPnl"`
	AvailableBalance   *string `json:"availableBalance"`
	MaxWithdrawAmount  string  `json:"maxWithdrawAmount"`
	UpdateTime         int64   `json:"updateTime"`
}

func Balance(raw *binance_http.RawResponse) (trading.BalanceView, error) {
	var entries []balanceEntry
	if err := decode(raw, &entries); err != nil {
		return trading.BalanceView{}, err
	}

	view := trading.BalanceView{Assets: make([]trading.AssetBalance, 0, len(entries))}
	for i, e := range entries {
		switch {
		case e.Asset == nil || *e.Asset == "":
			return trading.BalanceView{}, &MappingError{Endpoint: raw.Endpoint, Field: fmt.Sprintf("[%d].asset", i)}
		case e.Balance == nil:
			return trading.BalanceView{}, &MappingError{Endpoint: raw.Endpoint, Field: fmt.Sprintf("[%d].balance", i)}
		case e.AvailableBalance == nil:
			return trading.BalanceView{}, &MappingError{Endpoint: raw.Endpoint, Field: fmt.Sprintf("[%d].availableBalance", i)}
		}

		fields := decimalFields{endpoint: raw.Endpoint}
		ab := trading.AssetBalance{
			AccountAlias:       e.AccountAlias,
			Asset:              *e.Asset,
			Balance:            fields.required("balance", *e.Balance),
			AvailableBalance:   fields.required("availableBalance", *e.AvailableBalance),
			CrossWalletBalance: fields.optional("crossWalletBalance", e.CrossWalletBalance),
			CrossUnPnl:         fields.optional("crossUnPnl", e.CrossUnPnl),
			MaxWithdrawAmount:  fields.optional("maxWithdrawAmount", e.MaxWithdrawAmount),
		}
		if e.UpdateTime > 0 {
			ab.UpdateTime = time.UnixMilli(e.UpdateTime)
		}
		if fields.err != nil {
			return trading.BalanceView{}, fields.err
		}
		view.Assets = append(view.Assets, ab)
	}
	return view, nil
}

type filterBody struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
	MinPrice   string `json:"minPrice"`
	MaxPrice   string `json:"maxPrice"`
	Notional   string `json:"notional"`
}

type symbolBody struct {
	Symbol            *string      `json:"symbol"`
	Status            string       `json:"status"`
	BaseAsset         string       `json:"baseAsset"`
	QuoteAsset        string       `json:"quoteAsset"`
	PricePrecision    int          `json:"pricePrecision"`
	QuantityPrecision int          `json:"quantityPrecision"`
	Filters           []filterBody `json:"filters"`
}

func ExchangeInfo(raw *binance_http.RawResponse) (trading.ExchangeInfo, error) {
	var body struct {
		Timezone   string        `json:"timezone"`
		ServerTime int64         `json:"serverTime"`
		Symbols    *[]symbolBody `json:"symbols"`
	}
	if err := decode(raw, &body); err != nil {
		return trading.ExchangeInfo{}, err
	}
	if body.Symbols == nil {
		return trading.ExchangeInfo{}, &MappingError{Endpoint: raw.Endpoint, Field: "symbols"}
	}

	info := trading.ExchangeInfo{
		Timezone: body.Timezone,
		Symbols:  make([]trading.SymbolInfo, 0, len(*body.Symbols)),
	}
	if body.ServerTime > 0 {
		info.ServerTime = time.UnixMilli(body.ServerTime)
	}
	for i, s := range *body.Symbols {
		if s.Symbol == nil || *s.Symbol == "" {
			return trading.ExchangeInfo{}, &MappingError{Endpoint: raw.Endpoint, Field: fmt.Sprintf("symbols[%d].symbol", i)}
		}
		si := trading.SymbolInfo{
			Symbol:            *s.Symbol,
			Status:            s.Status,
			BaseAsset:         s.BaseAsset,
			QuoteAsset:        s.QuoteAsset,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
			Filters:           make([]trading.Filter, 0, len(s.Filters)),
		}
		for _, f := range s.Filters {
			si.Filters = append(si.Filters, trading.Filter(f))
		}
		info.Symbols = append(info.Symbols, si)
	}
	return info, nil
}

// decimalFields parses decimal strings and keeps the first failure.
type decimalFields struct {
	endpoint string
	err      error
}

func (d *decimalFields) required(name, s string) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil && d.err == nil {
		d.err = &MappingError{Endpoint: d.endpoint, Field: name, Err: err}
	}
	return v
}

func (d *decimalFields) optional(name, s string) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero
	}
	return d.required(name, s)
}
