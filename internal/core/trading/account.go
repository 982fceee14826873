package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

type AssetBalance struct {
	AccountAlias       string
	Asset              string
	Balance            decimal.Decimal
	AvailableBalance   decimal.Decimal
	CrossWalletBalance decimal.Decimal
	CrossUnPnl         decimal.Decimal
	MaxWithdrawAmount  decimal.Decimal
	UpdateTime         time.Time
}

// BalanceView is the futures wallet as returned by the balance endpoint.
type BalanceView struct {
	Assets []AssetBalance
}

// NonZero returns the assets with a non-zero balance, in exchange order.
func (b BalanceView) NonZero() []AssetBalance {
	var out []AssetBalance
	for _, a := range b.Assets {
		if !a.Balance.IsZero() {
			out = append(out, a)
		}
	}
	return out
}

// Asset looks up a single asset by name.
func (b BalanceView) Asset(name string) (AssetBalance, bool) {
	for _, a := range b.Assets {
		if a.Asset == name {
			return a, true
		}
	}
	return AssetBalance{}, false
}

type ServerTime struct {
	Time time.Time
}

// Filter is one exchange trading rule (PRICE_FILTER, LOT_SIZE,
// MIN_NOTIONAL, ...). Only the fields relevant to the filter type are set.
type Filter struct {
	FilterType string
	TickSize   string
	StepSize   string
	MinQty     string
	MaxQty     string
	MinPrice   string
	MaxPrice   string
	Notional   string
}

type SymbolInfo struct {
	Symbol            string
	Status            string
	BaseAsset         string
	QuoteAsset        string
	PricePrecision    int
	QuantityPrecision int
	Filters           []Filter
}

// Filter returns the filter of the given type, if the symbol carries one.
func (s SymbolInfo) Filter(filterType string) (Filter, bool) {
	for _, f := range s.Filters {
		if f.FilterType == filterType {
			return f, true
		}
	}
	return Filter{}, false
}

type ExchangeInfo struct {
	Timezone   string
	ServerTime time.Time
	Symbols    []SymbolInfo
}

func (e ExchangeInfo) Symbol(name string) (SymbolInfo, bool) {
	for _, s := range e.Symbols {
		if s.Symbol == name {
			return s, true
		}
	}
	return SymbolInfo{}, false
}
