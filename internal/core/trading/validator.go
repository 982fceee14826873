package trading

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Rule names the validation rule a draft failed.
type Rule string

const (
	RuleSymbol      Rule = "symbol"
	RuleSide        Rule = "side"
	RuleType        Rule = "type"
	RuleQuantity    Rule = "quantity"
	RulePrice       Rule = "price"
	RuleTimeInForce Rule = "time_in_force"
	RuleOrderRef    Rule = "order_ref"
	RuleClientID    Rule = "client_order_id"
)

// ValidationError is returned for input rejected before any request is
// built.
type ValidationError struct {
	Rule   Rule
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Rule, e.Value, e.Reason)
}

// Pair symbols only: a 1-11 character base asset quoted in USDT.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,11}USDT$`)

var clientIDPattern = regexp.MustCompile(`^[.A-Z:/a-z0-9_-]{1,36}$`)

// NormalizeSymbol folds compatibility forms (full-width letters etc.),
// trims whitespace and upper-cases.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(s)))
}

// ValidateSymbol normalises s and checks it is a USDT pair.
func ValidateSymbol(s string) (string, error) {
	symbol := NormalizeSymbol(s)
	if !symbolPattern.MatchString(symbol) {
		return "", &ValidationError{Rule: RuleSymbol, Value: s,
			Reason: "must be a USDT pair such as BTCUSDT"}
	}
	return symbol, nil
}

// ValidateOrderRef checks the symbol and that at least one of orderID and
// clientOrderID identifies the order.
func ValidateOrderRef(symbol string, orderID int64, clientOrderID string) (string, error) {
	sym, err := ValidateSymbol(symbol)
	if err != nil {
		return "", err
	}
	if orderID < 0 {
		return "", &ValidationError{Rule: RuleOrderRef, Value: fmt.Sprint(orderID),
			Reason: "order id must be positive"}
	}
	if orderID == 0 && strings.TrimSpace(clientOrderID) == "" {
		return "", &ValidationError{Rule: RuleOrderRef, Value: "",
			Reason: "an order id or client order id is required"}
	}
	return sym, nil
}

// Validate checks a draft in a fixed order and returns the first failure.
func Validate(d Draft) (Request, error) {
	symbol, err := ValidateSymbol(d.Symbol)
	if err != nil {
		return Request{}, err
	}

	side := Side(strings.ToUpper(strings.TrimSpace(d.Side)))
	if side != SideBuy && side != SideSell {
		return Request{}, &ValidationError{Rule: RuleSide, Value: d.Side,
			Reason: "must be one of BUY, SELL"}
	}

	typ := OrderType(strings.ToUpper(strings.TrimSpace(d.Type)))
	if typ != OrderTypeMarket && typ != OrderTypeLimit {
		return Request{}, &ValidationError{Rule: RuleType, Value: d.Type,
			Reason: "must be one of LIMIT, MARKET"}
	}

	qty, err := positiveDecimal(d.Quantity)
	if err != nil {
		return Request{}, &ValidationError{Rule: RuleQuantity, Value: d.Quantity, Reason: err.Error()}
	}

	req := Request{
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		Quantity:      qty,
		ReduceOnly:    d.ReduceOnly,
		ClientOrderID: strings.TrimSpace(d.ClientOrderID),
	}
	if typ == OrderTypeMarket {
		return checkClientID(req)
	}

	if strings.TrimSpace(d.Price) == "" {
		return Request{}, &ValidationError{Rule: RulePrice, Value: d.Price,
			Reason: "required for LIMIT orders"}
	}
	price, err := positiveDecimal(d.Price)
	if err != nil {
		return Request{}, &ValidationError{Rule: RulePrice, Value: d.Price, Reason: err.Error()}
	}
	req.Price = price

	tif := TimeInForce(strings.ToUpper(strings.TrimSpace(d.TimeInForce)))
	switch tif {
	case "":
		tif = TimeInForceGTC
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceGTX:
	default:
		return Request{}, &ValidationError{Rule: RuleTimeInForce, Value: d.TimeInForce,
			Reason: "must be one of GTC, IOC, FOK, GTX"}
	}
	req.TimeInForce = tif

	return checkClientID(req)
}

// checkClientID runs last so price and time-in-force failures are reported
// first.
func checkClientID(req Request) (Request, error) {
	if req.ClientOrderID != "" && !clientIDPattern.MatchString(req.ClientOrderID) {
		return Request{}, &ValidationError{Rule: RuleClientID, Value: req.ClientOrderID,
			Reason: "must be 1-36 characters of letters, digits and .:/_-"}
	}
	return req, nil
}

func positiveDecimal(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, errors.New("must be a number")
	}
	if !v.IsPositive() {
		return decimal.Decimal{}, errors.New("must be greater than zero")
	}
	return v, nil
}
