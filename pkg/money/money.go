// Package money provides currency-safe amounts backed by integer minor units.
// Subscription prices are persisted in cents and converted back to decimals
// only at the edges (detection, display).
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency codes seen in bank and PayPal exports (ISO-4217).
const (
	EUR = "EUR"
	USD = "USD"
	GBP = "GBP"
	CHF = "CHF"
)

// DefaultCurrency is assumed when an export carries no currency information.
const DefaultCurrency = EUR

var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is a monetary value with a currency.
type Money struct {
	m *money.Money
}

// New creates Money from minor units.
func New(minor int64, currencyCode string) *Money {
	return &Money{m: money.New(minor, NormalizeCurrency(currencyCode))}
}

// FromDecimal converts a decimal amount to Money, rounding half away from
// zero to the currency's fraction digits.
func FromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	code := NormalizeCurrency(currencyCode)
	fraction := 2
	if c := money.GetCurrency(code); c != nil {
		fraction = c.Fraction
	}
	minor := amount.Shift(int32(fraction)).Round(0).IntPart()
	return New(minor, code)
}

// NormalizeCurrency upper-cases a code and falls back to DefaultCurrency for
// empty or unknown codes.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || money.GetCurrency(code) == nil {
		return DefaultCurrency
	}
	return code
}

// Amount returns the value in minor units.
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 code.
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// ToDecimal returns the value in major units.
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
}

// Add sums two values of the same currency.
func (m *Money) Add(other *Money) (*Money, error) {
	if m.Currency() != other.Currency() {
		return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency(), other.Currency())
	}
	sum, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: sum}, nil
}

// Display formats the value with its currency symbol, e.g. "€9.99".
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}

func (m *Money) String() string {
	if m == nil || m.m == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction)), m.Currency())
}

// MarshalJSON encodes Money as {"amount_minor":999,"currency":"EUR","display":"€9.99"}.
func (m *Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
		Display     string `json:"display"`
	}{m.Amount(), m.Currency(), m.Display()})
}
