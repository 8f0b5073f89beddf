// Package money parses spreadsheet amounts into exact decimals and formats
// import totals for display. Totals are kept in integer minor units.
package money

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	EUR = "EUR" // Euro
	USD = "USD" // US Dollar
	GBP = "GBP" // British Pound
	CHF = "CHF" // Swiss Franc
)

// DefaultCurrency is used when no currency is configured or detected
const DefaultCurrency = EUR

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a new Money value from minor units and a currency code.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal creates Money from a decimal, rounding to the currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currencyCode = DefaultCurrency
		currency = money.GetCurrency(currencyCode)
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	return New(amount.Mul(multiplier).Round(0).IntPart(), currencyCode)
}

// NewFromFloat creates Money from a float amount as sent over the wire.
func NewFromFloat(amount float64, currencyCode string) *Money {
	return NewFromDecimal(decimal.NewFromFloat(amount), currencyCode)
}

// Zero returns a zero Money value for the given currency
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// IsZero returns true if the amount is zero
func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// Add adds two Money values. Returns error if currencies don't match.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}

	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display returns a formatted string for display (e.g., "€1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return Zero(DefaultCurrency).Display()
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	return m.ToDecimal().StringFixed(2)
}

// ToDecimal converts to decimal.Decimal
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	divisor := decimal.New(1, int32(m.m.Currency().Fraction))
	return decimal.NewFromInt(m.m.Amount()).Div(divisor)
}

// Symbol returns the grapheme of a currency code, or the code itself when unknown
func Symbol(currencyCode string) string {
	if c := money.GetCurrency(currencyCode); c != nil && c.Grapheme != "" {
		return c.Grapheme
	}
	return currencyCode
}

// IsKnownCurrency reports whether code is a known ISO-4217 code
func IsKnownCurrency(code string) bool {
	return money.GetCurrency(code) != nil
}
