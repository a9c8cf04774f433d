package core

import (
	"github.com/shopspring/decimal"
)

// Monetary comparisons across documents tolerate at most one cent of
// accumulated drift. Arithmetic itself is exact.
var CentTolerance = decimal.NewFromFloat(0.01)

// Money is an exact decimal amount with its ISO 4217 currency code.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount.Round(2), Currency: currency}
}

// MoneyFromString parses a decimal literal, rounding half-up to cents.
func MoneyFromString(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, Wrap(KindValidation, "invalid amount", err)
	}
	return Money{Amount: d.Round(2), Currency: currency}, nil
}

func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// Mul multiplies by a quantity and rounds half-up to cents, matching the
// line-total convention qty * unit_price.
func (m Money) Mul(qty decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(qty).Round(2), Currency: m.Currency}
}

// WithinTolerance reports |m - other| <= epsilon for same-currency values.
func (m Money) WithinTolerance(other Money, epsilon decimal.Decimal) bool {
	if m.Currency != other.Currency {
		return false
	}
	return m.Amount.Sub(other.Amount).Abs().LessThanOrEqual(epsilon)
}

func (m Money) IsZero() bool { return m.Amount.IsZero() }

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}
