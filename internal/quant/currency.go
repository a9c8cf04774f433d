package quant

import (
	"github.com/shopspring/decimal"

	"github.com/ventro/backend/internal/core"
)

// Cross-currency comparisons use a relative band instead of the absolute
// cent epsilon, because the conversion itself carries rate noise.
var relativeTolerance = decimal.NewFromFloat(0.005)

// RateTable converts amounts into a single base currency. Rates are
// quoted as units of base per unit of the keyed currency.
type RateTable struct {
	Base  string
	Rates map[string]decimal.Decimal
}

func NewRateTable(base string, rates map[string]decimal.Decimal) *RateTable {
	if rates == nil {
		rates = map[string]decimal.Decimal{}
	}
	rates[base] = decimal.NewFromInt(1)
	return &RateTable{Base: base, Rates: rates}
}

// Convert returns the amount expressed in the base currency.
func (t *RateTable) Convert(m core.Money) (core.Money, error) {
	rate, ok := t.Rates[m.Currency]
	if !ok {
		return core.Money{}, core.Errorf(core.KindValidation, "no conversion rate for %s", m.Currency)
	}
	return core.Money{Amount: m.Amount.Mul(rate).Round(4), Currency: t.Base}, nil
}

// Comparable reports whether two amounts agree. Same-currency values use
// the cent epsilon; converted values use the relative band.
func (t *RateTable) Comparable(a, b core.Money) (bool, error) {
	if a.Currency == b.Currency {
		return a.WithinTolerance(b, core.CentTolerance), nil
	}
	ca, err := t.Convert(a)
	if err != nil {
		return false, err
	}
	cb, err := t.Convert(b)
	if err != nil {
		return false, err
	}
	diff := ca.Amount.Sub(cb.Amount).Abs()
	larger := decimal.Max(ca.Amount.Abs(), cb.Amount.Abs())
	if larger.IsZero() {
		return diff.IsZero(), nil
	}
	return diff.Div(larger).LessThanOrEqual(relativeTolerance), nil
}
