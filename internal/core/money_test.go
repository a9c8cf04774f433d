package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func money(t *testing.T, s string) Money {
	t.Helper()
	m, err := MoneyFromString(s, "USD")
	require.NoError(t, err)
	return m
}

func TestMoneyFromString(t *testing.T) {
	m, err := MoneyFromString("1249.995", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1250.00 USD", m.String())

	_, err = MoneyFromString("twelve dollars", "USD")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestMoneyFromStringRoundsHalfUp(t *testing.T) {
	// Half-up, never banker's: a trailing 5 always rounds away from zero.
	cases := map[string]string{
		"0.125":  "0.13 USD",
		"0.135":  "0.14 USD",
		"2.675":  "2.68 USD",
		"-0.125": "-0.13 USD",
		"1.004":  "1.00 USD",
		"1.005":  "1.01 USD",
	}
	for in, want := range cases {
		m, err := MoneyFromString(in, "USD")
		require.NoError(t, err)
		assert.Equal(t, want, m.String(), "input %s", in)
	}
}

func TestMoneyArithmeticIsExact(t *testing.T) {
	// The classic float trap: 0.1 + 0.2 must equal exactly 0.3.
	sum := money(t, "0.10").Add(money(t, "0.20"))
	assert.True(t, sum.Amount.Equal(decimal.NewFromFloat(0.3)))

	diff := money(t, "100.00").Sub(money(t, "99.99"))
	assert.Equal(t, "0.01 USD", diff.String())
}

func TestMoneyMulRoundsToCents(t *testing.T) {
	unit := money(t, "3.33")
	total := unit.Mul(decimal.NewFromInt(3))
	assert.Equal(t, "9.99 USD", total.String())

	// 2.5 x 1.99 = 4.975, rounds half-up to 4.98
	total = money(t, "1.99").Mul(decimal.NewFromFloat(2.5))
	assert.Equal(t, "4.98 USD", total.String())
}

func TestMoneyWithinTolerance(t *testing.T) {
	a := money(t, "100.00")

	assert.True(t, a.WithinTolerance(money(t, "100.01"), CentTolerance))
	assert.True(t, a.WithinTolerance(money(t, "99.99"), CentTolerance))
	assert.False(t, a.WithinTolerance(money(t, "100.02"), CentTolerance))

	// Currency mismatch is never within tolerance, regardless of amounts.
	eur := Money{Amount: a.Amount, Currency: "EUR"}
	assert.False(t, a.WithinTolerance(eur, CentTolerance))
}
