package biz

import (
	"testing"

	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyArithmetic(t *testing.T) {
	a := NewMoney(1000, "EUR")
	b := NewMoney(250, "EUR")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, NewMoney(1250, "EUR"), sum)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, NewMoney(750, "EUR"), diff)

	min, err := a.Min(b)
	require.NoError(t, err)
	assert.Equal(t, b, min)

	assert.Equal(t, NewMoney(-1000, "EUR"), a.Negate())
	assert.Equal(t, NewMoney(3000, "EUR"), a.MulQty(3))
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	eur := NewMoney(1000, "EUR")
	usd := NewMoney(1000, "USD")

	_, err := eur.Add(usd)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ReasonCurrencyMismatch))

	_, err = eur.Sub(usd)
	assert.True(t, errs.Is(err, errs.ReasonCurrencyMismatch))

	_, err = eur.Min(usd)
	assert.True(t, errs.Is(err, errs.ReasonCurrencyMismatch))
}

func TestMoneyApplyPercentage(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		pct    string
		want   int64
	}{
		{"exact", 1000, "21", 210},
		{"rounds down", 12150, "21.5", 2612},   // 2612.25
		{"rounds up", 999, "21.5", 215},        // 214.785
		{"negative amount", -12150, "21.5", -2612},
		{"zero rate", 12150, "0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, err := decimal.NewFromString(tt.pct)
			require.NoError(t, err)
			got := NewMoney(tt.amount, "EUR").ApplyPercentage(pct)
			assert.Equal(t, tt.want, got.Amount)
			assert.Equal(t, "EUR", got.Currency)
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	assert.True(t, NewMoney(0, "EUR").IsZero())
	assert.True(t, NewMoney(1, "EUR").IsPositive())
	assert.True(t, NewMoney(-1, "EUR").IsNegative())
	assert.Equal(t, "1050 EUR", NewMoney(1050, "EUR").String())
}
