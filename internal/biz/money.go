package biz

import (
	"fmt"

	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/shopspring/decimal"
)

// Money is an amount of integer minor units (cents) tagged with an ISO 4217
// currency code. All monetary math in the engine flows through this type;
// mixing currencies is an error, never a silent conversion.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney creates a Money value.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Negate returns the amount with its sign flipped.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// MulQty multiplies the amount by an integer quantity.
func (m Money) MulQty(qty int) Money {
	return Money{Amount: m.Amount * int64(qty), Currency: m.Currency}
}

// Add returns m + other. Fails on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if err := m.assertSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m - other. Fails on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.assertSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Min returns the smaller of m and other. Fails on currency mismatch.
func (m Money) Min(other Money) (Money, error) {
	if err := m.assertSameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.Amount < m.Amount {
		return other, nil
	}
	return m, nil
}

// ApplyPercentage returns pct% of the amount, rounded half away from zero.
func (m Money) ApplyPercentage(pct decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Amount).
		Mul(pct).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

func (m Money) assertSameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return errs.New(errs.ErrCodeCurrencyMismatch, errs.ReasonCurrencyMismatch,
			"currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return nil
}
