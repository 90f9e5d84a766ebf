package biz

import (
	"context"
	"time"
)

// Credit is the running balance an owner holds in one currency. Positive
// values are spendable credit; negative values are accumulated small debts
// below the gateway's minimum payable amount.
type Credit struct {
	Owner     Ref
	Currency  string
	Value     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreditRepo persists per-owner-per-currency balances. Implementations must
// mutate the row atomically in place: increments are single UPDATE
// statements and MaxOut holds a row lock inside the caller's transaction, so
// concurrent order processing for the same owner+currency cannot lose
// updates.
type CreditRepo interface {
	GetCredit(ctx context.Context, owner Ref, currency string) (*Credit, error)
	// AddAmount atomically adds amount (which may be negative) to the
	// owner's balance, creating the row on first use.
	AddAmount(ctx context.Context, owner Ref, currency string, amount int64) error
	// MaxOut atomically consumes min(balance, want) from the balance,
	// never taking it below zero, and returns the amount consumed.
	MaxOut(ctx context.Context, owner Ref, currency string, want int64) (int64, error)
}
