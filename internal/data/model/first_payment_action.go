package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FirstPaymentAction is the queue of instructions replayed when a
// mandate-establishing first payment confirms.
type FirstPaymentAction struct {
	ID        string `gorm:"primaryKey;column:first_payment_action_id;size:36"`
	OwnerRef  string `gorm:"column:owner_ref;index;size:128"`
	PaymentID string `gorm:"column:payment_id;index;size:64"`
	Kind      string `gorm:"column:kind;size:32"`

	Plan          string          `gorm:"column:plan;size:64"`
	Quantity      int             `gorm:"column:quantity"`
	TrialUntil    *time.Time      `gorm:"column:trial_until"`
	Coupon        string          `gorm:"column:coupon;size:64"`
	TaxPercentage decimal.Decimal `gorm:"column:tax_percentage;type:decimal(8,4)"`

	Description string `gorm:"column:description;size:255"`
	Amount      int64  `gorm:"column:amount"`
	Currency    string `gorm:"column:currency;size:8"`

	CreatedAt time.Time `gorm:"column:created_at"`
}

func (FirstPaymentAction) TableName() string { return "billing_first_payment_action" }
