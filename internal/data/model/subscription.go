package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription is the subscriptions table.
type Subscription struct {
	ID       string  `gorm:"primaryKey;column:subscription_id;size:36"`
	OwnerRef string  `gorm:"column:owner_ref;index;size:128"`
	Plan     string  `gorm:"column:plan;size:64"`
	NextPlan *string `gorm:"column:next_plan;size:64"`
	Currency string  `gorm:"column:currency;size:8"`

	Quantity      int             `gorm:"column:quantity"`
	TaxPercentage decimal.Decimal `gorm:"column:tax_percentage;type:decimal(8,4)"`
	AnchorDay     int             `gorm:"column:anchor_day"`

	TrialEndsAt    *time.Time `gorm:"column:trial_ends_at"`
	CycleStartedAt time.Time  `gorm:"column:cycle_started_at"`
	CycleEndsAt    *time.Time `gorm:"column:cycle_ends_at"`
	EndsAt         *time.Time `gorm:"column:ends_at"`

	ScheduledItemID    *string `gorm:"column:scheduled_item_id;size:36"`
	CancellationReason string  `gorm:"column:cancellation_reason;size:32"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Subscription) TableName() string { return "billing_subscription" }
