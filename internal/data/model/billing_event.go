package model

import "time"

// BillingEvent is the append-only billing history table.
type BillingEvent struct {
	ID             uint64    `gorm:"primaryKey;column:billing_event_id;autoIncrement"`
	OwnerRef       string    `gorm:"column:owner_ref;index;size:128"`
	Kind           string    `gorm:"column:kind;index;size:32"`
	OrderID        string    `gorm:"column:order_id;size:36"`
	SubscriptionID string    `gorm:"column:subscription_id;size:36"`
	Detail         string    `gorm:"column:detail;size:255"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

func (BillingEvent) TableName() string { return "billing_event" }
