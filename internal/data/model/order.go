package model

import "time"

// Order is the orders table.
type Order struct {
	ID       string `gorm:"primaryKey;column:order_id;size:36"`
	Number   string `gorm:"column:number;uniqueIndex;size:32"`
	OwnerRef string `gorm:"column:owner_ref;index;size:128"`
	Currency string `gorm:"column:currency;size:8"`

	Subtotal int64 `gorm:"column:subtotal"`
	Tax      int64 `gorm:"column:tax"`
	Total    int64 `gorm:"column:total"`

	BalanceBefore int64 `gorm:"column:balance_before"`
	CreditUsed    int64 `gorm:"column:credit_used"`
	TotalDue      int64 `gorm:"column:total_due"`

	ProcessedAt   *time.Time `gorm:"column:processed_at"`
	PaymentID     string     `gorm:"column:payment_id;index;size:64"`
	PaymentStatus string     `gorm:"column:payment_status;size:16"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Order) TableName() string { return "billing_order" }
