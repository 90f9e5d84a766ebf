package model

import "time"

// Payment is the local mirror of gateway payments, keyed by the gateway's
// payment id.
type Payment struct {
	ID        string    `gorm:"primaryKey;column:payment_id;size:64"`
	OrderID   string    `gorm:"column:order_id;index;size:36"`
	OwnerRef  string    `gorm:"column:owner_ref;index;size:128"`
	Amount    int64     `gorm:"column:amount"`
	Currency  string    `gorm:"column:currency;size:8"`
	Status    string    `gorm:"column:status;size:16"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Payment) TableName() string { return "billing_payment" }
