package model

import "time"

// Credit is the per-owner-per-currency balance table. Value may go negative:
// debts below the gateway minimum accumulate here.
type Credit struct {
	ID        uint64    `gorm:"primaryKey;column:credit_id;autoIncrement"`
	OwnerRef  string    `gorm:"column:owner_ref;uniqueIndex:uk_owner_currency;size:128"`
	Currency  string    `gorm:"column:currency;uniqueIndex:uk_owner_currency;size:8"`
	Value     int64     `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Credit) TableName() string { return "billing_credit" }
