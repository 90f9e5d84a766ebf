package model

import "time"

// RedeemedCoupon is the coupon redemptions table.
type RedeemedCoupon struct {
	ID        string    `gorm:"primaryKey;column:redeemed_coupon_id;size:36"`
	Name      string    `gorm:"column:name;index;size:64"`
	OwnerRef  string    `gorm:"column:owner_ref;index;size:128"`
	ModelRef  string    `gorm:"column:model_ref;index;size:128"`
	TimesLeft int       `gorm:"column:times_left"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (RedeemedCoupon) TableName() string { return "billing_redeemed_coupon" }

// AppliedCoupon is the coupon applications table.
type AppliedCoupon struct {
	ID               string    `gorm:"primaryKey;column:applied_coupon_id;size:36"`
	RedeemedCouponID string    `gorm:"column:redeemed_coupon_id;index;size:36"`
	Name             string    `gorm:"column:name;size:64"`
	ModelRef         string    `gorm:"column:model_ref;index;size:128"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (AppliedCoupon) TableName() string { return "billing_applied_coupon" }
