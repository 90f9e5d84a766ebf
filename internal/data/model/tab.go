package model

import "time"

// Tab is the open/closed tabs table.
type Tab struct {
	ID        string     `gorm:"primaryKey;column:tab_id;size:36"`
	OwnerRef  string     `gorm:"column:owner_ref;index:idx_owner_status;size:128"`
	Currency  string     `gorm:"column:currency;index:idx_owner_status;size:8"`
	Status    string     `gorm:"column:status;index:idx_owner_status;size:16"`
	CreatedAt time.Time  `gorm:"column:created_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
	ClosedAt  *time.Time `gorm:"column:closed_at"`
}

func (Tab) TableName() string { return "billing_tab" }
