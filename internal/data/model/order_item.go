package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is the order items table. OrderID stays NULL until the item is
// rolled into an order; the due-item sweep keys on that plus process_at.
type OrderItem struct {
	ID           string  `gorm:"primaryKey;column:order_item_id;size:36"`
	OwnerRef     string  `gorm:"column:owner_ref;index:idx_owner_due;size:128"`
	OrderableRef string  `gorm:"column:orderable_ref;index;size:128"`
	OrderID      *string `gorm:"column:order_id;index;size:36"`

	Currency      string          `gorm:"column:currency;index:idx_owner_due;size:8"`
	UnitPrice     int64           `gorm:"column:unit_price"`
	Quantity      int             `gorm:"column:quantity"`
	TaxPercentage decimal.Decimal `gorm:"column:tax_percentage;type:decimal(8,4)"`

	Description      string `gorm:"column:description;size:255"`
	DescriptionExtra string `gorm:"column:description_extra;type:text"`

	ProcessAt time.Time `gorm:"column:process_at;index:idx_owner_due"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (OrderItem) TableName() string { return "billing_order_item" }
