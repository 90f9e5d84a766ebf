package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Owner is the billable owners table.
type Owner struct {
	ID                      string          `gorm:"primaryKey;column:owner_id;size:64"`
	GatewayCustomerID       string          `gorm:"column:gateway_customer_id;index;size:64"`
	MandateID               string          `gorm:"column:mandate_id;size:64"`
	TaxPercentage           decimal.Decimal `gorm:"column:tax_percentage;type:decimal(8,4)"`
	ExtraBillingInformation string          `gorm:"column:extra_billing_information;type:text"`
	CreatedAt               time.Time       `gorm:"column:created_at"`
	UpdatedAt               time.Time       `gorm:"column:updated_at"`
}

func (Owner) TableName() string { return "billing_owner" }
