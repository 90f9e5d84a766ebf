package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultConfig(t *testing.T) {
	c, err := Load("../../configs/config.yaml")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "0.0.0.0:8000", c.Server.Http.Addr)
	assert.Equal(t, "mysql", c.Data.Database.Driver)
	assert.Equal(t, "EUR", c.Billing.DefaultCurrency)
	assert.Equal(t, 30, c.Billing.TabMaxAgeDays)

	require.Len(t, c.Billing.Plans, 3)
	monthly := c.Billing.Plans[0]
	assert.Equal(t, "monthly-10", monthly.Name)
	assert.Equal(t, int64(1000), monthly.Amount)
	assert.Equal(t, "simple", monthly.Interval.Kind)
	fixed := c.Billing.Plans[2]
	assert.Equal(t, "fixed_day", fixed.Interval.Kind)
	assert.Equal(t, 3, fixed.Interval.Months)

	require.Len(t, c.Billing.Coupons, 2)
	assert.Equal(t, "percentage_discount", c.Billing.Coupons[0].Handler)
	assert.Equal(t, float64(20), c.Billing.Coupons[0].Percentage)
	assert.Equal(t, "fixed_discount", c.Billing.Coupons[1].Handler)
	assert.Equal(t, 12, c.Billing.Coupons[1].Times)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("no-such-file.yaml")
	assert.Error(t, err)
}

func validBootstrap() *Bootstrap {
	b := &Bootstrap{
		Server:  &Server{},
		Data:    &Data{},
		Gateway: &Gateway{BaseURL: "https://gateway.example.com/v2"},
		Billing: &Billing{DefaultCurrency: "EUR"},
	}
	b.Server.Http.Addr = "0.0.0.0:8000"
	b.Data.Database.Source = "dsn"
	return b
}

func TestValidate(t *testing.T) {
	require.NoError(t, validBootstrap().Validate())

	b := validBootstrap()
	b.Server.Http.Addr = ""
	assert.Error(t, b.Validate())

	b = validBootstrap()
	b.Gateway = nil
	assert.Error(t, b.Validate())

	b = validBootstrap()
	b.Billing.DefaultCurrency = ""
	assert.Error(t, b.Validate())

	b = validBootstrap()
	b.Billing.Plans = []*PlanConf{{Name: "p", Currency: "EUR", Amount: 0}}
	assert.Error(t, b.Validate())

	b = validBootstrap()
	b.Billing.Coupons = []*CouponConf{{Name: "c", Handler: "fixed_discount", Times: 0}}
	assert.Error(t, b.Validate())
}
