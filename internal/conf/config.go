package conf

import (
	"fmt"
)

type Bootstrap struct {
	Server  *Server  `yaml:"server" json:"server"`
	Data    *Data    `yaml:"data" json:"data"`
	Gateway *Gateway `yaml:"gateway" json:"gateway"`
	Billing *Billing `yaml:"billing" json:"billing"`
	Log     *Log     `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Addr    string `yaml:"addr" json:"addr"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver          string `yaml:"driver" json:"driver"`
		Source          string `yaml:"source" json:"source"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"redis" json:"redis"`
}

// Gateway configures the payment gateway HTTP client.
type Gateway struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Timeout string `yaml:"timeout" json:"timeout"`
	// Debug makes webhook-time gateway lookup errors propagate instead of
	// being swallowed into a "payment not found" outcome.
	Debug bool `yaml:"debug" json:"debug"`
}

// Billing holds engine-level settings plus the plan and coupon catalogs.
type Billing struct {
	DefaultCurrency string `yaml:"default_currency" json:"default_currency"`
	// TabMaxAgeDays open tabs older than this are closed by the cron job
	TabMaxAgeDays int           `yaml:"tab_max_age_days" json:"tab_max_age_days"`
	Plans         []*PlanConf   `yaml:"plans" json:"plans"`
	Coupons       []*CouponConf `yaml:"coupons" json:"coupons"`
}

// PlanConf is the config-sourced shape of a billing plan.
type PlanConf struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Amount      int64  `yaml:"amount" json:"amount"`
	Currency    string `yaml:"currency" json:"currency"`
	Interval    struct {
		// Kind is "simple" or "fixed_day"
		Kind  string `yaml:"kind" json:"kind"`
		Count int    `yaml:"count" json:"count"`
		// Unit is day, week, month or year (simple intervals)
		Unit string `yaml:"unit" json:"unit"`
		// Months between cycles for fixed_day intervals
		Months int `yaml:"months" json:"months"`
	} `yaml:"interval" json:"interval"`
	// Preprocessors applied to scheduled items before order creation;
	// defaults to [coupon, persist]
	Preprocessors           []string `yaml:"preprocessors" json:"preprocessors"`
	FirstPaymentDescription string   `yaml:"first_payment_description" json:"first_payment_description"`
}

// CouponConf is the config-sourced shape of a coupon.
type CouponConf struct {
	Name    string `yaml:"name" json:"name"`
	Handler string `yaml:"handler" json:"handler"`
	// Times the number of billing cycles the coupon applies to
	Times int `yaml:"times" json:"times"`
	// Percentage for percentage_discount handlers
	Percentage float64 `yaml:"percentage" json:"percentage"`
	// Amount/Currency for fixed_discount handlers
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
	// AllowSurplus lets a fixed discount exceed the base total, the surplus
	// becoming credit
	AllowSurplus bool `yaml:"allow_surplus" json:"allow_surplus"`
	// AdaptiveTax computes percentage discounts against the tax-inclusive
	// total instead of the subtotal
	AdaptiveTax bool `yaml:"adaptive_tax" json:"adaptive_tax"`
	// AllowReuse skips the once-per-owner redemption check
	AllowReuse bool `yaml:"allow_reuse" json:"allow_reuse"`
	// Description of the discount line item; defaults to the coupon name
	Description string `yaml:"description" json:"description"`
}

type Log struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Gateway == nil || b.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if b.Billing == nil {
		return fmt.Errorf("billing configuration is required")
	}
	if b.Billing.DefaultCurrency == "" {
		return fmt.Errorf("billing.default_currency is required")
	}
	for _, p := range b.Billing.Plans {
		if p.Name == "" {
			return fmt.Errorf("billing.plans[].name is required")
		}
		if p.Currency == "" {
			return fmt.Errorf("plan %q: currency is required", p.Name)
		}
		if p.Amount <= 0 {
			return fmt.Errorf("plan %q: amount must be positive", p.Name)
		}
	}
	for _, c := range b.Billing.Coupons {
		if c.Name == "" {
			return fmt.Errorf("billing.coupons[].name is required")
		}
		if c.Handler == "" {
			return fmt.Errorf("coupon %q: handler is required", c.Name)
		}
		if c.Times < 1 {
			return fmt.Errorf("coupon %q: times must be at least 1", c.Name)
		}
	}
	return nil
}
