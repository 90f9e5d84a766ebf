package biz

import (
	"time"

	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"
)

// Interval advances a billing cycle boundary by one period. anchorDay is the
// subscription's original day-of-month; simple intervals ignore it.
type Interval interface {
	Next(from time.Time, anchorDay int) time.Time
}

// SimpleInterval is a plain "N units" period.
type SimpleInterval struct {
	Count int
	Unit  string // day, week, month, year
}

// Next advances from by the interval length.
func (s SimpleInterval) Next(from time.Time, _ int) time.Time {
	switch s.Unit {
	case "day":
		return from.AddDate(0, 0, s.Count)
	case "week":
		return from.AddDate(0, 0, 7*s.Count)
	case "month":
		return from.AddDate(0, s.Count, 0)
	case "year":
		return from.AddDate(s.Count, 0, 0)
	}
	return from
}

// FixedDayInterval pins the billing day to the subscription's original
// day-of-month. Short months clamp to their last day, but the anchor day, not
// the clamped day, carries forward: a Jan 30 subscription bills Feb 28 and
// then Mar 30, not Mar 28.
type FixedDayInterval struct {
	Months int
}

// Next returns the anchor day in the month `Months` after from, clamped to
// that month's length, preserving from's time of day and location.
func (f FixedDayInterval) Next(from time.Time, anchorDay int) time.Time {
	if anchorDay < 1 {
		anchorDay = from.Day()
	}
	// First of the target month, then clamp the day.
	firstOfTarget := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location()).
		AddDate(0, f.Months, 0)
	day := anchorDay
	if last := daysInMonth(firstOfTarget.Year(), firstOfTarget.Month()); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Plan is a billable subscription plan compiled from configuration.
type Plan struct {
	Name        string
	Description string
	Amount      Money
	Interval    Interval
	// Preprocessors are the named pipeline stages applied to this plan's
	// scheduled items before order creation.
	Preprocessors           []string
	FirstPaymentDescription string
}

// PlanRegistry resolves plan names. Built once at startup; unknown interval
// kinds or preprocessor names fail the build rather than the first charge.
type PlanRegistry struct {
	plans map[string]*Plan
}

// NewPlanRegistry compiles the configured plan catalog.
func NewPlanRegistry(c *conf.Bootstrap) (*PlanRegistry, error) {
	r := &PlanRegistry{plans: make(map[string]*Plan)}
	if c == nil || c.Billing == nil {
		return r, nil
	}
	for _, pc := range c.Billing.Plans {
		plan, err := compilePlan(pc)
		if err != nil {
			return nil, err
		}
		if _, dup := r.plans[plan.Name]; dup {
			return nil, errs.New(errs.ErrCodePlanInvalid, errs.ReasonPlanInvalid,
				"plan %q defined twice", plan.Name)
		}
		r.plans[plan.Name] = plan
	}
	return r, nil
}

func compilePlan(pc *conf.PlanConf) (*Plan, error) {
	var interval Interval
	switch pc.Interval.Kind {
	case "", "simple":
		count := pc.Interval.Count
		if count < 1 {
			count = 1
		}
		unit := pc.Interval.Unit
		switch unit {
		case "day", "week", "month", "year":
		case "":
			unit = "month"
		default:
			return nil, errs.New(errs.ErrCodePlanInvalid, errs.ReasonPlanInvalid,
				"plan %q: unknown interval unit %q", pc.Name, unit)
		}
		interval = SimpleInterval{Count: count, Unit: unit}
	case "fixed_day":
		months := pc.Interval.Months
		if months < 1 {
			months = 1
		}
		interval = FixedDayInterval{Months: months}
	default:
		return nil, errs.New(errs.ErrCodePlanInvalid, errs.ReasonPlanInvalid,
			"plan %q: unknown interval kind %q", pc.Name, pc.Interval.Kind)
	}

	preprocessors := pc.Preprocessors
	if len(preprocessors) == 0 {
		preprocessors = []string{constants.PreprocessorCoupon, constants.PreprocessorPersist}
	}
	for _, name := range preprocessors {
		switch name {
		case constants.PreprocessorCoupon, constants.PreprocessorPersist:
		default:
			return nil, errs.New(errs.ErrCodePlanInvalid, errs.ReasonPlanInvalid,
				"plan %q: unknown preprocessor %q", pc.Name, name)
		}
	}

	return &Plan{
		Name:                    pc.Name,
		Description:             pc.Description,
		Amount:                  NewMoney(pc.Amount, pc.Currency),
		Interval:                interval,
		Preprocessors:           preprocessors,
		FirstPaymentDescription: pc.FirstPaymentDescription,
	}, nil
}

// Get resolves a plan by name.
func (r *PlanRegistry) Get(name string) (*Plan, error) {
	plan, ok := r.plans[name]
	if !ok {
		return nil, errs.New(errs.ErrCodePlanNotFound, errs.ReasonPlanNotFound,
			"plan %q is not configured", name)
	}
	return plan, nil
}

// List returns all configured plans.
func (r *PlanRegistry) List() []*Plan {
	out := make([]*Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	return out
}

// AddPlan registers a plan built in code; used by tests and embedders.
func (r *PlanRegistry) AddPlan(p *Plan) error {
	if _, dup := r.plans[p.Name]; dup {
		return errs.New(errs.ErrCodePlanInvalid, errs.ReasonPlanInvalid,
			"plan %q defined twice", p.Name)
	}
	if p.Interval == nil {
		return errs.New(errs.ErrCodePlanInvalid, errs.ReasonPlanInvalid,
			"plan %q: interval is required", p.Name)
	}
	if len(p.Preprocessors) == 0 {
		p.Preprocessors = []string{constants.PreprocessorCoupon, constants.PreprocessorPersist}
	}
	r.plans[p.Name] = p
	return nil
}
