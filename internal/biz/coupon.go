package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponContext carries the handler-specific settings of a coupon.
type CouponContext struct {
	// Percentage for percentage discounts
	Percentage decimal.Decimal
	// Amount for fixed discounts
	Amount Money
	// AllowSurplus lets a fixed discount exceed the base total; the surplus
	// ends up as owner credit when the order settles
	AllowSurplus bool
	// AdaptiveTax computes percentage discounts on the tax-inclusive total
	// instead of the subtotal
	AdaptiveTax bool
	// AllowReuse skips the once-per-owner redemption check
	AllowReuse bool
	// Description of the discount line; defaults to the coupon name
	Description string
}

// Coupon is a named discount: a handler, its settings, and how many billing
// cycles it applies to.
type Coupon struct {
	Name    string
	Handler string
	Times   int
	Context CouponContext
}

// RedeemedCoupon records intent-to-use: a coupon bound to an owner and the
// entity (usually a subscription) whose items it discounts, with a remaining
// application counter.
type RedeemedCoupon struct {
	ID        string
	Name      string
	Owner     Ref
	Model     Ref
	TimesLeft int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the redemption has applications left.
func (rc *RedeemedCoupon) Active() bool { return rc.TimesLeft > 0 }

// AppliedCoupon records one concrete application, tied to the discount items
// it produced through their orderable reference.
type AppliedCoupon struct {
	ID               string
	RedeemedCouponID string
	Name             string
	Model            Ref
	CreatedAt        time.Time
}

// CouponRepo persists coupon redemptions and applications.
type CouponRepo interface {
	SaveRedeemedCoupon(ctx context.Context, rc *RedeemedCoupon) error
	GetRedeemedCoupon(ctx context.Context, id string) (*RedeemedCoupon, error)
	// ListActiveRedeemedCoupons returns redemptions with times_left > 0
	// attached to the given model, oldest first.
	ListActiveRedeemedCoupons(ctx context.Context, model Ref) ([]*RedeemedCoupon, error)
	CountRedemptions(ctx context.Context, owner Ref, name string) (int, error)
	SaveAppliedCoupon(ctx context.Context, ac *AppliedCoupon) error
	GetAppliedCoupon(ctx context.Context, id string) (*AppliedCoupon, error)
}

// CouponHandler computes the discount items a coupon adds to a set of items
// about to become an order.
type CouponHandler interface {
	DiscountItems(ctx context.Context, items ItemCollection, coupon *Coupon) (ItemCollection, error)
}

// CouponRegistry resolves coupon names and handler names. Handler names in
// the configured catalog are validated at build time.
type CouponRegistry struct {
	coupons  map[string]*Coupon
	handlers map[string]CouponHandler
}

// NewCouponRegistry compiles the configured coupon catalog against the
// built-in handlers.
func NewCouponRegistry(c *conf.Bootstrap) (*CouponRegistry, error) {
	r := &CouponRegistry{
		coupons: make(map[string]*Coupon),
		handlers: map[string]CouponHandler{
			constants.CouponHandlerFixed:      FixedDiscountHandler{},
			constants.CouponHandlerPercentage: PercentageDiscountHandler{},
		},
	}
	if c == nil || c.Billing == nil {
		return r, nil
	}
	for _, cc := range c.Billing.Coupons {
		if _, ok := r.handlers[cc.Handler]; !ok {
			return nil, errs.New(errs.ErrCodeCouponNotFound, errs.ReasonCouponNotFound,
				"coupon %q: unknown handler %q", cc.Name, cc.Handler)
		}
		if _, dup := r.coupons[cc.Name]; dup {
			return nil, errs.New(errs.ErrCodeCouponNotFound, errs.ReasonCouponNotFound,
				"coupon %q defined twice", cc.Name)
		}
		desc := cc.Description
		if desc == "" {
			desc = cc.Name
		}
		r.coupons[cc.Name] = &Coupon{
			Name:    cc.Name,
			Handler: cc.Handler,
			Times:   cc.Times,
			Context: CouponContext{
				Percentage:   decimal.NewFromFloat(cc.Percentage),
				Amount:       NewMoney(cc.Amount, cc.Currency),
				AllowSurplus: cc.AllowSurplus,
				AdaptiveTax:  cc.AdaptiveTax,
				AllowReuse:   cc.AllowReuse,
				Description:  desc,
			},
		}
	}
	return r, nil
}

// Get resolves a coupon by name.
func (r *CouponRegistry) Get(name string) (*Coupon, error) {
	coupon, ok := r.coupons[name]
	if !ok {
		return nil, errs.New(errs.ErrCodeCouponNotFound, errs.ReasonCouponNotFound,
			"coupon %q is not configured", name)
	}
	return coupon, nil
}

// Handler resolves a handler by name.
func (r *CouponRegistry) Handler(name string) (CouponHandler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, errs.New(errs.ErrCodeCouponNotFound, errs.ReasonCouponNotFound,
			"coupon handler %q is not registered", name)
	}
	return h, nil
}

// AddCoupon registers a coupon built in code; used by tests and embedders.
func (r *CouponRegistry) AddCoupon(c *Coupon) error {
	if _, ok := r.handlers[c.Handler]; !ok {
		return errs.New(errs.ErrCodeCouponNotFound, errs.ReasonCouponNotFound,
			"coupon %q: unknown handler %q", c.Name, c.Handler)
	}
	if _, dup := r.coupons[c.Name]; dup {
		return errs.New(errs.ErrCodeCouponNotFound, errs.ReasonCouponNotFound,
			"coupon %q defined twice", c.Name)
	}
	r.coupons[c.Name] = c
	return nil
}

// FixedDiscountHandler subtracts a configured absolute amount from the first
// item's total, capped at that total unless surplus is allowed. The discount
// line is tax-exempt.
type FixedDiscountHandler struct{}

// DiscountItems implements CouponHandler.
func (FixedDiscountHandler) DiscountItems(_ context.Context, items ItemCollection, coupon *Coupon) (ItemCollection, error) {
	if len(items) == 0 {
		return nil, nil
	}
	base := items[0]
	discount := coupon.Context.Amount
	if discount.Currency != base.Currency {
		return nil, errs.New(errs.ErrCodeCurrencyMismatch, errs.ReasonCurrencyMismatch,
			"coupon %q is %s but items are %s", coupon.Name, discount.Currency, base.Currency)
	}
	if !coupon.Context.AllowSurplus {
		var err error
		if discount, err = discount.Min(base.Total()); err != nil {
			return nil, err
		}
	}
	return ItemCollection{discountItem(base, discount.Negate(), coupon)}, nil
}

// PercentageDiscountHandler subtracts a percentage of the first item's
// subtotal, or of its tax-inclusive total when adaptive tax is configured.
// The discount line is tax-exempt.
type PercentageDiscountHandler struct{}

// DiscountItems implements CouponHandler.
func (PercentageDiscountHandler) DiscountItems(_ context.Context, items ItemCollection, coupon *Coupon) (ItemCollection, error) {
	if len(items) == 0 {
		return nil, nil
	}
	base := items[0]
	basis := base.Subtotal()
	if coupon.Context.AdaptiveTax {
		basis = base.Total()
	}
	discount := basis.ApplyPercentage(coupon.Context.Percentage)
	return ItemCollection{discountItem(base, discount.Negate(), coupon)}, nil
}

func discountItem(base *OrderItem, amount Money, coupon *Coupon) *OrderItem {
	return &OrderItem{
		ID:            uuid.New().String(),
		Owner:         base.Owner,
		Currency:      amount.Currency,
		UnitPrice:     amount.Amount,
		Quantity:      1,
		TaxPercentage: decimal.Zero,
		Description:   coupon.Context.Description,
		ProcessAt:     base.ProcessAt,
	}
}

// appliedCouponOrderable is the Orderable behind discount items. All hooks
// are no-ops: a discount has no cycle to advance and nothing to compensate.
type appliedCouponOrderable struct{}

func (appliedCouponOrderable) PreprocessOrderItem(_ context.Context, item *OrderItem) (ItemCollection, error) {
	return ItemCollection{item}, nil
}
func (appliedCouponOrderable) ProcessOrderItem(context.Context, *OrderItem) error { return nil }

func (appliedCouponOrderable) HandlePaymentPaid(context.Context, *OrderItem) error { return nil }

func (appliedCouponOrderable) HandlePaymentFailed(context.Context, *OrderItem) error { return nil }

// CouponUsecase implements redemption and application of coupons.
type CouponUsecase struct {
	registry *CouponRegistry
	repo     CouponRepo
	log      *log.Helper
}

// NewCouponUsecase creates the coupon usecase and registers the
// applied-coupon orderable kind.
func NewCouponUsecase(registry *CouponRegistry, repo CouponRepo, orderables *OrderableRegistry, logger log.Logger) *CouponUsecase {
	uc := &CouponUsecase{
		registry: registry,
		repo:     repo,
		log:      log.NewHelper(logger),
	}
	orderables.Register(constants.OrderableAppliedCoupon, func(context.Context, string) (Orderable, error) {
		return appliedCouponOrderable{}, nil
	})
	return uc
}

// RedeemFor redeems a named coupon for an owner against a model (usually a
// subscription). By default a coupon can be redeemed once per owner.
func (uc *CouponUsecase) RedeemFor(ctx context.Context, name string, owner, model Ref) (*RedeemedCoupon, error) {
	coupon, err := uc.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if !coupon.Context.AllowReuse {
		count, err := uc.repo.CountRedemptions(ctx, owner, name)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, errs.New(errs.ErrCodeCouponAlreadyRedeemed, errs.ReasonCouponAlreadyRedeemed,
				"coupon %q was already redeemed by %s", name, owner)
		}
	}

	now := time.Now().UTC()
	rc := &RedeemedCoupon{
		ID:        uuid.New().String(),
		Name:      name,
		Owner:     owner,
		Model:     model,
		TimesLeft: coupon.Times,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.SaveRedeemedCoupon(ctx, rc); err != nil {
		uc.log.Errorf("Failed to save redeemed coupon %s: %v", name, err)
		return nil, err
	}
	uc.log.Infof("Coupon %s redeemed for %s (times=%d)", name, owner, coupon.Times)
	return rc, nil
}

// ApplyTo applies one redemption to an item set: the handler's discount items
// are appended to the input, an AppliedCoupon is recorded, and times_left is
// decremented. The returned collection is input plus discounts, so chained
// coupons compound on the already-discounted set.
func (uc *CouponUsecase) ApplyTo(ctx context.Context, rc *RedeemedCoupon, items ItemCollection) (ItemCollection, error) {
	if !rc.Active() {
		return nil, errs.New(errs.ErrCodeCouponExhausted, errs.ReasonCouponExhausted,
			"coupon %q has no applications left", rc.Name)
	}
	coupon, err := uc.registry.Get(rc.Name)
	if err != nil {
		return nil, err
	}
	handler, err := uc.registry.Handler(coupon.Handler)
	if err != nil {
		return nil, err
	}

	discounts, err := handler.DiscountItems(ctx, items, coupon)
	if err != nil {
		return nil, err
	}

	ac := &AppliedCoupon{
		ID:               uuid.New().String(),
		RedeemedCouponID: rc.ID,
		Name:             rc.Name,
		Model:            rc.Model,
		CreatedAt:        time.Now().UTC(),
	}
	if err := uc.repo.SaveAppliedCoupon(ctx, ac); err != nil {
		return nil, err
	}
	for _, d := range discounts {
		d.Orderable = Ref{Kind: constants.OrderableAppliedCoupon, ID: ac.ID}
	}

	rc.TimesLeft--
	rc.UpdatedAt = time.Now().UTC()
	if err := uc.repo.SaveRedeemedCoupon(ctx, rc); err != nil {
		return nil, err
	}

	return append(items, discounts...), nil
}

// Rollback restores one application to the redemption counter.
func (uc *CouponUsecase) Rollback(ctx context.Context, appliedCouponID string) error {
	ac, err := uc.repo.GetAppliedCoupon(ctx, appliedCouponID)
	if err != nil {
		return err
	}
	if ac == nil {
		return nil
	}
	rc, err := uc.repo.GetRedeemedCoupon(ctx, ac.RedeemedCouponID)
	if err != nil {
		return err
	}
	if rc == nil {
		return nil
	}
	rc.TimesLeft++
	rc.UpdatedAt = time.Now().UTC()
	return uc.repo.SaveRedeemedCoupon(ctx, rc)
}

// ActiveRedemptionsFor lists the active redemptions attached to a model.
func (uc *CouponUsecase) ActiveRedemptionsFor(ctx context.Context, model Ref) ([]*RedeemedCoupon, error) {
	return uc.repo.ListActiveRedeemedCoupons(ctx, model)
}
