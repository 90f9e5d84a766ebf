package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription is a recurring billing state machine. Its states are derived
// from the timestamp fields, never stored: trialing while trial_ends_at is in
// the future, active while ends_at is unset, in its grace period while
// ends_at is set but not reached, ended after that.
type Subscription struct {
	ID    string
	Owner Ref

	Plan     string
	NextPlan *string
	Currency string

	Quantity      int
	TaxPercentage decimal.Decimal

	// AnchorDay is the original day-of-month, driving fixed-day intervals.
	AnchorDay int

	TrialEndsAt    *time.Time
	CycleStartedAt time.Time
	CycleEndsAt    *time.Time
	EndsAt         *time.Time

	// ScheduledItemID points at the single outstanding scheduled order
	// item. At most one exists per subscription.
	ScheduledItemID *string

	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the subscription's polymorphic reference.
func (s *Subscription) Ref() Ref {
	return Ref{Kind: constants.OrderableSubscription, ID: s.ID}
}

// OnTrial reports whether the subscription is trialing at now.
func (s *Subscription) OnTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && s.TrialEndsAt.After(now)
}

// Cancelled reports whether an end has been set.
func (s *Subscription) Cancelled() bool { return s.EndsAt != nil }

// OnGracePeriod reports whether the subscription is cancelled but still
// running out its paid period.
func (s *Subscription) OnGracePeriod(now time.Time) bool {
	return s.EndsAt != nil && s.EndsAt.After(now)
}

// Ended reports whether the subscription is over.
func (s *Subscription) Ended(now time.Time) bool {
	return s.EndsAt != nil && !s.EndsAt.After(now)
}

// Active reports whether the owner is entitled to the plan at now.
func (s *Subscription) Active(now time.Time) bool {
	return !s.Ended(now)
}

// CycleProgress is the elapsed fraction of the current cycle, clamped to
// [0,1]: 0 before the cycle starts, 1 once it is over.
func (s *Subscription) CycleProgress(now time.Time) float64 {
	if s.CycleEndsAt == nil {
		return 1
	}
	total := s.CycleEndsAt.Sub(s.CycleStartedAt).Seconds()
	if total <= 0 {
		return 1
	}
	elapsed := now.Sub(s.CycleStartedAt).Seconds()
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= total:
		return 1
	}
	return elapsed / total
}

// SubscriptionRepo persists subscriptions.
type SubscriptionRepo interface {
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	SaveSubscription(ctx context.Context, sub *Subscription) error
	ListSubscriptionsForOwner(ctx context.Context, owner Ref) ([]*Subscription, error)
	// OwnerHasActiveSubscription reports whether the owner has any
	// non-ended subscription billed in the given currency.
	OwnerHasActiveSubscription(ctx context.Context, owner Ref, currency string) (bool, error)
}

// SubscriptionUsecase implements the billing cycle state machine.
type SubscriptionUsecase struct {
	subRepo       SubscriptionRepo
	itemRepo      OrderItemRepo
	eventRepo     EventRepo
	plans         *PlanRegistry
	coupons       *CouponUsecase
	orders        *OrderUsecase
	preprocessors *PreprocessorSet
	tm            Transaction
	log           *log.Helper

	now func() time.Time
}

// NewSubscriptionUsecase creates the subscription usecase and registers the
// subscription orderable kind.
func NewSubscriptionUsecase(
	subRepo SubscriptionRepo,
	itemRepo OrderItemRepo,
	eventRepo EventRepo,
	plans *PlanRegistry,
	coupons *CouponUsecase,
	orders *OrderUsecase,
	preprocessors *PreprocessorSet,
	orderables *OrderableRegistry,
	tm Transaction,
	logger log.Logger,
) *SubscriptionUsecase {
	uc := &SubscriptionUsecase{
		subRepo:       subRepo,
		itemRepo:      itemRepo,
		eventRepo:     eventRepo,
		plans:         plans,
		coupons:       coupons,
		orders:        orders,
		preprocessors: preprocessors,
		tm:            tm,
		log:           log.NewHelper(logger),
		now:           func() time.Time { return time.Now().UTC() },
	}
	orderables.Register(constants.OrderableSubscription, func(ctx context.Context, id string) (Orderable, error) {
		sub, err := uc.mustGet(ctx, id)
		if err != nil {
			return nil, err
		}
		return &subscriptionOrderable{uc: uc, sub: sub}, nil
	})
	return uc
}

// StartParams describes a new subscription.
type StartParams struct {
	Owner         Ref
	Plan          string
	Quantity      int
	TaxPercentage decimal.Decimal
	// TrialUntil postpones the first charge; nil starts billing now.
	TrialUntil *time.Time
	// Coupon is redeemed against the subscription before the first charge.
	Coupon string
}

// Start creates a subscription and schedules its first order item: at the
// trial end when trialing, immediately otherwise. Processing that item
// advances the cycle, so the first paid cycle begins at the scheduled time.
func (uc *SubscriptionUsecase) Start(ctx context.Context, p StartParams) (*Subscription, error) {
	plan, err := uc.plans.Get(p.Plan)
	if err != nil {
		return nil, err
	}
	if p.Quantity < 1 {
		return nil, errs.New(errs.ErrCodeInvalidQuantity, errs.ReasonInvalidQuantity,
			"quantity must be at least 1, got %d", p.Quantity)
	}

	now := uc.now()
	firstBillAt := now
	if p.TrialUntil != nil && p.TrialUntil.After(now) {
		firstBillAt = *p.TrialUntil
	}

	sub := &Subscription{
		ID:             uuid.New().String(),
		Owner:          p.Owner,
		Plan:           plan.Name,
		Currency:       plan.Amount.Currency,
		Quantity:       p.Quantity,
		TaxPercentage:  p.TaxPercentage,
		AnchorDay:      now.Day(),
		CycleStartedAt: now,
		CycleEndsAt:    &firstBillAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.TrialUntil != nil && p.TrialUntil.After(now) {
		sub.TrialEndsAt = p.TrialUntil
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.subRepo.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if _, err := uc.scheduleItemAt(ctx, sub, firstBillAt, plan); err != nil {
			return err
		}
		if p.Coupon != "" {
			if _, err := uc.coupons.RedeemFor(ctx, p.Coupon, p.Owner, sub.Ref()); err != nil {
				return err
			}
		}
		return uc.recordEvent(ctx, sub, constants.EventSubscriptionStarted,
			fmt.Sprintf("plan=%s quantity=%d", sub.Plan, sub.Quantity))
	})
	if err != nil {
		uc.log.Errorf("Failed to start subscription for %s: %v", p.Owner, err)
		return nil, err
	}
	uc.log.Infof("Started subscription %s for %s (plan=%s, first bill at %s)",
		sub.ID, p.Owner, sub.Plan, firstBillAt.Format(time.RFC3339))
	return sub, nil
}

// ScheduleNewOrderItemAt schedules the subscription's next cycle item. At
// most one scheduled item may exist; scheduling a second one is a logic
// error on the caller's side.
func (uc *SubscriptionUsecase) ScheduleNewOrderItemAt(ctx context.Context, sub *Subscription, at time.Time) (*OrderItem, error) {
	plan, err := uc.plans.Get(sub.Plan)
	if err != nil {
		return nil, err
	}
	return uc.scheduleItemAt(ctx, sub, at, plan)
}

func (uc *SubscriptionUsecase) scheduleItemAt(ctx context.Context, sub *Subscription, at time.Time, plan *Plan) (*OrderItem, error) {
	if sub.ScheduledItemID != nil {
		return nil, errs.New(errs.ErrCodeItemAlreadyScheduled, errs.ReasonItemAlreadyScheduled,
			"subscription %s already has a scheduled order item", sub.ID)
	}
	now := uc.now()
	item := &OrderItem{
		ID:            uuid.New().String(),
		Owner:         sub.Owner,
		Orderable:     sub.Ref(),
		Currency:      plan.Amount.Currency,
		UnitPrice:     plan.Amount.Amount,
		Quantity:      sub.Quantity,
		TaxPercentage: sub.TaxPercentage,
		Description:   plan.Description,
		ProcessAt:     at,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.itemRepo.SaveOrderItem(ctx, item); err != nil {
		return nil, err
	}
	sub.ScheduledItemID = &item.ID
	sub.UpdatedAt = now
	if err := uc.subRepo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return item, nil
}

// processScheduledItem rolls the cycle over when the scheduled item becomes
// part of an order: apply a pending plan swap, advance cycle_ends_at by one
// plan interval, schedule the next item, and annotate the processed one with
// the period it covers. Cycles advance here, at payment creation time, not
// at payment confirmation; a later payment failure compensates by
// cancelling (optimistic billing).
func (uc *SubscriptionUsecase) processScheduledItem(ctx context.Context, sub *Subscription, item *OrderItem) error {
	if sub.ScheduledItemID == nil || *sub.ScheduledItemID != item.ID {
		// Not the cycle item (e.g. a pro-rata reimbursement); nothing to
		// advance.
		return nil
	}
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		if sub.NextPlan != nil {
			sub.Plan = *sub.NextPlan
			sub.NextPlan = nil
			if err := uc.recordEvent(ctx, sub, constants.EventSubscriptionPlanSwapped,
				fmt.Sprintf("plan=%s", sub.Plan)); err != nil {
				return err
			}
		}
		plan, err := uc.plans.Get(sub.Plan)
		if err != nil {
			return err
		}
		sub.Currency = plan.Amount.Currency

		cycleStart := sub.CycleStartedAt
		if sub.CycleEndsAt != nil {
			cycleStart = *sub.CycleEndsAt
		}
		cycleEnd := plan.Interval.Next(cycleStart, sub.AnchorDay)

		sub.CycleStartedAt = cycleStart
		sub.CycleEndsAt = &cycleEnd
		sub.ScheduledItemID = nil
		sub.UpdatedAt = uc.now()
		if err := uc.subRepo.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		if _, err := uc.scheduleItemAt(ctx, sub, cycleEnd, plan); err != nil {
			return err
		}

		item.AddDescriptionLine(describeCyclePeriod(cycleStart, cycleEnd))
		item.UpdatedAt = uc.now()
		return uc.itemRepo.SaveOrderItem(ctx, item)
	})
}

// Cancel ends the subscription at its natural boundary: the trial end while
// trialing, the cycle end otherwise.
func (uc *SubscriptionUsecase) Cancel(ctx context.Context, sub *Subscription, reason string) error {
	now := uc.now()
	at := now
	switch {
	case sub.OnTrial(now):
		at = *sub.TrialEndsAt
	case sub.CycleEndsAt != nil && sub.CycleEndsAt.After(now):
		at = *sub.CycleEndsAt
	}
	return uc.CancelAt(ctx, sub, at, reason)
}

// CancelNow ends the subscription immediately.
func (uc *SubscriptionUsecase) CancelNow(ctx context.Context, sub *Subscription, reason string) error {
	return uc.CancelAt(ctx, sub, uc.now(), reason)
}

// CancelAt ends the subscription at t: the scheduled item is removed
// (deleted if still unprocessed) and ends_at set, opening the grace period.
func (uc *SubscriptionUsecase) CancelAt(ctx context.Context, sub *Subscription, t time.Time, reason string) error {
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.removeScheduledItem(ctx, sub); err != nil {
			return err
		}
		end := t
		sub.EndsAt = &end
		sub.CancellationReason = reason
		sub.UpdatedAt = uc.now()
		if err := uc.subRepo.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		return uc.recordEvent(ctx, sub, constants.EventSubscriptionCancelled,
			fmt.Sprintf("reason=%s ends_at=%s", reason, t.Format(time.RFC3339)))
	})
	if err != nil {
		return err
	}
	uc.log.Infof("Cancelled subscription %s (reason=%s, ends at %s)", sub.ID, reason, t.Format(time.RFC3339))
	return nil
}

// Resume revives a subscription during its grace period: the old end becomes
// the next cycle boundary and a new item is scheduled there.
func (uc *SubscriptionUsecase) Resume(ctx context.Context, sub *Subscription) error {
	now := uc.now()
	if !sub.OnGracePeriod(now) {
		return errs.New(errs.ErrCodeCannotResume, errs.ReasonCannotResume,
			"subscription %s is not in its grace period", sub.ID)
	}
	plan, err := uc.plans.Get(sub.Plan)
	if err != nil {
		return err
	}
	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		end := *sub.EndsAt
		sub.CycleEndsAt = &end
		sub.EndsAt = nil
		sub.CancellationReason = ""
		if _, err := uc.scheduleItemAt(ctx, sub, end, plan); err != nil {
			return err
		}
		return uc.recordEvent(ctx, sub, constants.EventSubscriptionResumed, "")
	})
	if err != nil {
		return err
	}
	uc.log.Infof("Resumed subscription %s", sub.ID)
	return nil
}

// Swap moves the subscription to a new plan right away: the current cycle
// ends early, unused time is reimbursed pro rata, and a fresh cycle starts
// under the new plan. A cancelled subscription is un-cancelled first.
func (uc *SubscriptionUsecase) Swap(ctx context.Context, sub *Subscription, planName string, invoiceNow bool) error {
	if _, err := uc.plans.Get(planName); err != nil {
		return err
	}
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		if sub.Cancelled() {
			sub.CycleEndsAt = sub.EndsAt
			sub.EndsAt = nil
			sub.CancellationReason = ""
		}
		if err := uc.restartCycle(ctx, sub, func(s *Subscription) {
			s.Plan = planName
			s.NextPlan = nil
		}, invoiceNow); err != nil {
			return err
		}
		return uc.recordEvent(ctx, sub, constants.EventSubscriptionPlanSwapped,
			fmt.Sprintf("plan=%s", planName))
	})
}

// SwapNextCycle defers a plan swap to the current cycle boundary: the
// transition item is rescheduled at the existing cycle end but costed under
// the new plan. The swap event fires when that item is processed.
func (uc *SubscriptionUsecase) SwapNextCycle(ctx context.Context, sub *Subscription, planName string) error {
	newPlan, err := uc.plans.Get(planName)
	if err != nil {
		return err
	}
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		if err := uc.removeScheduledItem(ctx, sub); err != nil {
			return err
		}
		sub.NextPlan = &newPlan.Name
		at := uc.now()
		if sub.CycleEndsAt != nil {
			at = *sub.CycleEndsAt
		}
		if _, err := uc.scheduleItemAt(ctx, sub, at, newPlan); err != nil {
			return err
		}
		return nil
	})
}

// IncrementQuantity raises the quantity by count.
func (uc *SubscriptionUsecase) IncrementQuantity(ctx context.Context, sub *Subscription, count int, invoiceNow bool) error {
	return uc.UpdateQuantity(ctx, sub, sub.Quantity+count, invoiceNow)
}

// DecrementQuantity lowers the quantity by count.
func (uc *SubscriptionUsecase) DecrementQuantity(ctx context.Context, sub *Subscription, count int, invoiceNow bool) error {
	return uc.UpdateQuantity(ctx, sub, sub.Quantity-count, invoiceNow)
}

// UpdateQuantity sets a new quantity, restarting the cycle so the change
// bills immediately.
func (uc *SubscriptionUsecase) UpdateQuantity(ctx context.Context, sub *Subscription, quantity int, invoiceNow bool) error {
	if quantity < 1 {
		return errs.New(errs.ErrCodeInvalidQuantity, errs.ReasonInvalidQuantity,
			"quantity must be at least 1, got %d", quantity)
	}
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		return uc.restartCycle(ctx, sub, func(s *Subscription) {
			s.Quantity = quantity
		}, invoiceNow)
	})
}

// restartCycle ends the current cycle early and starts a fresh one with the
// given modification applied: the scheduled item is removed, unused time is
// reimbursed pro rata (skipped on trial, trials are unpriced), and the next
// item is scheduled at the trial end when still trialing, immediately
// otherwise. With invoiceNow the reimbursement and the new cycle item are
// billed in the same call.
func (uc *SubscriptionUsecase) restartCycle(ctx context.Context, sub *Subscription, modify func(*Subscription), invoiceNow bool) error {
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		now := uc.now()
		if err := uc.removeScheduledItem(ctx, sub); err != nil {
			return err
		}

		var pending ItemCollection
		if !sub.OnTrial(now) {
			reimbursement, err := uc.reimburseUnusedTime(ctx, sub, now)
			if err != nil {
				return err
			}
			if reimbursement != nil {
				pending = append(pending, reimbursement)
			}
		}

		modify(sub)

		plan, err := uc.plans.Get(sub.Plan)
		if err != nil {
			return err
		}
		sub.Currency = plan.Amount.Currency

		nextAt := now
		if sub.OnTrial(now) {
			nextAt = *sub.TrialEndsAt
		} else {
			sub.CycleStartedAt = now
			end := now
			sub.CycleEndsAt = &end
		}
		item, err := uc.scheduleItemAt(ctx, sub, nextAt, plan)
		if err != nil {
			return err
		}

		if invoiceNow {
			pending = append(pending, item)
			order, err := uc.orders.CreateFromItems(ctx, pending, true)
			if err != nil {
				return err
			}
			return uc.orders.ProcessPayment(ctx, order)
		}
		return nil
	})
}

// reimburseUnusedTime credits the owner for the remainder of the current
// cycle: −(plan amount × remaining fraction), rounded half away from zero so
// the half-cent goes to the owner. Returns nil when nothing remains.
func (uc *SubscriptionUsecase) reimburseUnusedTime(ctx context.Context, sub *Subscription, now time.Time) (*OrderItem, error) {
	remaining := 1 - sub.CycleProgress(now)
	if remaining <= 0 {
		return nil, nil
	}
	plan, err := uc.plans.Get(sub.Plan)
	if err != nil {
		return nil, err
	}
	amount := decimal.NewFromInt(plan.Amount.Amount).
		Mul(decimal.NewFromFloat(remaining)).
		Round(0).
		IntPart()
	if amount == 0 {
		return nil, nil
	}
	item := &OrderItem{
		ID:            uuid.New().String(),
		Owner:         sub.Owner,
		Orderable:     sub.Ref(),
		Currency:      plan.Amount.Currency,
		UnitPrice:     -amount,
		Quantity:      sub.Quantity,
		TaxPercentage: sub.TaxPercentage,
		Description:   fmt.Sprintf("%s (unused time)", plan.Description),
		ProcessAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.itemRepo.SaveOrderItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (uc *SubscriptionUsecase) removeScheduledItem(ctx context.Context, sub *Subscription) error {
	if sub.ScheduledItemID == nil {
		return nil
	}
	item, err := uc.itemRepo.GetOrderItem(ctx, *sub.ScheduledItemID)
	if err != nil {
		return err
	}
	if item != nil && !item.Processed() {
		if err := uc.itemRepo.DeleteOrderItem(ctx, item.ID); err != nil {
			return err
		}
	}
	sub.ScheduledItemID = nil
	sub.UpdatedAt = uc.now()
	return uc.subRepo.SaveSubscription(ctx, sub)
}

// GetSubscription loads a subscription.
func (uc *SubscriptionUsecase) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	return uc.mustGet(ctx, id)
}

// ListForOwner lists an owner's subscriptions.
func (uc *SubscriptionUsecase) ListForOwner(ctx context.Context, owner Ref) ([]*Subscription, error) {
	return uc.subRepo.ListSubscriptionsForOwner(ctx, owner)
}

func (uc *SubscriptionUsecase) mustGet(ctx context.Context, id string) (*Subscription, error) {
	sub, err := uc.subRepo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errs.New(errs.ErrCodeSubscriptionNotFound, errs.ReasonSubscriptionNotFound,
			"subscription %s not found", id)
	}
	return sub, nil
}

func (uc *SubscriptionUsecase) recordEvent(ctx context.Context, sub *Subscription, kind, detail string) error {
	return uc.eventRepo.RecordEvent(ctx, &BillingEvent{
		Owner:          sub.Owner,
		Kind:           kind,
		SubscriptionID: sub.ID,
		Detail:         detail,
		CreatedAt:      uc.now(),
	})
}

// subscriptionOrderable adapts a subscription to the Orderable hooks.
type subscriptionOrderable struct {
	uc  *SubscriptionUsecase
	sub *Subscription
}

// PreprocessOrderItem runs the plan's preprocessor chain over the item.
func (o *subscriptionOrderable) PreprocessOrderItem(ctx context.Context, item *OrderItem) (ItemCollection, error) {
	plan, err := o.uc.plans.Get(o.sub.Plan)
	if err != nil {
		return nil, err
	}
	return o.uc.preprocessors.Run(ctx, plan.Preprocessors, ItemCollection{item})
}

// ProcessOrderItem advances the billing cycle.
func (o *subscriptionOrderable) ProcessOrderItem(ctx context.Context, item *OrderItem) error {
	return o.uc.processScheduledItem(ctx, o.sub, item)
}

// HandlePaymentPaid is a no-op: the cycle was advanced optimistically when
// the item was processed.
func (o *subscriptionOrderable) HandlePaymentPaid(context.Context, *OrderItem) error { return nil }

// HandlePaymentFailed cancels the subscription: at the trial end while
// trialing, immediately otherwise.
func (o *subscriptionOrderable) HandlePaymentFailed(ctx context.Context, _ *OrderItem) error {
	now := o.uc.now()
	at := now
	if o.sub.OnTrial(now) {
		at = *o.sub.TrialEndsAt
	}
	return o.uc.CancelAt(ctx, o.sub, at, constants.CancellationReasonPaymentFailed)
}
