package biz

import (
	"context"
	"testing"
	"time"

	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSchedulesImmediateFirstBill(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)

	assert.False(t, sub.OnTrial(testNow))
	assert.True(t, sub.Active(testNow))
	require.NotNil(t, sub.CycleEndsAt)
	assert.Equal(t, testNow, *sub.CycleEndsAt)
	require.NotNil(t, sub.ScheduledItemID)

	due, err := e.items.ListDueOrderItems(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1000), due[0].UnitPrice)
	assert.Equal(t, sub.Ref(), due[0].Orderable)

	assert.Contains(t, e.events.kinds(), constants.EventSubscriptionStarted)
}

func TestStartWithTrial(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	trialEnd := testNow.AddDate(0, 0, 14)

	sub, err := e.subs.Start(ctx, StartParams{
		Owner: owner, Plan: "basic-monthly", Quantity: 1, TrialUntil: &trialEnd,
	})
	require.NoError(t, err)

	assert.True(t, sub.OnTrial(testNow))
	assert.Equal(t, trialEnd, *sub.CycleEndsAt)

	// Nothing is billable until the trial ends.
	due, err := e.items.ListDueOrderItems(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = e.items.ListDueOrderItems(ctx, trialEnd)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestStartRejectsBadInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	_, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 0})
	assert.True(t, errs.Is(err, errs.ReasonInvalidQuantity))

	_, err = e.subs.Start(ctx, StartParams{Owner: owner, Plan: "no-such-plan", Quantity: 1})
	assert.True(t, errs.Is(err, errs.ReasonPlanNotFound))
}

func TestCycleAdvancesWhenItemIsBilled(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)

	orders := e.billDue(t, testNow)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1000), orders[0].Total)

	// The cycle rolled over and exactly one new item is scheduled at its end.
	nextEnd := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, testNow, sub.CycleStartedAt)
	require.NotNil(t, sub.CycleEndsAt)
	assert.Equal(t, nextEnd, *sub.CycleEndsAt)
	require.NotNil(t, sub.ScheduledItemID)

	due, err := e.items.ListDueOrderItems(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = e.items.ListDueOrderItems(ctx, nextEnd)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, *sub.ScheduledItemID, due[0].ID)

	// The billed item is annotated with the period it paid for.
	billed := orders[0].Items[0]
	require.Len(t, billed.DescriptionExtraLines, 1)
	assert.Equal(t, "From 2026-03-10 to 2026-04-10", billed.DescriptionExtraLines[0])

	// Next sweep bills the next cycle.
	e.setClock(nextEnd)
	orders = e.billDue(t, nextEnd)
	require.Len(t, orders, 1)
	assert.Equal(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC), *sub.CycleEndsAt)
}

func TestSubscriptionCouponDiscountsFirstCycles(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	require.NoError(t, e.couponReg.AddCoupon(&Coupon{
		Name:    "welcome",
		Handler: constants.CouponHandlerPercentage,
		Times:   2,
		Context: CouponContext{Percentage: decimal.NewFromInt(20), Description: "Welcome discount"},
	}))

	sub, err := e.subs.Start(ctx, StartParams{
		Owner: owner, Plan: "basic-monthly", Quantity: 1, Coupon: "welcome",
	})
	require.NoError(t, err)

	orders := e.billDue(t, testNow)
	require.Len(t, orders, 1)
	require.Len(t, orders[0].Items, 2)
	assert.Equal(t, int64(800), orders[0].Total)

	// Second cycle still discounted, third back to full price.
	second := *sub.CycleEndsAt
	e.setClock(second)
	orders = e.billDue(t, second)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(800), orders[0].Total)

	third := *sub.CycleEndsAt
	e.setClock(third)
	orders = e.billDue(t, third)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1000), orders[0].Total)
}

func TestCancelAtCycleEndAndResume(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)
	e.billDue(t, testNow)
	cycleEnd := *sub.CycleEndsAt

	require.NoError(t, e.subs.Cancel(ctx, sub, constants.CancellationReasonRequested))
	assert.Equal(t, cycleEnd, *sub.EndsAt)
	assert.True(t, sub.OnGracePeriod(testNow))
	assert.Nil(t, sub.ScheduledItemID)

	// The upcoming cycle item is gone; nothing bills at the boundary.
	due, err := e.items.ListDueOrderItems(ctx, cycleEnd)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, e.subs.Resume(ctx, sub))
	assert.Nil(t, sub.EndsAt)
	assert.Empty(t, sub.CancellationReason)
	assert.Equal(t, cycleEnd, *sub.CycleEndsAt)
	require.NotNil(t, sub.ScheduledItemID)

	due, err = e.items.ListDueOrderItems(ctx, cycleEnd)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	// Not cancelled anymore, so there is nothing to resume.
	err = e.subs.Resume(ctx, sub)
	assert.True(t, errs.Is(err, errs.ReasonCannotResume))
}

func TestCancelNowEndsImmediately(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, e.subs.CancelNow(ctx, sub, constants.CancellationReasonRequested))
	assert.True(t, sub.Ended(testNow))
	assert.False(t, sub.Active(testNow))

	due, err := e.items.ListDueOrderItems(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCancelOnTrialEndsAtTrialEnd(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	trialEnd := testNow.AddDate(0, 0, 14)

	sub, err := e.subs.Start(ctx, StartParams{
		Owner: owner, Plan: "basic-monthly", Quantity: 1, TrialUntil: &trialEnd,
	})
	require.NoError(t, err)

	require.NoError(t, e.subs.Cancel(ctx, sub, constants.CancellationReasonRequested))
	assert.Equal(t, trialEnd, *sub.EndsAt)
}

func TestSwapNextCycleBillsNewPlanAtBoundary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)
	e.billDue(t, testNow)
	cycleEnd := *sub.CycleEndsAt

	require.NoError(t, e.subs.SwapNextCycle(ctx, sub, "pro-yearly"))
	require.NotNil(t, sub.NextPlan)
	assert.Equal(t, "pro-yearly", *sub.NextPlan)
	assert.Equal(t, "basic-monthly", sub.Plan)

	// The transition item sits at the old boundary but is costed under the
	// new plan.
	due, err := e.items.ListDueOrderItems(ctx, cycleEnd)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(10000), due[0].UnitPrice)

	e.setClock(cycleEnd)
	orders := e.billDue(t, cycleEnd)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(10000), orders[0].Total)
	assert.Equal(t, "pro-yearly", sub.Plan)
	assert.Nil(t, sub.NextPlan)
	assert.Equal(t, cycleEnd.AddDate(1, 0, 0), *sub.CycleEndsAt)
	assert.Contains(t, e.events.kinds(), constants.EventSubscriptionPlanSwapped)
}

func TestSwapImmediatelyReimbursesUnusedTime(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)
	e.billDue(t, testNow)

	// Halfway through the 31 day cycle.
	mid := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	e.setClock(mid)

	require.NoError(t, e.subs.Swap(ctx, sub, "pro-yearly", true))
	assert.Equal(t, "pro-yearly", sub.Plan)
	assert.Equal(t, mid, sub.CycleStartedAt)
	assert.Equal(t, mid.AddDate(1, 0, 0), *sub.CycleEndsAt)

	// One order: half the old plan reimbursed against a full year of the new.
	orders, _, err := e.orderRep.ListOrders(ctx, owner, 1, 10)
	require.NoError(t, err)
	var swapOrder *Order
	for _, o := range orders {
		if o.Total == 9500 {
			swapOrder = o
		}
	}
	require.NotNil(t, swapOrder)
	assert.Equal(t, int64(9500), swapOrder.TotalDue)
	assert.Equal(t, constants.PaymentStatusOpen, swapOrder.PaymentStatus)
}

func TestUpdateQuantityRestartsCycleProRata(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)
	e.billDue(t, testNow)

	mid := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	e.setClock(mid)

	require.NoError(t, e.subs.UpdateQuantity(ctx, sub, 3, false))
	assert.Equal(t, 3, sub.Quantity)

	// Due now: -500 unused time plus the new cycle item at quantity 3.
	due, err := e.items.ListDueOrderItems(ctx, mid)
	require.NoError(t, err)
	require.Len(t, due, 2)

	orders := e.billDue(t, mid)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(2500), orders[0].Total)
}

func TestUpdateQuantityValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 2})
	require.NoError(t, err)

	err = e.subs.UpdateQuantity(ctx, sub, 0, false)
	assert.True(t, errs.Is(err, errs.ReasonInvalidQuantity))
	err = e.subs.DecrementQuantity(ctx, sub, 2, false)
	assert.True(t, errs.Is(err, errs.ReasonInvalidQuantity))
}

func TestQuantityChangeOnTrialKeepsTrialBilling(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	trialEnd := testNow.AddDate(0, 0, 14)

	sub, err := e.subs.Start(ctx, StartParams{
		Owner: owner, Plan: "basic-monthly", Quantity: 1, TrialUntil: &trialEnd,
	})
	require.NoError(t, err)

	require.NoError(t, e.subs.IncrementQuantity(ctx, sub, 1, false))
	assert.Equal(t, 2, sub.Quantity)

	// No reimbursement on trial and nothing due before the trial ends.
	due, err := e.items.ListDueOrderItems(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = e.items.ListDueOrderItems(ctx, trialEnd)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Quantity)
	assert.Equal(t, int64(1000), due[0].UnitPrice)
}

func TestPaymentFailureCancelsSubscription(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	sub, err := e.subs.Start(ctx, StartParams{Owner: owner, Plan: "basic-monthly", Quantity: 1})
	require.NoError(t, err)
	orders := e.billDue(t, testNow)
	require.Len(t, orders, 1)
	require.Equal(t, constants.PaymentStatusOpen, orders[0].PaymentStatus)

	require.NoError(t, e.orders.HandlePaymentFailed(ctx, orders[0]))

	assert.True(t, sub.Ended(testNow))
	assert.Equal(t, constants.CancellationReasonPaymentFailed, sub.CancellationReason)
	assert.Nil(t, sub.ScheduledItemID)
	assert.Contains(t, e.events.kinds(), constants.EventSubscriptionCancelled)
}

func TestGetSubscriptionNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.subs.GetSubscription(context.Background(), "missing")
	assert.True(t, errs.Is(err, errs.ReasonSubscriptionNotFound))
}

func TestCycleProgressClamps(t *testing.T) {
	end := testNow.AddDate(0, 1, 0)
	sub := &Subscription{CycleStartedAt: testNow, CycleEndsAt: &end}

	assert.Equal(t, float64(0), sub.CycleProgress(testNow.Add(-time.Hour)))
	assert.Equal(t, float64(1), sub.CycleProgress(end.Add(time.Hour)))
	mid := testNow.Add(end.Sub(testNow) / 2)
	assert.InDelta(t, 0.5, sub.CycleProgress(mid), 1e-9)

	assert.Equal(t, float64(1), (&Subscription{CycleStartedAt: testNow}).CycleProgress(testNow))
}
