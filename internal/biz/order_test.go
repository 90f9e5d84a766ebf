package biz

import (
	"context"
	"testing"

	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeNowCreatesGatewayPayment(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	order, err := e.orders.ChargeNow(ctx, owner, "Consulting", NewMoney(1025, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, order.Processed())
	assert.Equal(t, int64(1025), order.Total)
	assert.Equal(t, int64(1025), order.TotalDue)
	assert.Equal(t, int64(0), order.CreditUsed)
	assert.Equal(t, constants.PaymentStatusOpen, order.PaymentStatus)
	assert.NotEmpty(t, order.PaymentID)

	require.Len(t, e.gateway.created, 1)
	call := e.gateway.created[0]
	assert.Equal(t, "cst_alice", call.CustomerID)
	assert.Equal(t, "mdt_alice", call.MandateID)
	assert.Equal(t, NewMoney(1025, "EUR"), call.Amount)
	assert.Equal(t, order.ID, call.Metadata["order_id"])

	mirror, err := e.payments.GetPayment(ctx, order.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, mirror)
	assert.Equal(t, order.ID, mirror.OrderID)

	assert.Contains(t, e.events.kinds(), constants.EventOrderCreated)
	assert.Contains(t, e.events.kinds(), constants.EventOrderProcessed)
}

func TestChargeNowBelowMinimumBecomesDebt(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	order, err := e.orders.ChargeNow(ctx, owner, "Small fee", NewMoney(25, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, constants.PaymentStatusSettled, order.PaymentStatus)
	assert.Empty(t, order.PaymentID)
	assert.Empty(t, e.gateway.created)

	balance, err := e.credits.GetCredit(ctx, owner, "EUR")
	require.NoError(t, err)
	require.NotNil(t, balance)
	assert.Equal(t, int64(-25), balance.Value)

	// No active subscription means nothing will sweep the debt up later.
	assert.Contains(t, e.events.kinds(), constants.EventBalanceTurnedStale)
}

func TestChargeNowBelowMinimumWithActiveSubscription(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	require.NoError(t, e.subRepo.SaveSubscription(ctx, &Subscription{
		ID:       uuid.New().String(),
		Owner:    owner,
		Plan:     "basic-monthly",
		Currency: "EUR",
		Quantity: 1,
	}))

	_, err := e.orders.ChargeNow(ctx, owner, "Small fee", NewMoney(25, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)

	// The debt rides along with the next cycle charge; not stale.
	assert.NotContains(t, e.events.kinds(), constants.EventBalanceTurnedStale)
}

func TestProcessPaymentConsumesCredit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	require.NoError(t, e.credits.AddAmount(ctx, owner, "EUR", 1500))

	order, err := e.orders.ChargeNow(ctx, owner, "Monthly", NewMoney(1000, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), order.BalanceBefore)
	assert.Equal(t, int64(1000), order.CreditUsed)
	assert.Equal(t, int64(0), order.TotalDue)
	assert.Equal(t, constants.PaymentStatusSettled, order.PaymentStatus)
	assert.Empty(t, e.gateway.created)

	balance, err := e.credits.GetCredit(ctx, owner, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Value)
}

func TestProcessPaymentPartialCredit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	require.NoError(t, e.credits.AddAmount(ctx, owner, "EUR", 400))

	order, err := e.orders.ChargeNow(ctx, owner, "Monthly", NewMoney(1000, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, int64(400), order.CreditUsed)
	assert.Equal(t, int64(600), order.TotalDue)
	assert.Equal(t, constants.PaymentStatusOpen, order.PaymentStatus)
	require.Len(t, e.gateway.created, 1)
	assert.Equal(t, NewMoney(600, "EUR"), e.gateway.created[0].Amount)
}

func TestProcessPaymentIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	order, err := e.orders.ChargeNow(ctx, owner, "Monthly", NewMoney(1000, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, e.gateway.created, 1)

	require.NoError(t, e.orders.ProcessPayment(ctx, order))
	assert.Len(t, e.gateway.created, 1)
}

func TestNegativeOrderBecomesCredit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	item := itemFor(owner, "EUR", -300, 1, "0")
	order, err := e.orders.CreateFromItems(ctx, ItemCollection{item}, false)
	require.NoError(t, err)
	require.NoError(t, e.orders.ProcessPayment(ctx, order))

	assert.Equal(t, int64(-300), order.TotalDue)
	assert.Equal(t, constants.PaymentStatusSettled, order.PaymentStatus)
	assert.Empty(t, e.gateway.created)

	balance, err := e.credits.GetCredit(ctx, owner, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance.Value)
}

func TestProcessPaymentRequiresMandate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := &Owner{ID: "bob", GatewayCustomerID: "cst_bob"}
	require.NoError(t, e.owners.SaveOwner(ctx, owner))

	_, err := e.orders.ChargeNow(ctx, owner.Ref(), "Monthly", NewMoney(1000, "EUR"), 1, decimal.Zero)
	assert.True(t, errs.Is(err, errs.ReasonInvalidMandate))
	assert.Empty(t, e.gateway.created)
}

func TestProcessPaymentRejectsRevokedMandate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	e.gateway.mandateStatus = "revoked"

	_, err := e.orders.ChargeNow(ctx, owner, "Monthly", NewMoney(1000, "EUR"), 1, decimal.Zero)
	assert.True(t, errs.Is(err, errs.ReasonInvalidMandate))
}

func TestHandlePaymentPaid(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	order, err := e.orders.ChargeNow(ctx, owner, "Monthly", NewMoney(1000, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, e.orders.HandlePaymentPaid(ctx, order))
	assert.Equal(t, constants.PaymentStatusPaid, order.PaymentStatus)
	assert.Contains(t, e.events.kinds(), constants.EventOrderPaymentPaid)
}

func TestHandlePaymentFailedRestoresCreditAndClearsMandate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")
	require.NoError(t, e.credits.AddAmount(ctx, owner, "EUR", 500))

	order, err := e.orders.ChargeNow(ctx, owner, "Monthly", NewMoney(1000, "EUR"), 1, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, int64(500), order.CreditUsed)
	require.Equal(t, int64(500), order.TotalDue)

	e.gateway.mandateStatus = "invalid"
	require.NoError(t, e.orders.HandlePaymentFailed(ctx, order))

	assert.Equal(t, constants.PaymentStatusFailed, order.PaymentStatus)
	assert.Equal(t, int64(0), order.CreditUsed)
	assert.Equal(t, int64(0), order.BalanceBefore)

	balance, err := e.credits.GetCredit(ctx, owner, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Value)

	stored, err := e.owners.GetOwner(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, stored.HasMandate())
	assert.Contains(t, e.events.kinds(), constants.EventMandateCleared)
	assert.Contains(t, e.events.kinds(), constants.EventOrderPaymentFailed)
}

func TestCreateFromItemsRejectsMixedSets(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	alice := Ref{Kind: "owner", ID: "alice"}
	bob := Ref{Kind: "owner", ID: "bob"}

	_, err := e.orders.CreateFromItems(ctx, ItemCollection{
		itemFor(alice, "EUR", 100, 1, "0"),
		itemFor(bob, "EUR", 100, 1, "0"),
	}, false)
	assert.True(t, errs.Is(err, errs.ReasonOwnerMismatch))

	_, err = e.orders.CreateFromItems(ctx, nil, false)
	assert.True(t, errs.Is(err, errs.ReasonOrderEmpty))
}

func TestGetOrderLoadsItems(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owner := e.seedOwner(t, "alice")

	created, err := e.orders.ChargeNow(ctx, owner, "Monthly", NewMoney(1000, "EUR"), 2, decimal.Zero)
	require.NoError(t, err)

	loaded, err := e.orders.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, int64(2000), loaded.Total)

	_, err = e.orders.GetOrder(ctx, "missing")
	assert.True(t, errs.Is(err, errs.ReasonOrderNotFound))
}
