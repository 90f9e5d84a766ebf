package biz

import (
	"context"
	"io"
	"testing"
	"time"

	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memActionRepo struct {
	actions []*FirstPaymentAction
}

func (r *memActionRepo) SaveFirstPaymentAction(_ context.Context, a *FirstPaymentAction) error {
	r.actions = append(r.actions, a)
	return nil
}

func (r *memActionRepo) ListFirstPaymentActions(_ context.Context, paymentID string) ([]*FirstPaymentAction, error) {
	var out []*FirstPaymentAction
	for _, a := range r.actions {
		if a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memActionRepo) DeleteFirstPaymentActions(_ context.Context, paymentID string) error {
	var keep []*FirstPaymentAction
	for _, a := range r.actions {
		if a.PaymentID != paymentID {
			keep = append(keep, a)
		}
	}
	r.actions = keep
	return nil
}

func newWebhookEngine(t *testing.T, debug bool) (*testEngine, *WebhookUsecase, *memActionRepo) {
	t.Helper()
	e := newTestEngine(t)
	actions := &memActionRepo{}
	c := &conf.Bootstrap{Gateway: &conf.Gateway{Debug: debug}}
	w := NewWebhookUsecase(e.orders, e.subs, e.orderRep, e.payments, e.owners, e.credits,
		actions, e.gateway, nil, memTx{}, c, log.NewStdLogger(io.Discard))
	w.now = func() time.Time { return testNow }
	return e, w, actions
}

func TestCreateFirstPaymentQueuesActions(t *testing.T) {
	e, w, actions := newWebhookEngine(t, false)
	ctx := context.Background()
	require.NoError(t, e.owners.SaveOwner(ctx, &Owner{ID: "bob", GatewayCustomerID: "cst_bob"}))

	gp, err := w.CreateFirstPayment(ctx, FirstPaymentParams{
		OwnerID:     "bob",
		Amount:      NewMoney(1000, "EUR"),
		Description: "Basic plan (first payment)",
		RedirectURL: "https://app.example.com/done",
		Actions: []*FirstPaymentAction{{
			Kind:     constants.FirstActionStartSubscription,
			Plan:     "basic-monthly",
			Quantity: 1,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, constants.PaymentStatusOpen, gp.Status)

	require.Len(t, e.gateway.created, 1)
	call := e.gateway.created[0]
	assert.Equal(t, "cst_bob", call.CustomerID)
	assert.Empty(t, call.MandateID) // no mandate yet, checkout flow
	assert.Equal(t, "https://app.example.com/done", call.RedirectURL)
	assert.Equal(t, "true", call.Metadata["first_payment"])

	queued, err := actions.ListFirstPaymentActions(ctx, gp.ID)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, Ref{Kind: "owner", ID: "bob"}, queued[0].Owner)

	mirror, err := e.payments.GetPayment(ctx, gp.ID)
	require.NoError(t, err)
	require.NotNil(t, mirror)
	assert.Equal(t, constants.PaymentStatusOpen, mirror.Status)
}

func TestCreateFirstPaymentUnknownOwner(t *testing.T) {
	_, w, _ := newWebhookEngine(t, false)
	_, err := w.CreateFirstPayment(context.Background(), FirstPaymentParams{
		OwnerID: "ghost",
		Amount:  NewMoney(1000, "EUR"),
	})
	assert.True(t, errs.Is(err, errs.ReasonOwnerNotFound))
}

func TestFirstPaymentPaidStoresMandateAndReplaysActions(t *testing.T) {
	e, w, actions := newWebhookEngine(t, false)
	ctx := context.Background()
	require.NoError(t, e.owners.SaveOwner(ctx, &Owner{ID: "bob", GatewayCustomerID: "cst_bob"}))

	gp, err := w.CreateFirstPayment(ctx, FirstPaymentParams{
		OwnerID:     "bob",
		Amount:      NewMoney(1000, "EUR"),
		Description: "Basic plan (first payment)",
		Actions: []*FirstPaymentAction{{
			Kind:     constants.FirstActionStartSubscription,
			Plan:     "basic-monthly",
			Quantity: 1,
		}},
	})
	require.NoError(t, err)

	// Owner completed checkout: the payment is paid and carries the mandate
	// it created.
	e.gateway.payments[gp.ID].Status = constants.PaymentStatusPaid
	e.gateway.payments[gp.ID].MandateID = "mdt_fresh"

	require.NoError(t, w.HandleFirstPaymentWebhook(ctx, gp.ID))

	owner, err := e.owners.GetOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "mdt_fresh", owner.MandateID)

	subs, err := e.subRepo.ListSubscriptionsForOwner(ctx, owner.Ref())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "basic-monthly", subs[0].Plan)

	queued, err := actions.ListFirstPaymentActions(ctx, gp.ID)
	require.NoError(t, err)
	assert.Empty(t, queued)

	mirror, err := e.payments.GetPayment(ctx, gp.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.PaymentStatusPaid, mirror.Status)
}

func TestFirstPaymentPaidTopUpAndCharge(t *testing.T) {
	e, w, _ := newWebhookEngine(t, false)
	ctx := context.Background()
	require.NoError(t, e.owners.SaveOwner(ctx, &Owner{ID: "bob", GatewayCustomerID: "cst_bob"}))

	gp, err := w.CreateFirstPayment(ctx, FirstPaymentParams{
		OwnerID: "bob",
		Amount:  NewMoney(500, "EUR"),
		Actions: []*FirstPaymentAction{
			{Kind: constants.FirstActionTopUpBalance, Amount: 500, Currency: "EUR"},
			{Kind: constants.FirstActionCharge, Description: "Setup fee", Amount: 1000, Currency: "EUR"},
		},
	})
	require.NoError(t, err)

	e.gateway.payments[gp.ID].Status = constants.PaymentStatusPaid
	e.gateway.payments[gp.ID].MandateID = "mdt_fresh"

	require.NoError(t, w.HandleFirstPaymentWebhook(ctx, gp.ID))

	// The top-up landed first, so the charge consumed it in full.
	orders, _, err := e.orderRep.ListOrders(ctx, Ref{Kind: "owner", ID: "bob"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(500), orders[0].CreditUsed)
	assert.Equal(t, int64(500), orders[0].TotalDue)

	balance, err := e.credits.GetCredit(ctx, Ref{Kind: "owner", ID: "bob"}, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Value)
}

func TestFirstPaymentFailureDropsActions(t *testing.T) {
	e, w, actions := newWebhookEngine(t, false)
	ctx := context.Background()
	require.NoError(t, e.owners.SaveOwner(ctx, &Owner{ID: "bob", GatewayCustomerID: "cst_bob"}))

	gp, err := w.CreateFirstPayment(ctx, FirstPaymentParams{
		OwnerID: "bob",
		Amount:  NewMoney(1000, "EUR"),
		Actions: []*FirstPaymentAction{{
			Kind: constants.FirstActionStartSubscription, Plan: "basic-monthly", Quantity: 1,
		}},
	})
	require.NoError(t, err)

	e.gateway.payments[gp.ID].Status = constants.PaymentStatusExpired

	require.NoError(t, w.HandleFirstPaymentWebhook(ctx, gp.ID))

	queued, err := actions.ListFirstPaymentActions(ctx, gp.ID)
	require.NoError(t, err)
	assert.Empty(t, queued)

	subs, err := e.subRepo.ListSubscriptionsForOwner(ctx, Ref{Kind: "owner", ID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, subs)

	mirror, err := e.payments.GetPayment(ctx, gp.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.PaymentStatusExpired, mirror.Status)
}

func TestFirstPaymentWebhookUnknownPayment(t *testing.T) {
	// Gateways probe webhooks with unknown ids; only debug mode escalates.
	_, w, _ := newWebhookEngine(t, false)
	assert.NoError(t, w.HandleFirstPaymentWebhook(context.Background(), "tr_bogus"))

	_, w, _ = newWebhookEngine(t, true)
	err := w.HandleFirstPaymentWebhook(context.Background(), "tr_bogus")
	assert.True(t, errs.Is(err, errs.ReasonGatewayError))
}
