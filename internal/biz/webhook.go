package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FirstPaymentAction is a queued instruction executed once an owner's
// mandate-establishing first payment confirms. The checkout payment both
// carries the money and creates the mandate; what the owner actually bought
// is recorded here and replayed from the webhook.
type FirstPaymentAction struct {
	ID        string
	Owner     Ref
	PaymentID string
	Kind      string

	// start_subscription
	Plan          string
	Quantity      int
	TrialUntil    *time.Time
	Coupon        string
	TaxPercentage decimal.Decimal

	// charge / top_up_balance
	Description string
	Amount      int64
	Currency    string

	CreatedAt time.Time
}

// FirstPaymentActionRepo persists queued first payment actions.
type FirstPaymentActionRepo interface {
	SaveFirstPaymentAction(ctx context.Context, a *FirstPaymentAction) error
	ListFirstPaymentActions(ctx context.Context, paymentID string) ([]*FirstPaymentAction, error)
	DeleteFirstPaymentActions(ctx context.Context, paymentID string) error
}

// WebhookUsecase reconciles gateway payment status callbacks with local
// state. Webhooks carry only a payment id; the status is always re-fetched
// from the gateway, never trusted from the request.
type WebhookUsecase struct {
	orders      *OrderUsecase
	subs        *SubscriptionUsecase
	orderRepo   OrderRepo
	paymentRepo PaymentRepo
	ownerRepo   OwnerRepo
	creditRepo  CreditRepo
	actionRepo  FirstPaymentActionRepo
	gateway     Gateway
	rs          *redsync.Redsync
	tm          Transaction
	log         *log.Helper

	// debug propagates gateway lookup errors instead of swallowing them
	debug bool
	now   func() time.Time
}

// NewWebhookUsecase creates the webhook usecase.
func NewWebhookUsecase(
	orders *OrderUsecase,
	subs *SubscriptionUsecase,
	orderRepo OrderRepo,
	paymentRepo PaymentRepo,
	ownerRepo OwnerRepo,
	creditRepo CreditRepo,
	actionRepo FirstPaymentActionRepo,
	gateway Gateway,
	rs *redsync.Redsync,
	tm Transaction,
	c *conf.Bootstrap,
	logger log.Logger,
) *WebhookUsecase {
	return &WebhookUsecase{
		orders:      orders,
		subs:        subs,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		ownerRepo:   ownerRepo,
		creditRepo:  creditRepo,
		actionRepo:  actionRepo,
		gateway:     gateway,
		rs:          rs,
		tm:          tm,
		log:         log.NewHelper(logger),
		debug:       c.Gateway != nil && c.Gateway.Debug,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandlePaymentWebhook processes a status callback for a mandated order
// payment. Unknown payment ids are ignored: gateways retry webhooks and
// probe with test ids, so a lookup miss is not an error unless debug is on.
func (uc *WebhookUsecase) HandlePaymentWebhook(ctx context.Context, paymentID string) error {
	mutex := uc.rs.NewMutex(
		fmt.Sprintf("billing:webhook:%s", paymentID),
		redsync.WithExpiry(constants.WebhookLockExpiration),
	)
	if err := mutex.LockContext(ctx); err != nil {
		uc.log.Warnf("Webhook lock busy for payment %s: %v", paymentID, err)
		return nil
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to release webhook lock for payment %s: %v", paymentID, err)
		}
	}()

	gp, err := uc.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		if uc.debug {
			return errs.New(errs.ErrCodeGatewayError, errs.ReasonGatewayError,
				"payment lookup failed: %v", err)
		}
		uc.log.Warnf("Ignoring webhook for unresolvable payment %s: %v", paymentID, err)
		return nil
	}

	order, err := uc.orderRepo.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if order == nil {
		uc.log.Infof("Webhook for payment %s matches no order, ignoring", paymentID)
		return nil
	}

	local, err := uc.paymentRepo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if local != nil && local.Status == gp.Status {
		uc.log.Infof("Payment %s already at status %s, skipping", paymentID, gp.Status)
		return nil
	}

	switch gp.Status {
	case constants.PaymentStatusPaid:
		if err := uc.orders.HandlePaymentPaid(ctx, order); err != nil {
			return err
		}
	case constants.PaymentStatusFailed, constants.PaymentStatusCanceled, constants.PaymentStatusExpired:
		if err := uc.orders.HandlePaymentFailed(ctx, order); err != nil {
			return err
		}
	default:
		uc.log.Infof("Payment %s moved to %s, nothing to do", paymentID, gp.Status)
	}

	return uc.updateMirror(ctx, local, gp, order)
}

func (uc *WebhookUsecase) updateMirror(ctx context.Context, local *Payment, gp *GatewayPayment, order *Order) error {
	now := uc.now()
	if local == nil {
		local = &Payment{
			ID:        gp.ID,
			OrderID:   order.ID,
			Owner:     order.Owner,
			Amount:    gp.Amount,
			CreatedAt: now,
		}
	}
	local.Status = gp.Status
	local.UpdatedAt = now
	return uc.paymentRepo.SavePayment(ctx, local)
}

// FirstPaymentParams describes a checkout-style first payment: no mandate
// exists yet, so the owner pays interactively and the payment creates one.
type FirstPaymentParams struct {
	OwnerID     string
	Amount      Money
	Description string
	RedirectURL string
	WebhookURL  string
	Actions     []*FirstPaymentAction
}

// CreateFirstPayment creates the checkout payment and queues the actions to
// run when it confirms. Returns the gateway payment; its CheckoutURL is
// where the owner completes the payment.
func (uc *WebhookUsecase) CreateFirstPayment(ctx context.Context, p FirstPaymentParams) (*GatewayPayment, error) {
	owner, err := uc.ownerRepo.GetOwner(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, errs.New(errs.ErrCodeOwnerNotFound, errs.ReasonOwnerNotFound,
			"owner %s not found", p.OwnerID)
	}

	gp, err := uc.gateway.CreatePayment(ctx, CreatePaymentParams{
		CustomerID:  owner.GatewayCustomerID,
		Amount:      p.Amount,
		Description: p.Description,
		RedirectURL: p.RedirectURL,
		WebhookURL:  p.WebhookURL,
		Metadata:    map[string]string{"owner_id": owner.ID, "first_payment": "true"},
	})
	if err != nil {
		return nil, errs.New(errs.ErrCodeGatewayError, errs.ReasonGatewayError,
			"first payment creation failed: %v", err)
	}

	err = uc.tm.Exec(ctx, func(ctx context.Context) error {
		now := uc.now()
		if err := uc.paymentRepo.SavePayment(ctx, &Payment{
			ID:        gp.ID,
			Owner:     owner.Ref(),
			Amount:    gp.Amount,
			Status:    gp.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		for _, a := range p.Actions {
			a.ID = uuid.New().String()
			a.Owner = owner.Ref()
			a.PaymentID = gp.ID
			a.CreatedAt = now
			if err := uc.actionRepo.SaveFirstPaymentAction(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("Created first payment %s for owner %s (%d %s, %d actions)",
		gp.ID, owner.ID, p.Amount.Amount, p.Amount.Currency, len(p.Actions))
	return gp, nil
}

// HandleFirstPaymentWebhook processes the status callback for a checkout
// first payment. On paid, one transaction stores the fresh mandate on the
// owner and replays the queued actions; on a terminal failure the actions
// are discarded.
func (uc *WebhookUsecase) HandleFirstPaymentWebhook(ctx context.Context, paymentID string) error {
	gp, err := uc.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		if uc.debug {
			return errs.New(errs.ErrCodeGatewayError, errs.ReasonGatewayError,
				"payment lookup failed: %v", err)
		}
		uc.log.Warnf("Ignoring first payment webhook for unresolvable payment %s: %v", paymentID, err)
		return nil
	}

	actions, err := uc.actionRepo.ListFirstPaymentActions(ctx, paymentID)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		uc.log.Infof("First payment %s has no queued actions, ignoring", paymentID)
		return nil
	}
	ownerRef := actions[0].Owner

	switch gp.Status {
	case constants.PaymentStatusPaid:
		return uc.tm.Exec(ctx, func(ctx context.Context) error {
			owner, err := uc.ownerRepo.GetOwner(ctx, ownerRef.ID)
			if err != nil {
				return err
			}
			if owner == nil {
				return errs.New(errs.ErrCodeOwnerNotFound, errs.ReasonOwnerNotFound,
					"owner %s not found", ownerRef.ID)
			}
			if gp.MandateID != "" {
				owner.MandateID = gp.MandateID
				owner.UpdatedAt = uc.now()
				if err := uc.ownerRepo.SaveOwner(ctx, owner); err != nil {
					return err
				}
			}
			for _, a := range actions {
				if err := uc.executeAction(ctx, owner, a); err != nil {
					return err
				}
			}
			if err := uc.actionRepo.DeleteFirstPaymentActions(ctx, paymentID); err != nil {
				return err
			}
			return uc.updateFirstPaymentMirror(ctx, gp, ownerRef)
		})
	case constants.PaymentStatusFailed, constants.PaymentStatusCanceled, constants.PaymentStatusExpired:
		return uc.tm.Exec(ctx, func(ctx context.Context) error {
			uc.log.Infof("First payment %s ended %s, dropping %d queued actions",
				paymentID, gp.Status, len(actions))
			if err := uc.actionRepo.DeleteFirstPaymentActions(ctx, paymentID); err != nil {
				return err
			}
			return uc.updateFirstPaymentMirror(ctx, gp, ownerRef)
		})
	default:
		return nil
	}
}

func (uc *WebhookUsecase) executeAction(ctx context.Context, owner *Owner, a *FirstPaymentAction) error {
	switch a.Kind {
	case constants.FirstActionStartSubscription:
		_, err := uc.subs.Start(ctx, StartParams{
			Owner:         owner.Ref(),
			Plan:          a.Plan,
			Quantity:      a.Quantity,
			TaxPercentage: a.TaxPercentage,
			TrialUntil:    a.TrialUntil,
			Coupon:        a.Coupon,
		})
		return err
	case constants.FirstActionCharge:
		_, err := uc.orders.ChargeNow(ctx, owner.Ref(), a.Description,
			NewMoney(a.Amount, a.Currency), 1, a.TaxPercentage)
		return err
	case constants.FirstActionTopUpBalance:
		return uc.creditRepo.AddAmount(ctx, owner.Ref(), a.Currency, a.Amount)
	default:
		uc.log.Warnf("Unknown first payment action kind %q, skipping", a.Kind)
		return nil
	}
}

func (uc *WebhookUsecase) updateFirstPaymentMirror(ctx context.Context, gp *GatewayPayment, owner Ref) error {
	local, err := uc.paymentRepo.GetPayment(ctx, gp.ID)
	if err != nil {
		return err
	}
	now := uc.now()
	if local == nil {
		local = &Payment{ID: gp.ID, Owner: owner, Amount: gp.Amount, CreatedAt: now}
	}
	local.Status = gp.Status
	local.UpdatedAt = now
	return uc.paymentRepo.SavePayment(ctx, local)
}
