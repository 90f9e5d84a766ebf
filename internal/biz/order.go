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

// Order is an immutable-once-processed aggregate of order items for one
// owner and one currency. Subtotal, tax and total are frozen at creation
// time; the credit bookkeeping fields are written once by ProcessPayment.
type Order struct {
	ID       string
	Number   string
	Owner    Ref
	Currency string

	Subtotal int64
	Tax      int64
	Total    int64

	BalanceBefore int64
	CreditUsed    int64
	TotalDue      int64

	ProcessedAt   *time.Time
	PaymentID     string
	PaymentStatus string

	Items ItemCollection

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Processed reports whether the payment decision for this order was made.
func (o *Order) Processed() bool { return o.ProcessedAt != nil }

// OrderRepo persists orders.
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *Order) error
	UpdateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	ListOrders(ctx context.Context, owner Ref, page, pageSize int) ([]*Order, int, error)
}

// SubscriptionRepo is declared in subscription.go; OrderUsecase only needs
// the active-subscription check for the stale-balance signal.

// OrderUsecase turns item sets into orders and orders into payment
// decisions.
type OrderUsecase struct {
	orderRepo     OrderRepo
	itemRepo      OrderItemRepo
	creditRepo    CreditRepo
	ownerRepo     OwnerRepo
	paymentRepo   PaymentRepo
	eventRepo     EventRepo
	subRepo       SubscriptionRepo
	gateway       Gateway
	orderables    *OrderableRegistry
	preprocessors *PreprocessorSet
	tm            Transaction
	log           *log.Helper

	now func() time.Time
}

// NewOrderUsecase creates the order usecase.
func NewOrderUsecase(
	orderRepo OrderRepo,
	itemRepo OrderItemRepo,
	creditRepo CreditRepo,
	ownerRepo OwnerRepo,
	paymentRepo PaymentRepo,
	eventRepo EventRepo,
	subRepo SubscriptionRepo,
	gateway Gateway,
	orderables *OrderableRegistry,
	preprocessors *PreprocessorSet,
	tm Transaction,
	logger log.Logger,
) *OrderUsecase {
	return &OrderUsecase{
		orderRepo:     orderRepo,
		itemRepo:      itemRepo,
		creditRepo:    creditRepo,
		ownerRepo:     ownerRepo,
		paymentRepo:   paymentRepo,
		eventRepo:     eventRepo,
		subRepo:       subRepo,
		gateway:       gateway,
		orderables:    orderables,
		preprocessors: preprocessors,
		tm:            tm,
		log:           log.NewHelper(logger),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Preprocessors exposes the preprocessor set for orderables that run plan
// chains.
func (uc *OrderUsecase) Preprocessors() *PreprocessorSet { return uc.preprocessors }

// CreateFromItems builds an order from an unprocessed item collection. When
// preprocess is set, each item is first expanded through its orderable
// (coupons fold in here) and the orderable's process hook fires for every
// final item. All of it runs in one transaction: a failing stage persists
// nothing.
func (uc *OrderUsecase) CreateFromItems(ctx context.Context, items ItemCollection, preprocess bool) (*Order, error) {
	var order *Order
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		var err error
		if preprocess {
			if items, err = uc.preprocessItems(ctx, items); err != nil {
				return err
			}
		}
		if err = items.Validate(); err != nil {
			return err
		}

		now := uc.now()
		order = &Order{
			ID:        uuid.New().String(),
			Number:    fmt.Sprintf("ORD%d", now.UnixNano()),
			Owner:     items.Owners()[0],
			Currency:  items.Currencies()[0],
			Subtotal:  items.Subtotal(),
			Tax:       items.Tax(),
			Total:     items.Total(),
			Items:     items,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err = uc.orderRepo.CreateOrder(ctx, order); err != nil {
			return err
		}

		for _, item := range items {
			item.OrderID = &order.ID
			item.UpdatedAt = now
			if err = uc.itemRepo.SaveOrderItem(ctx, item); err != nil {
				return err
			}
			if preprocess {
				if err = uc.dispatchProcess(ctx, item); err != nil {
					return err
				}
			}
		}

		return uc.eventRepo.RecordEvent(ctx, &BillingEvent{
			Owner:     order.Owner,
			Kind:      constants.EventOrderCreated,
			OrderID:   order.ID,
			Detail:    fmt.Sprintf("total=%d %s items=%d", order.Total, order.Currency, len(items)),
			CreatedAt: uc.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("Created order %s for %s: subtotal=%d tax=%d total=%d %s",
		order.Number, order.Owner, order.Subtotal, order.Tax, order.Total, order.Currency)
	return order, nil
}

func (uc *OrderUsecase) preprocessItems(ctx context.Context, items ItemCollection) (ItemCollection, error) {
	var out ItemCollection
	for _, item := range items {
		orderable, err := uc.orderables.Resolve(ctx, item.Orderable)
		if err != nil {
			return nil, err
		}
		if orderable == nil {
			out = append(out, item)
			continue
		}
		expanded, err := orderable.PreprocessOrderItem(ctx, item)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func (uc *OrderUsecase) dispatchProcess(ctx context.Context, item *OrderItem) error {
	orderable, err := uc.orderables.Resolve(ctx, item.Orderable)
	if err != nil || orderable == nil {
		return err
	}
	return orderable.ProcessOrderItem(ctx, item)
}

// ProcessPayment makes the one-time payment decision for an order: absorb
// what credit covers, record amounts below the gateway minimum as balance
// debt, and create a gateway payment for the rest. Guarded by processed_at;
// calling it again is a no-op. The whole decision is one transaction, so a
// gateway failure leaves the order unprocessed for a later retry.
func (uc *OrderUsecase) ProcessPayment(ctx context.Context, order *Order) error {
	if order.Processed() {
		uc.log.Infof("Order %s already processed, skipping (idempotent)", order.Number)
		return nil
	}

	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		if order.Total < 0 {
			// Negative orders (reimbursements exceeding charges) turn into
			// owner credit; nothing is payable.
			if err := uc.creditRepo.AddAmount(ctx, order.Owner, order.Currency, -order.Total); err != nil {
				return err
			}
			order.TotalDue = order.Total
			order.PaymentStatus = constants.PaymentStatusSettled
			return uc.finishProcessing(ctx, order)
		}

		credit, err := uc.creditRepo.GetCredit(ctx, order.Owner, order.Currency)
		if err != nil {
			return err
		}
		if credit != nil {
			order.BalanceBefore = credit.Value
		}

		if order.Total > 0 && order.BalanceBefore > 0 {
			used, err := uc.creditRepo.MaxOut(ctx, order.Owner, order.Currency, order.Total)
			if err != nil {
				return err
			}
			order.CreditUsed = used
		}
		order.TotalDue = order.Total - order.CreditUsed

		if order.TotalDue == 0 {
			order.PaymentStatus = constants.PaymentStatusSettled
			return uc.finishProcessing(ctx, order)
		}

		owner, mandate, err := uc.validMandate(ctx, order.Owner)
		if err != nil {
			return err
		}

		minimum, err := uc.gateway.GetMethodMinimumAmount(ctx, mandate.Method, order.Currency)
		if err != nil {
			return errs.New(errs.ErrCodeGatewayError, errs.ReasonGatewayError,
				"minimum amount lookup failed: %v", err)
		}

		if order.TotalDue < minimum.Amount {
			// Too small for the gateway: record as balance debt instead.
			if err := uc.creditRepo.AddAmount(ctx, order.Owner, order.Currency, -order.TotalDue); err != nil {
				return err
			}
			order.PaymentStatus = constants.PaymentStatusSettled
			active, err := uc.subRepo.OwnerHasActiveSubscription(ctx, order.Owner, order.Currency)
			if err != nil {
				return err
			}
			if !active {
				if err := uc.eventRepo.RecordEvent(ctx, &BillingEvent{
					Owner:     order.Owner,
					Kind:      constants.EventBalanceTurnedStale,
					OrderID:   order.ID,
					Detail:    fmt.Sprintf("debt=%d %s", order.TotalDue, order.Currency),
					CreatedAt: uc.now(),
				}); err != nil {
					return err
				}
			}
			return uc.finishProcessing(ctx, order)
		}

		payment, err := uc.gateway.CreatePayment(ctx, CreatePaymentParams{
			CustomerID:  owner.GatewayCustomerID,
			MandateID:   owner.MandateID,
			Amount:      NewMoney(order.TotalDue, order.Currency),
			Description: order.Number,
			Metadata: map[string]string{
				"order_id":     order.ID,
				"order_number": order.Number,
			},
		})
		if err != nil {
			return errs.New(errs.ErrCodeGatewayError, errs.ReasonGatewayError,
				"payment creation failed: %v", err)
		}
		order.PaymentID = payment.ID
		order.PaymentStatus = constants.PaymentStatusOpen

		if err := uc.paymentRepo.SavePayment(ctx, &Payment{
			ID:        payment.ID,
			OrderID:   order.ID,
			Owner:     order.Owner,
			Amount:    payment.Amount,
			Status:    payment.Status,
			CreatedAt: uc.now(),
			UpdatedAt: uc.now(),
		}); err != nil {
			return err
		}
		return uc.finishProcessing(ctx, order)
	})
	if err != nil {
		uc.log.Errorf("Failed to process payment for order %s: %v", order.Number, err)
		return err
	}
	uc.log.Infof("Processed order %s: balance_before=%d credit_used=%d total_due=%d status=%s",
		order.Number, order.BalanceBefore, order.CreditUsed, order.TotalDue, order.PaymentStatus)
	return nil
}

func (uc *OrderUsecase) finishProcessing(ctx context.Context, order *Order) error {
	now := uc.now()
	order.ProcessedAt = &now
	order.UpdatedAt = now
	if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
		return err
	}
	return uc.eventRepo.RecordEvent(ctx, &BillingEvent{
		Owner:     order.Owner,
		Kind:      constants.EventOrderProcessed,
		OrderID:   order.ID,
		Detail:    fmt.Sprintf("total_due=%d %s status=%s", order.TotalDue, order.Currency, order.PaymentStatus),
		CreatedAt: now,
	})
}

// validMandate loads the owner and checks the mandate with the gateway.
// Missing or invalid mandates fail with INVALID_MANDATE, aborting the
// enclosing transaction.
func (uc *OrderUsecase) validMandate(ctx context.Context, ownerRef Ref) (*Owner, *Mandate, error) {
	owner, err := uc.ownerRepo.GetOwner(ctx, ownerRef.ID)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil {
		return nil, nil, errs.New(errs.ErrCodeOwnerNotFound, errs.ReasonOwnerNotFound,
			"owner %s not found", ownerRef.ID)
	}
	if !owner.HasMandate() {
		return nil, nil, errs.New(errs.ErrCodeInvalidMandate, errs.ReasonInvalidMandate,
			"owner %s has no payment mandate", owner.ID)
	}
	mandate, err := uc.gateway.GetMandate(ctx, owner.GatewayCustomerID, owner.MandateID)
	if err != nil {
		return nil, nil, errs.New(errs.ErrCodeGatewayError, errs.ReasonGatewayError,
			"mandate lookup failed: %v", err)
	}
	if !mandate.Valid() {
		return nil, nil, errs.New(errs.ErrCodeInvalidMandate, errs.ReasonInvalidMandate,
			"owner %s mandate %s is %s", owner.ID, owner.MandateID, mandate.Status)
	}
	return owner, mandate, nil
}

// HandlePaymentPaid applies a confirmed payment: status update, event, and
// the per-item paid hooks. Subscription cycles were already advanced when
// the item was processed, so those hooks are no-ops; this is the optimistic
// billing policy, compensated by HandlePaymentFailed.
func (uc *OrderUsecase) HandlePaymentPaid(ctx context.Context, order *Order) error {
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		order.PaymentStatus = constants.PaymentStatusPaid
		order.UpdatedAt = uc.now()
		if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := uc.eventRepo.RecordEvent(ctx, &BillingEvent{
			Owner:     order.Owner,
			Kind:      constants.EventOrderPaymentPaid,
			OrderID:   order.ID,
			CreatedAt: uc.now(),
		}); err != nil {
			return err
		}
		items, err := uc.itemRepo.ListOrderItemsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			orderable, err := uc.orderables.Resolve(ctx, item.Orderable)
			if err != nil {
				return err
			}
			if orderable == nil {
				continue
			}
			if err := orderable.HandlePaymentPaid(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// HandlePaymentFailed compensates a failed payment in one transaction:
// applied credit goes back to the owner, the bookkeeping fields reset, the
// per-item failed hooks fire (subscriptions cancel themselves), and the
// owner's mandate is re-validated against the gateway.
func (uc *OrderUsecase) HandlePaymentFailed(ctx context.Context, order *Order) error {
	return uc.tm.Exec(ctx, func(ctx context.Context) error {
		if order.CreditUsed > 0 {
			if err := uc.creditRepo.AddAmount(ctx, order.Owner, order.Currency, order.CreditUsed); err != nil {
				return err
			}
		}
		order.BalanceBefore = 0
		order.CreditUsed = 0
		order.PaymentStatus = constants.PaymentStatusFailed
		order.UpdatedAt = uc.now()
		if err := uc.orderRepo.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := uc.eventRepo.RecordEvent(ctx, &BillingEvent{
			Owner:     order.Owner,
			Kind:      constants.EventOrderPaymentFailed,
			OrderID:   order.ID,
			CreatedAt: uc.now(),
		}); err != nil {
			return err
		}

		items, err := uc.itemRepo.ListOrderItemsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			orderable, err := uc.orderables.Resolve(ctx, item.Orderable)
			if err != nil {
				return err
			}
			if orderable == nil {
				continue
			}
			if err := orderable.HandlePaymentFailed(ctx, item); err != nil {
				return err
			}
		}

		return uc.revalidateMandate(ctx, order.Owner)
	})
}

// revalidateMandate clears the owner's mandate when the gateway no longer
// considers it chargeable. Lookup errors are logged, not fatal: the failed
// payment is already handled.
func (uc *OrderUsecase) revalidateMandate(ctx context.Context, ownerRef Ref) error {
	owner, err := uc.ownerRepo.GetOwner(ctx, ownerRef.ID)
	if err != nil {
		return err
	}
	if owner == nil || !owner.HasMandate() {
		return nil
	}
	mandate, err := uc.gateway.GetMandate(ctx, owner.GatewayCustomerID, owner.MandateID)
	if err != nil {
		uc.log.Warnf("Mandate re-validation lookup failed for owner %s: %v", owner.ID, err)
		return nil
	}
	if mandate.Valid() {
		return nil
	}
	if err := uc.ownerRepo.ClearMandate(ctx, owner.ID); err != nil {
		return err
	}
	uc.log.Infof("Cleared invalid mandate %s for owner %s", owner.MandateID, owner.ID)
	return uc.eventRepo.RecordEvent(ctx, &BillingEvent{
		Owner:     ownerRef,
		Kind:      constants.EventMandateCleared,
		Detail:    fmt.Sprintf("mandate=%s status=%s", owner.MandateID, mandate.Status),
		CreatedAt: uc.now(),
	})
}

// ChargeNow bills an owner a one-off amount immediately: a single due item,
// preprocessed into an order and paid in the same call.
func (uc *OrderUsecase) ChargeNow(ctx context.Context, ownerRef Ref, description string, amount Money, quantity int, taxPercentage decimal.Decimal) (*Order, error) {
	if quantity < 1 {
		return nil, errs.New(errs.ErrCodeInvalidQuantity, errs.ReasonInvalidQuantity,
			"quantity must be at least 1, got %d", quantity)
	}
	item := &OrderItem{
		ID:            uuid.New().String(),
		Owner:         ownerRef,
		Currency:      amount.Currency,
		UnitPrice:     amount.Amount,
		Quantity:      quantity,
		TaxPercentage: taxPercentage,
		Description:   description,
		ProcessAt:     uc.now(),
		CreatedAt:     uc.now(),
	}
	order, err := uc.CreateFromItems(ctx, ItemCollection{item}, true)
	if err != nil {
		return nil, err
	}
	if err := uc.ProcessPayment(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder loads an order with its items.
func (uc *OrderUsecase) GetOrder(ctx context.Context, id string) (*Order, error) {
	order, err := uc.orderRepo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errs.New(errs.ErrCodeOrderNotFound, errs.ReasonOrderNotFound,
			"order %s not found", id)
	}
	if order.Items == nil {
		if order.Items, err = uc.itemRepo.ListOrderItemsByOrder(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
