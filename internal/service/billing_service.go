package service

import (
	"context"
	"time"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/constants"

	"github.com/shopspring/decimal"
)

// BillingService is the HTTP-facing surface of the billing engine.
type BillingService struct {
	owners    *biz.OwnerUsecase
	subs      *biz.SubscriptionUsecase
	orders    *biz.OrderUsecase
	coupons   *biz.CouponUsecase
	tabs      *biz.TabUsecase
	scheduler *biz.SchedulerUsecase
	webhooks  *biz.WebhookUsecase
	plans     *biz.PlanRegistry
}

// NewBillingService creates the billing service.
func NewBillingService(
	owners *biz.OwnerUsecase,
	subs *biz.SubscriptionUsecase,
	orders *biz.OrderUsecase,
	coupons *biz.CouponUsecase,
	tabs *biz.TabUsecase,
	scheduler *biz.SchedulerUsecase,
	webhooks *biz.WebhookUsecase,
	plans *biz.PlanRegistry,
) *BillingService {
	return &BillingService{
		owners:    owners,
		subs:      subs,
		orders:    orders,
		coupons:   coupons,
		tabs:      tabs,
		scheduler: scheduler,
		webhooks:  webhooks,
		plans:     plans,
	}
}

// PlanReply is the wire shape of a configured plan.
type PlanReply struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// ListPlansReply .
type ListPlansReply struct {
	Plans []*PlanReply `json:"plans"`
}

// ListPlans returns the configured plan catalog.
func (s *BillingService) ListPlans(_ context.Context) (*ListPlansReply, error) {
	plans := s.plans.List()
	out := make([]*PlanReply, len(plans))
	for i, p := range plans {
		out[i] = &PlanReply{
			Name:        p.Name,
			Description: p.Description,
			Amount:      p.Amount.Amount,
			Currency:    p.Amount.Currency,
		}
	}
	return &ListPlansReply{Plans: out}, nil
}

// UpsertOwnerRequest .
type UpsertOwnerRequest struct {
	OwnerID                 string  `json:"owner_id"`
	GatewayCustomerID       string  `json:"gateway_customer_id"`
	MandateID               string  `json:"mandate_id"`
	TaxPercentage           float64 `json:"tax_percentage"`
	ExtraBillingInformation string  `json:"extra_billing_information"`
}

// OwnerReply .
type OwnerReply struct {
	OwnerID           string  `json:"owner_id"`
	GatewayCustomerID string  `json:"gateway_customer_id"`
	MandateID         string  `json:"mandate_id"`
	TaxPercentage     float64 `json:"tax_percentage"`
}

// UpsertOwner creates or updates a billable owner.
func (s *BillingService) UpsertOwner(ctx context.Context, req *UpsertOwnerRequest) (*OwnerReply, error) {
	owner := &biz.Owner{
		ID:                      req.OwnerID,
		GatewayCustomerID:       req.GatewayCustomerID,
		MandateID:               req.MandateID,
		TaxPercentage:           decimal.NewFromFloat(req.TaxPercentage),
		ExtraBillingInformation: req.ExtraBillingInformation,
	}
	if err := s.owners.UpsertOwner(ctx, owner); err != nil {
		return nil, err
	}
	return ownerToReply(owner), nil
}

// GetOwner loads an owner.
func (s *BillingService) GetOwner(ctx context.Context, id string) (*OwnerReply, error) {
	owner, err := s.owners.GetOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	return ownerToReply(owner), nil
}

func ownerToReply(o *biz.Owner) *OwnerReply {
	tax, _ := o.TaxPercentage.Float64()
	return &OwnerReply{
		OwnerID:           o.ID,
		GatewayCustomerID: o.GatewayCustomerID,
		MandateID:         o.MandateID,
		TaxPercentage:     tax,
	}
}

// BalanceReply .
type BalanceReply struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

// GetBalance returns an owner's credit balance in one currency.
func (s *BillingService) GetBalance(ctx context.Context, ownerID, currency string) (*BalanceReply, error) {
	balance, err := s.owners.GetBalance(ctx, ownerRef(ownerID), currency)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{OwnerID: ownerID, Currency: balance.Currency, Value: balance.Amount}, nil
}

// StartSubscriptionRequest .
type StartSubscriptionRequest struct {
	OwnerID       string     `json:"owner_id"`
	Plan          string     `json:"plan"`
	Quantity      int        `json:"quantity"`
	TaxPercentage float64    `json:"tax_percentage"`
	TrialUntil    *time.Time `json:"trial_until"`
	Coupon        string     `json:"coupon"`
}

// SubscriptionReply .
type SubscriptionReply struct {
	SubscriptionID     string     `json:"subscription_id"`
	OwnerID            string     `json:"owner_id"`
	Plan               string     `json:"plan"`
	NextPlan           string     `json:"next_plan,omitempty"`
	Currency           string     `json:"currency"`
	Quantity           int        `json:"quantity"`
	OnTrial            bool       `json:"on_trial"`
	Active             bool       `json:"active"`
	OnGracePeriod      bool       `json:"on_grace_period"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CycleStartedAt     time.Time  `json:"cycle_started_at"`
	CycleEndsAt        *time.Time `json:"cycle_ends_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
}

// StartSubscription starts a subscription for an owner.
func (s *BillingService) StartSubscription(ctx context.Context, req *StartSubscriptionRequest) (*SubscriptionReply, error) {
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	sub, err := s.subs.Start(ctx, biz.StartParams{
		Owner:         ownerRef(req.OwnerID),
		Plan:          req.Plan,
		Quantity:      quantity,
		TaxPercentage: decimal.NewFromFloat(req.TaxPercentage),
		TrialUntil:    req.TrialUntil,
		Coupon:        req.Coupon,
	})
	if err != nil {
		return nil, err
	}
	return subscriptionToReply(sub), nil
}

// GetSubscription loads a subscription.
func (s *BillingService) GetSubscription(ctx context.Context, id string) (*SubscriptionReply, error) {
	sub, err := s.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return subscriptionToReply(sub), nil
}

// ListSubscriptionsReply .
type ListSubscriptionsReply struct {
	Subscriptions []*SubscriptionReply `json:"subscriptions"`
}

// ListSubscriptions lists an owner's subscriptions.
func (s *BillingService) ListSubscriptions(ctx context.Context, ownerID string) (*ListSubscriptionsReply, error) {
	subs, err := s.subs.ListForOwner(ctx, ownerRef(ownerID))
	if err != nil {
		return nil, err
	}
	out := make([]*SubscriptionReply, len(subs))
	for i, sub := range subs {
		out[i] = subscriptionToReply(sub)
	}
	return &ListSubscriptionsReply{Subscriptions: out}, nil
}

// SwapPlanRequest .
type SwapPlanRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Plan           string `json:"plan"`
	InvoiceNow     bool   `json:"invoice_now"`
	// NextCycle defers the swap to the current cycle boundary
	NextCycle bool `json:"next_cycle"`
}

// SwapPlan moves a subscription to another plan, now or at the next cycle.
func (s *BillingService) SwapPlan(ctx context.Context, req *SwapPlanRequest) (*SubscriptionReply, error) {
	sub, err := s.subs.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if req.NextCycle {
		err = s.subs.SwapNextCycle(ctx, sub, req.Plan)
	} else {
		err = s.subs.Swap(ctx, sub, req.Plan, req.InvoiceNow)
	}
	if err != nil {
		return nil, err
	}
	return subscriptionToReply(sub), nil
}

// CancelSubscriptionRequest .
type CancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
	// Immediately ends the subscription now instead of at the cycle boundary
	Immediately bool `json:"immediately"`
}

// CancelSubscription cancels a subscription.
func (s *BillingService) CancelSubscription(ctx context.Context, req *CancelSubscriptionRequest) (*SubscriptionReply, error) {
	sub, err := s.subs.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if req.Immediately {
		err = s.subs.CancelNow(ctx, sub, constants.CancellationReasonRequested)
	} else {
		err = s.subs.Cancel(ctx, sub, constants.CancellationReasonRequested)
	}
	if err != nil {
		return nil, err
	}
	return subscriptionToReply(sub), nil
}

// ResumeSubscription revives a subscription during its grace period.
func (s *BillingService) ResumeSubscription(ctx context.Context, id string) (*SubscriptionReply, error) {
	sub, err := s.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.subs.Resume(ctx, sub); err != nil {
		return nil, err
	}
	return subscriptionToReply(sub), nil
}

// UpdateQuantityRequest .
type UpdateQuantityRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Quantity       int    `json:"quantity"`
	InvoiceNow     bool   `json:"invoice_now"`
}

// UpdateQuantity changes a subscription's quantity.
func (s *BillingService) UpdateQuantity(ctx context.Context, req *UpdateQuantityRequest) (*SubscriptionReply, error) {
	sub, err := s.subs.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if err := s.subs.UpdateQuantity(ctx, sub, req.Quantity, req.InvoiceNow); err != nil {
		return nil, err
	}
	return subscriptionToReply(sub), nil
}

func subscriptionToReply(sub *biz.Subscription) *SubscriptionReply {
	now := time.Now().UTC()
	reply := &SubscriptionReply{
		SubscriptionID:     sub.ID,
		OwnerID:            sub.Owner.ID,
		Plan:               sub.Plan,
		Currency:           sub.Currency,
		Quantity:           sub.Quantity,
		OnTrial:            sub.OnTrial(now),
		Active:             sub.Active(now),
		OnGracePeriod:      sub.OnGracePeriod(now),
		TrialEndsAt:        sub.TrialEndsAt,
		CycleStartedAt:     sub.CycleStartedAt,
		CycleEndsAt:        sub.CycleEndsAt,
		EndsAt:             sub.EndsAt,
		CancellationReason: sub.CancellationReason,
	}
	if sub.NextPlan != nil {
		reply.NextPlan = *sub.NextPlan
	}
	return reply
}

// RedeemCouponRequest .
type RedeemCouponRequest struct {
	OwnerID        string `json:"owner_id"`
	Coupon         string `json:"coupon"`
	SubscriptionID string `json:"subscription_id"`
}

// RedeemCouponReply .
type RedeemCouponReply struct {
	RedeemedCouponID string `json:"redeemed_coupon_id"`
	TimesLeft        int    `json:"times_left"`
}

// RedeemCoupon redeems a coupon against a subscription.
func (s *BillingService) RedeemCoupon(ctx context.Context, req *RedeemCouponRequest) (*RedeemCouponReply, error) {
	sub, err := s.subs.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	rc, err := s.coupons.RedeemFor(ctx, req.Coupon, ownerRef(req.OwnerID), sub.Ref())
	if err != nil {
		return nil, err
	}
	return &RedeemCouponReply{RedeemedCouponID: rc.ID, TimesLeft: rc.TimesLeft}, nil
}

// TabItemRequest .
type TabItemRequest struct {
	OwnerID       string  `json:"owner_id"`
	Description   string  `json:"description"`
	Currency      string  `json:"currency"`
	UnitPrice     int64   `json:"unit_price"`
	Quantity      int     `json:"quantity"`
	TaxPercentage float64 `json:"tax_percentage"`
}

// TabItemReply .
type TabItemReply struct {
	OrderItemID string `json:"order_item_id"`
	TabID       string `json:"tab_id"`
}

// AddToTab puts a one-off charge on the owner's open tab.
func (s *BillingService) AddToTab(ctx context.Context, req *TabItemRequest) (*TabItemReply, error) {
	item, err := s.tabs.AddToTab(ctx, ownerRef(req.OwnerID), biz.TabItemParams{
		Description:   req.Description,
		Currency:      req.Currency,
		UnitPrice:     req.UnitPrice,
		Quantity:      req.Quantity,
		TaxPercentage: decimal.NewFromFloat(req.TaxPercentage),
	})
	if err != nil {
		return nil, err
	}
	return &TabItemReply{OrderItemID: item.ID, TabID: item.Orderable.ID}, nil
}

// CloseTabRequest .
type CloseTabRequest struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

// CloseTabReply .
type CloseTabReply struct {
	TabID    string     `json:"tab_id"`
	ClosedAt *time.Time `json:"closed_at"`
}

// CloseTab closes the owner's open tab; its items bill on the next sweep.
func (s *BillingService) CloseTab(ctx context.Context, req *CloseTabRequest) (*CloseTabReply, error) {
	tab, err := s.tabs.CloseTab(ctx, ownerRef(req.OwnerID), req.Currency)
	if err != nil {
		return nil, err
	}
	return &CloseTabReply{TabID: tab.ID, ClosedAt: tab.ClosedAt}, nil
}

// ChargeNowRequest .
type ChargeNowRequest struct {
	OwnerID       string  `json:"owner_id"`
	Description   string  `json:"description"`
	Currency      string  `json:"currency"`
	Amount        int64   `json:"amount"`
	Quantity      int     `json:"quantity"`
	TaxPercentage float64 `json:"tax_percentage"`
}

// OrderReply .
type OrderReply struct {
	OrderID       string     `json:"order_id"`
	Number        string     `json:"number"`
	OwnerID       string     `json:"owner_id"`
	Currency      string     `json:"currency"`
	Subtotal      int64      `json:"subtotal"`
	Tax           int64      `json:"tax"`
	Total         int64      `json:"total"`
	BalanceBefore int64      `json:"balance_before"`
	CreditUsed    int64      `json:"credit_used"`
	TotalDue      int64      `json:"total_due"`
	PaymentID     string     `json:"payment_id,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Items         []*OrderItemReply `json:"items,omitempty"`
}

// OrderItemReply .
type OrderItemReply struct {
	OrderItemID string `json:"order_item_id"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Total       int64  `json:"total"`
}

// ChargeNow bills an owner a one-off amount immediately.
func (s *BillingService) ChargeNow(ctx context.Context, req *ChargeNowRequest) (*OrderReply, error) {
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	order, err := s.orders.ChargeNow(ctx, ownerRef(req.OwnerID), req.Description,
		biz.NewMoney(req.Amount, req.Currency), quantity, decimal.NewFromFloat(req.TaxPercentage))
	if err != nil {
		return nil, err
	}
	return orderToReply(order), nil
}

// GetOrder loads an order with its items.
func (s *BillingService) GetOrder(ctx context.Context, id string) (*OrderReply, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return orderToReply(order), nil
}

func orderToReply(order *biz.Order) *OrderReply {
	reply := &OrderReply{
		OrderID:       order.ID,
		Number:        order.Number,
		OwnerID:       order.Owner.ID,
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Tax:           order.Tax,
		Total:         order.Total,
		BalanceBefore: order.BalanceBefore,
		CreditUsed:    order.CreditUsed,
		TotalDue:      order.TotalDue,
		PaymentID:     order.PaymentID,
		PaymentStatus: order.PaymentStatus,
		ProcessedAt:   order.ProcessedAt,
	}
	for _, item := range order.Items {
		reply.Items = append(reply.Items, &OrderItemReply{
			OrderItemID: item.ID,
			Description: item.Description,
			Currency:    item.Currency,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Total:       item.Total().Amount,
		})
	}
	return reply
}

// FirstPaymentActionRequest .
type FirstPaymentActionRequest struct {
	Kind          string     `json:"kind"`
	Plan          string     `json:"plan"`
	Quantity      int        `json:"quantity"`
	TrialUntil    *time.Time `json:"trial_until"`
	Coupon        string     `json:"coupon"`
	TaxPercentage float64    `json:"tax_percentage"`
	Description   string     `json:"description"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
}

// CreateFirstPaymentRequest .
type CreateFirstPaymentRequest struct {
	OwnerID     string                       `json:"owner_id"`
	Amount      int64                        `json:"amount"`
	Currency    string                       `json:"currency"`
	Description string                       `json:"description"`
	RedirectURL string                       `json:"redirect_url"`
	WebhookURL  string                       `json:"webhook_url"`
	Actions     []*FirstPaymentActionRequest `json:"actions"`
}

// CreateFirstPaymentReply .
type CreateFirstPaymentReply struct {
	PaymentID   string `json:"payment_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateFirstPayment creates a checkout payment that establishes the owner's
// mandate and queues the actions replayed when it confirms.
func (s *BillingService) CreateFirstPayment(ctx context.Context, req *CreateFirstPaymentRequest) (*CreateFirstPaymentReply, error) {
	actions := make([]*biz.FirstPaymentAction, len(req.Actions))
	for i, a := range req.Actions {
		actions[i] = &biz.FirstPaymentAction{
			Kind:          a.Kind,
			Plan:          a.Plan,
			Quantity:      a.Quantity,
			TrialUntil:    a.TrialUntil,
			Coupon:        a.Coupon,
			TaxPercentage: decimal.NewFromFloat(a.TaxPercentage),
			Description:   a.Description,
			Amount:        a.Amount,
			Currency:      a.Currency,
		}
	}
	gp, err := s.webhooks.CreateFirstPayment(ctx, biz.FirstPaymentParams{
		OwnerID:     req.OwnerID,
		Amount:      biz.NewMoney(req.Amount, req.Currency),
		Description: req.Description,
		RedirectURL: req.RedirectURL,
		WebhookURL:  req.WebhookURL,
		Actions:     actions,
	})
	if err != nil {
		return nil, err
	}
	return &CreateFirstPaymentReply{PaymentID: gp.ID, CheckoutURL: gp.CheckoutURL}, nil
}

// PaymentWebhook handles a gateway status callback for an order payment.
func (s *BillingService) PaymentWebhook(ctx context.Context, paymentID string) error {
	return s.webhooks.HandlePaymentWebhook(ctx, paymentID)
}

// FirstPaymentWebhook handles a gateway status callback for a first payment.
func (s *BillingService) FirstPaymentWebhook(ctx context.Context, paymentID string) error {
	return s.webhooks.HandleFirstPaymentWebhook(ctx, paymentID)
}

// SweepReply .
type SweepReply struct {
	Due     int `json:"due"`
	Groups  int `json:"groups"`
	Orders  int `json:"orders"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RunChargeSweep triggers one charge sweep run.
func (s *BillingService) RunChargeSweep(ctx context.Context) (*SweepReply, error) {
	result, err := s.scheduler.RunScheduledCharges(ctx)
	if err != nil {
		return nil, err
	}
	return &SweepReply{
		Due:     result.Due,
		Groups:  result.Groups,
		Orders:  result.Orders,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	}, nil
}

func ownerRef(id string) biz.Ref {
	return biz.Ref{Kind: "owner", ID: id}
}
