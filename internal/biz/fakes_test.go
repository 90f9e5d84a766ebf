package biz

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
)

// testNow is the frozen clock all engine tests run against.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type memTx struct{}

func (memTx) Exec(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type memItemRepo struct {
	items map[string]*OrderItem
	order []string
}

func newMemItemRepo() *memItemRepo { return &memItemRepo{items: map[string]*OrderItem{}} }

func (r *memItemRepo) GetOrderItem(_ context.Context, id string) (*OrderItem, error) {
	return r.items[id], nil
}

func (r *memItemRepo) SaveOrderItem(_ context.Context, item *OrderItem) error {
	if _, ok := r.items[item.ID]; !ok {
		r.order = append(r.order, item.ID)
	}
	r.items[item.ID] = item
	return nil
}

func (r *memItemRepo) SaveOrderItems(ctx context.Context, items ItemCollection) error {
	for _, item := range items {
		if err := r.SaveOrderItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *memItemRepo) DeleteOrderItem(_ context.Context, id string) error {
	delete(r.items, id)
	return nil
}

func (r *memItemRepo) all() ItemCollection {
	var out ItemCollection
	for _, id := range r.order {
		if item, ok := r.items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

func (r *memItemRepo) ListDueOrderItems(_ context.Context, now time.Time) (ItemCollection, error) {
	var out ItemCollection
	for _, item := range r.all() {
		if item.OrderID == nil && !item.ProcessAt.After(now) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memItemRepo) ListDueOrderItemsForOwner(ctx context.Context, owner Ref, currency string, now time.Time) (ItemCollection, error) {
	due, err := r.ListDueOrderItems(ctx, now)
	if err != nil {
		return nil, err
	}
	var out ItemCollection
	for _, item := range due {
		if item.Owner == owner && item.Currency == currency {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memItemRepo) ListOrderItemsByOrder(_ context.Context, orderID string) (ItemCollection, error) {
	var out ItemCollection
	for _, item := range r.all() {
		if item.OrderID != nil && *item.OrderID == orderID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memItemRepo) ListOrderItemsByOrderable(_ context.Context, orderable Ref) (ItemCollection, error) {
	var out ItemCollection
	for _, item := range r.all() {
		if item.Orderable == orderable {
			out = append(out, item)
		}
	}
	return out, nil
}

type memOrderRepo struct {
	orders map[string]*Order
}

func newMemOrderRepo() *memOrderRepo { return &memOrderRepo{orders: map[string]*Order{}} }

func (r *memOrderRepo) CreateOrder(_ context.Context, order *Order) error {
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) UpdateOrder(_ context.Context, order *Order) error {
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) GetOrder(_ context.Context, id string) (*Order, error) {
	return r.orders[id], nil
}

func (r *memOrderRepo) GetOrderByPaymentID(_ context.Context, paymentID string) (*Order, error) {
	for _, o := range r.orders {
		if o.PaymentID == paymentID {
			return o, nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) ListOrders(_ context.Context, owner Ref, _, _ int) ([]*Order, int, error) {
	var out []*Order
	for _, o := range r.orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

type memCreditRepo struct {
	balances map[string]int64
}

func newMemCreditRepo() *memCreditRepo { return &memCreditRepo{balances: map[string]int64{}} }

func creditKey(owner Ref, currency string) string { return owner.String() + "|" + currency }

func (r *memCreditRepo) GetCredit(_ context.Context, owner Ref, currency string) (*Credit, error) {
	v, ok := r.balances[creditKey(owner, currency)]
	if !ok {
		return nil, nil
	}
	return &Credit{Owner: owner, Currency: currency, Value: v}, nil
}

func (r *memCreditRepo) AddAmount(_ context.Context, owner Ref, currency string, amount int64) error {
	r.balances[creditKey(owner, currency)] += amount
	return nil
}

func (r *memCreditRepo) MaxOut(_ context.Context, owner Ref, currency string, want int64) (int64, error) {
	key := creditKey(owner, currency)
	v := r.balances[key]
	if v <= 0 || want <= 0 {
		return 0, nil
	}
	used := want
	if v < want {
		used = v
	}
	r.balances[key] = v - used
	return used, nil
}

type memOwnerRepo struct {
	owners map[string]*Owner
}

func newMemOwnerRepo() *memOwnerRepo { return &memOwnerRepo{owners: map[string]*Owner{}} }

func (r *memOwnerRepo) GetOwner(_ context.Context, id string) (*Owner, error) {
	return r.owners[id], nil
}

func (r *memOwnerRepo) SaveOwner(_ context.Context, owner *Owner) error {
	r.owners[owner.ID] = owner
	return nil
}

func (r *memOwnerRepo) ClearMandate(_ context.Context, id string) error {
	if o, ok := r.owners[id]; ok {
		o.MandateID = ""
	}
	return nil
}

type memPaymentRepo struct {
	payments map[string]*Payment
}

func newMemPaymentRepo() *memPaymentRepo { return &memPaymentRepo{payments: map[string]*Payment{}} }

func (r *memPaymentRepo) SavePayment(_ context.Context, p *Payment) error {
	r.payments[p.ID] = p
	return nil
}

func (r *memPaymentRepo) GetPayment(_ context.Context, id string) (*Payment, error) {
	return r.payments[id], nil
}

type memEventRepo struct {
	events []*BillingEvent
}

func newMemEventRepo() *memEventRepo { return &memEventRepo{} }

func (r *memEventRepo) RecordEvent(_ context.Context, ev *BillingEvent) error {
	ev.ID = uint64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func (r *memEventRepo) ListEvents(_ context.Context, owner Ref, _, _ int) ([]*BillingEvent, int, error) {
	var out []*BillingEvent
	for _, ev := range r.events {
		if ev.Owner == owner {
			out = append(out, ev)
		}
	}
	return out, len(out), nil
}

func (r *memEventRepo) kinds() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type memSubRepo struct {
	subs  map[string]*Subscription
	order []string
}

func newMemSubRepo() *memSubRepo { return &memSubRepo{subs: map[string]*Subscription{}} }

func (r *memSubRepo) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	return r.subs[id], nil
}

func (r *memSubRepo) SaveSubscription(_ context.Context, sub *Subscription) error {
	if _, ok := r.subs[sub.ID]; !ok {
		r.order = append(r.order, sub.ID)
	}
	r.subs[sub.ID] = sub
	return nil
}

func (r *memSubRepo) ListSubscriptionsForOwner(_ context.Context, owner Ref) ([]*Subscription, error) {
	var out []*Subscription
	for _, id := range r.order {
		if sub := r.subs[id]; sub != nil && sub.Owner == owner {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memSubRepo) OwnerHasActiveSubscription(_ context.Context, owner Ref, currency string) (bool, error) {
	for _, sub := range r.subs {
		if sub.Owner == owner && sub.Currency == currency && sub.Active(testNow) {
			return true, nil
		}
	}
	return false, nil
}

type memCouponRepo struct {
	redeemed map[string]*RedeemedCoupon
	rcOrder  []string
	applied  map[string]*AppliedCoupon
}

func newMemCouponRepo() *memCouponRepo {
	return &memCouponRepo{
		redeemed: map[string]*RedeemedCoupon{},
		applied:  map[string]*AppliedCoupon{},
	}
}

func (r *memCouponRepo) SaveRedeemedCoupon(_ context.Context, rc *RedeemedCoupon) error {
	if _, ok := r.redeemed[rc.ID]; !ok {
		r.rcOrder = append(r.rcOrder, rc.ID)
	}
	r.redeemed[rc.ID] = rc
	return nil
}

func (r *memCouponRepo) GetRedeemedCoupon(_ context.Context, id string) (*RedeemedCoupon, error) {
	return r.redeemed[id], nil
}

func (r *memCouponRepo) ListActiveRedeemedCoupons(_ context.Context, model Ref) ([]*RedeemedCoupon, error) {
	var out []*RedeemedCoupon
	for _, id := range r.rcOrder {
		if rc := r.redeemed[id]; rc != nil && rc.Model == model && rc.Active() {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (r *memCouponRepo) CountRedemptions(_ context.Context, owner Ref, name string) (int, error) {
	count := 0
	for _, rc := range r.redeemed {
		if rc.Owner == owner && rc.Name == name {
			count++
		}
	}
	return count, nil
}

func (r *memCouponRepo) SaveAppliedCoupon(_ context.Context, ac *AppliedCoupon) error {
	r.applied[ac.ID] = ac
	return nil
}

func (r *memCouponRepo) GetAppliedCoupon(_ context.Context, id string) (*AppliedCoupon, error) {
	return r.applied[id], nil
}

type memTabRepo struct {
	tabs  map[string]*Tab
	order []string
}

func newMemTabRepo() *memTabRepo { return &memTabRepo{tabs: map[string]*Tab{}} }

func (r *memTabRepo) GetTab(_ context.Context, id string) (*Tab, error) {
	return r.tabs[id], nil
}

func (r *memTabRepo) GetOpenTab(_ context.Context, owner Ref, currency string) (*Tab, error) {
	for _, id := range r.order {
		if tab := r.tabs[id]; tab != nil && tab.Owner == owner && tab.Currency == currency && tab.Open() {
			return tab, nil
		}
	}
	return nil, nil
}

func (r *memTabRepo) SaveTab(_ context.Context, tab *Tab) error {
	if _, ok := r.tabs[tab.ID]; !ok {
		r.order = append(r.order, tab.ID)
	}
	r.tabs[tab.ID] = tab
	return nil
}

func (r *memTabRepo) ListStaleOpenTabs(_ context.Context, cutoff time.Time) ([]*Tab, error) {
	var out []*Tab
	for _, id := range r.order {
		if tab := r.tabs[id]; tab != nil && tab.Open() && tab.CreatedAt.Before(cutoff) {
			out = append(out, tab)
		}
	}
	return out, nil
}

// stubGateway answers gateway calls from memory. Defaults: a valid direct
// debit mandate and a 100 minor unit payment minimum.
type stubGateway struct {
	minimum       int64
	mandateStatus string
	createErr     error
	seq           int
	created       []CreatePaymentParams
	payments      map[string]*GatewayPayment
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		minimum:       100,
		mandateStatus: "valid",
		payments:      map[string]*GatewayPayment{},
	}
}

func (g *stubGateway) CreatePayment(_ context.Context, p CreatePaymentParams) (*GatewayPayment, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	gp := &GatewayPayment{
		ID:        fmt.Sprintf("tr_%04d", g.seq),
		Status:    constants.PaymentStatusOpen,
		MandateID: p.MandateID,
		Amount:    p.Amount,
		Metadata:  p.Metadata,
	}
	g.created = append(g.created, p)
	g.payments[gp.ID] = gp
	return gp, nil
}

func (g *stubGateway) GetPayment(_ context.Context, id string) (*GatewayPayment, error) {
	gp, ok := g.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", id)
	}
	return gp, nil
}

func (g *stubGateway) GetMandate(_ context.Context, _, mandateID string) (*Mandate, error) {
	return &Mandate{ID: mandateID, Status: g.mandateStatus, Method: "directdebit"}, nil
}

func (g *stubGateway) GetMethodMinimumAmount(_ context.Context, _, currency string) (Money, error) {
	return NewMoney(g.minimum, currency), nil
}

func (g *stubGateway) CreateRefund(_ context.Context, paymentID string, amount Money, _ string) (*Refund, error) {
	return &Refund{ID: "re_0001", PaymentID: paymentID, Amount: amount, Status: "pending"}, nil
}

func (g *stubGateway) UpdatePayment(_ context.Context, p *GatewayPayment) (*GatewayPayment, error) {
	g.payments[p.ID] = p
	return p, nil
}

// testEngine wires the usecases over in-memory repos with a frozen clock.
type testEngine struct {
	items    *memItemRepo
	orderRep *memOrderRepo
	credits  *memCreditRepo
	owners   *memOwnerRepo
	payments *memPaymentRepo
	events   *memEventRepo
	subRepo  *memSubRepo
	cpnRepo  *memCouponRepo
	tabRepo  *memTabRepo
	gateway  *stubGateway

	planReg   *PlanRegistry
	couponReg *CouponRegistry

	coupons *CouponUsecase
	orders  *OrderUsecase
	subs    *SubscriptionUsecase
	tabs    *TabUsecase
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	e := &testEngine{
		items:    newMemItemRepo(),
		orderRep: newMemOrderRepo(),
		credits:  newMemCreditRepo(),
		owners:   newMemOwnerRepo(),
		payments: newMemPaymentRepo(),
		events:   newMemEventRepo(),
		subRepo:  newMemSubRepo(),
		cpnRepo:  newMemCouponRepo(),
		tabRepo:  newMemTabRepo(),
		gateway:  newStubGateway(),
	}

	var err error
	e.planReg, err = NewPlanRegistry(nil)
	require.NoError(t, err)
	require.NoError(t, e.planReg.AddPlan(&Plan{
		Name:        "basic-monthly",
		Description: "Basic plan",
		Amount:      NewMoney(1000, "EUR"),
		Interval:    SimpleInterval{Count: 1, Unit: "month"},
	}))
	require.NoError(t, e.planReg.AddPlan(&Plan{
		Name:        "pro-yearly",
		Description: "Pro plan",
		Amount:      NewMoney(10000, "EUR"),
		Interval:    SimpleInterval{Count: 1, Unit: "year"},
	}))
	e.couponReg, err = NewCouponRegistry(nil)
	require.NoError(t, err)

	logger := log.NewStdLogger(io.Discard)
	registry := NewOrderableRegistry()
	e.coupons = NewCouponUsecase(e.couponReg, e.cpnRepo, registry, logger)
	pre := NewPreprocessorSet(e.coupons, e.items)
	e.orders = NewOrderUsecase(e.orderRep, e.items, e.credits, e.owners, e.payments,
		e.events, e.subRepo, e.gateway, registry, pre, memTx{}, logger)
	e.subs = NewSubscriptionUsecase(e.subRepo, e.items, e.events, e.planReg,
		e.coupons, e.orders, pre, registry, memTx{}, logger)
	e.tabs = NewTabUsecase(e.tabRepo, e.items, e.events, registry, memTx{}, &conf.Bootstrap{}, logger)

	e.setClock(testNow)
	return e
}

// setClock freezes the usecase clocks at tt.
func (e *testEngine) setClock(tt time.Time) {
	clock := func() time.Time { return tt }
	e.orders.now = clock
	e.subs.now = clock
	e.tabs.now = clock
}

// billDue emulates one charge sweep: every due item group becomes an order
// and its payment is processed.
func (e *testEngine) billDue(t *testing.T, now time.Time) []*Order {
	t.Helper()
	ctx := context.Background()
	due, err := e.items.ListDueOrderItems(ctx, now)
	require.NoError(t, err)
	var out []*Order
	for _, group := range due.GroupByOwnerAndCurrency() {
		order, err := e.orders.CreateFromItems(ctx, group, true)
		require.NoError(t, err)
		require.NoError(t, e.orders.ProcessPayment(ctx, order))
		out = append(out, order)
	}
	return out
}

// seedOwner stores an owner with a gateway customer and mandate on file.
func (e *testEngine) seedOwner(t *testing.T, id string) Ref {
	t.Helper()
	owner := &Owner{
		ID:                id,
		GatewayCustomerID: "cst_" + id,
		MandateID:         "mdt_" + id,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
	require.NoError(t, e.owners.SaveOwner(context.Background(), owner))
	return owner.Ref()
}
