package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tab collects an owner's one-off charges in one currency so they are billed
// together instead of producing a gateway payment each. An owner has at most
// one open tab per currency; items on it carry the horizon sentinel as
// process time and only become due when the tab closes.
type Tab struct {
	ID        string
	Owner     Ref
	Currency  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Ref returns the tab's polymorphic reference.
func (t *Tab) Ref() Ref { return Ref{Kind: constants.OrderableTab, ID: t.ID} }

// Open reports whether the tab still accepts items.
func (t *Tab) Open() bool { return t.Status == constants.TabStatusOpen }

// TabRepo persists tabs.
type TabRepo interface {
	GetTab(ctx context.Context, id string) (*Tab, error)
	// GetOpenTab returns the owner's open tab in the currency, nil when none.
	GetOpenTab(ctx context.Context, owner Ref, currency string) (*Tab, error)
	SaveTab(ctx context.Context, tab *Tab) error
	// ListStaleOpenTabs returns open tabs created before the cutoff.
	ListStaleOpenTabs(ctx context.Context, cutoff time.Time) ([]*Tab, error)
}

// TabItemParams describes one charge added to a tab.
type TabItemParams struct {
	Description   string
	Currency      string
	UnitPrice     int64
	Quantity      int
	TaxPercentage decimal.Decimal
}

// TabUsecase manages per-owner tabs.
type TabUsecase struct {
	tabRepo   TabRepo
	itemRepo  OrderItemRepo
	eventRepo EventRepo
	tm        Transaction
	log       *log.Helper

	// maxAge after which the cron sweep force-closes an open tab
	maxAge time.Duration
	now    func() time.Time
}

// NewTabUsecase creates the tab usecase and registers the tab orderable
// kind.
func NewTabUsecase(
	tabRepo TabRepo,
	itemRepo OrderItemRepo,
	eventRepo EventRepo,
	orderables *OrderableRegistry,
	tm Transaction,
	c *conf.Bootstrap,
	logger log.Logger,
) *TabUsecase {
	maxAge := 30 * 24 * time.Hour
	if c.Billing != nil && c.Billing.TabMaxAgeDays > 0 {
		maxAge = time.Duration(c.Billing.TabMaxAgeDays) * 24 * time.Hour
	}
	uc := &TabUsecase{
		tabRepo:   tabRepo,
		itemRepo:  itemRepo,
		eventRepo: eventRepo,
		tm:        tm,
		log:       log.NewHelper(logger),
		maxAge:    maxAge,
		now:       func() time.Time { return time.Now().UTC() },
	}
	orderables.Register(constants.OrderableTab, func(ctx context.Context, id string) (Orderable, error) {
		tab, err := uc.tabRepo.GetTab(ctx, id)
		if err != nil {
			return nil, err
		}
		if tab == nil {
			return nil, errs.New(errs.ErrCodeTabNotFound, errs.ReasonTabNotFound, "tab %s not found", id)
		}
		return &tabOrderable{}, nil
	})
	return uc
}

// AddToTab puts a charge on the owner's open tab, opening one when needed.
// The item's process time is the horizon sentinel, keeping it out of charge
// sweeps until the tab closes.
func (uc *TabUsecase) AddToTab(ctx context.Context, owner Ref, p TabItemParams) (*OrderItem, error) {
	if p.Quantity < 1 {
		p.Quantity = 1
	}
	var item *OrderItem
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		tab, err := uc.openTab(ctx, owner, p.Currency)
		if err != nil {
			return err
		}
		now := uc.now()
		item = &OrderItem{
			ID:            uuid.New().String(),
			Owner:         owner,
			Orderable:     tab.Ref(),
			Currency:      p.Currency,
			UnitPrice:     p.UnitPrice,
			Quantity:      p.Quantity,
			TaxPercentage: p.TaxPercentage,
			Description:   p.Description,
			ProcessAt:     constants.TabItemHorizon,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return uc.itemRepo.SaveOrderItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CloseTab closes the owner's open tab: its unprocessed items become due
// immediately and the next charge sweep bills them as one order.
func (uc *TabUsecase) CloseTab(ctx context.Context, owner Ref, currency string) (*Tab, error) {
	var tab *Tab
	err := uc.tm.Exec(ctx, func(ctx context.Context) error {
		var err error
		tab, err = uc.tabRepo.GetOpenTab(ctx, owner, currency)
		if err != nil {
			return err
		}
		if tab == nil {
			return errs.New(errs.ErrCodeTabNotFound, errs.ReasonTabNotFound,
				"no open %s tab for %s", currency, owner)
		}
		return uc.closeTab(ctx, tab)
	})
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// CloseStaleTabs force-closes open tabs older than the configured maximum
// age. Run from cron; returns the number of tabs closed.
func (uc *TabUsecase) CloseStaleTabs(ctx context.Context) (int, error) {
	cutoff := uc.now().Add(-uc.maxAge)
	tabs, err := uc.tabRepo.ListStaleOpenTabs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, tab := range tabs {
		err := uc.tm.Exec(ctx, func(ctx context.Context) error {
			return uc.closeTab(ctx, tab)
		})
		if err != nil {
			uc.log.Errorf("Failed to close stale tab %s: %v", tab.ID, err)
			continue
		}
		closed++
	}
	if closed > 0 {
		uc.log.Infof("Closed %d stale tabs", closed)
	}
	return closed, nil
}

func (uc *TabUsecase) openTab(ctx context.Context, owner Ref, currency string) (*Tab, error) {
	tab, err := uc.tabRepo.GetOpenTab(ctx, owner, currency)
	if err != nil {
		return nil, err
	}
	if tab != nil {
		return tab, nil
	}
	now := uc.now()
	tab = &Tab{
		ID:        uuid.New().String(),
		Owner:     owner,
		Currency:  currency,
		Status:    constants.TabStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.tabRepo.SaveTab(ctx, tab); err != nil {
		return nil, err
	}
	return tab, nil
}

func (uc *TabUsecase) closeTab(ctx context.Context, tab *Tab) error {
	now := uc.now()
	items, err := uc.itemRepo.ListOrderItemsByOrderable(ctx, tab.Ref())
	if err != nil {
		return err
	}
	due := 0
	for _, item := range items {
		if item.Processed() {
			continue
		}
		item.ProcessAt = now
		item.UpdatedAt = now
		if err := uc.itemRepo.SaveOrderItem(ctx, item); err != nil {
			return err
		}
		due++
	}
	tab.Status = constants.TabStatusClosed
	tab.ClosedAt = &now
	tab.UpdatedAt = now
	if err := uc.tabRepo.SaveTab(ctx, tab); err != nil {
		return err
	}
	return uc.eventRepo.RecordEvent(ctx, &BillingEvent{
		Owner:     tab.Owner,
		Kind:      constants.EventTabClosed,
		Detail:    fmt.Sprintf("tab=%s items=%d", tab.ID, due),
		CreatedAt: now,
	})
}

// tabOrderable is inert: tab items need no preprocessing and tabs do not
// react to payment outcomes.
type tabOrderable struct{}

func (tabOrderable) PreprocessOrderItem(_ context.Context, item *OrderItem) (ItemCollection, error) {
	return ItemCollection{item}, nil
}
func (tabOrderable) ProcessOrderItem(context.Context, *OrderItem) error { return nil }

func (tabOrderable) HandlePaymentPaid(context.Context, *OrderItem) error { return nil }

func (tabOrderable) HandlePaymentFailed(context.Context, *OrderItem) error { return nil }
