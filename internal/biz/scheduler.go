package biz

import (
	"context"
	"fmt"
	"time"

	"xinyuan_tech/billing-engine/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// ChargeResult is the outcome of one owner+currency group in a sweep.
type ChargeResult struct {
	Owner    Ref
	Currency string
	OrderID  string
	Items    int
	Skipped  bool
	Error    string
}

// SweepResult summarizes one charge sweep run.
type SweepResult struct {
	Due     int
	Groups  int
	Orders  int
	Skipped int
	Failed  int
	Results []ChargeResult
}

// SchedulerUsecase runs the periodic charge sweep: collect due order items,
// group them per owner and currency, and turn each group into one processed
// order. Groups are serialized with a distributed lock so overlapping sweep
// runs (multiple cron workers) cannot double-bill an owner.
type SchedulerUsecase struct {
	itemRepo OrderItemRepo
	orders   *OrderUsecase
	rs       *redsync.Redsync
	log      *log.Helper

	now func() time.Time
}

// NewSchedulerUsecase creates the scheduler usecase.
func NewSchedulerUsecase(itemRepo OrderItemRepo, orders *OrderUsecase, rs *redsync.Redsync, logger log.Logger) *SchedulerUsecase {
	return &SchedulerUsecase{
		itemRepo: itemRepo,
		orders:   orders,
		rs:       rs,
		log:      log.NewHelper(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunScheduledCharges executes one sweep. A failing group is recorded and
// skipped; it stays due and the next sweep retries it.
func (uc *SchedulerUsecase) RunScheduledCharges(ctx context.Context) (*SweepResult, error) {
	now := uc.now()
	due, err := uc.itemRepo.ListDueOrderItems(ctx, now)
	if err != nil {
		uc.log.Errorf("Failed to list due order items: %v", err)
		return nil, err
	}

	groups := due.GroupByOwnerAndCurrency()
	result := &SweepResult{Due: len(due), Groups: len(groups)}
	if len(groups) == 0 {
		return result, nil
	}
	uc.log.Infof("Charge sweep: %d due items across %d owner groups", len(due), len(groups))

	for key := range groups {
		r := uc.chargeGroup(ctx, key.Owner, key.Currency, now)
		result.Results = append(result.Results, r)
		switch {
		case r.Error != "":
			result.Failed++
		case r.Skipped:
			result.Skipped++
		default:
			result.Orders++
		}
	}

	uc.log.Infof("Charge sweep done: %d orders, %d skipped, %d failed",
		result.Orders, result.Skipped, result.Failed)
	return result, nil
}

// chargeGroup bills one owner+currency group under its lock. The due set is
// re-read after acquiring the lock: another worker may have billed the group
// between the list and the lock.
func (uc *SchedulerUsecase) chargeGroup(ctx context.Context, owner Ref, currency string, now time.Time) ChargeResult {
	r := ChargeResult{Owner: owner, Currency: currency}

	mutex := uc.rs.NewMutex(
		fmt.Sprintf("billing:charge:%s:%s", owner, currency),
		redsync.WithExpiry(constants.ChargeLockExpiration),
		redsync.WithTries(constants.ChargeLockRetries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		// Busy lock: another worker owns the group.
		uc.log.Warnf("Charge lock busy for %s %s: %v", owner, currency, err)
		r.Skipped = true
		return r
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.Warnf("Failed to release charge lock for %s %s: %v", owner, currency, err)
		}
	}()

	items, err := uc.itemRepo.ListDueOrderItemsForOwner(ctx, owner, currency, now)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if len(items) == 0 {
		r.Skipped = true
		return r
	}
	r.Items = len(items)

	order, err := uc.orders.CreateFromItems(ctx, items, true)
	if err != nil {
		uc.log.Errorf("Failed to create order for %s %s: %v", owner, currency, err)
		r.Error = err.Error()
		return r
	}
	r.OrderID = order.ID

	if err := uc.orders.ProcessPayment(ctx, order); err != nil {
		uc.log.Errorf("Failed to process order %s: %v", order.ID, err)
		r.Error = err.Error()
		return r
	}
	return r
}
