package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type subscriptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRepo creates the subscription repository.
func NewSubscriptionRepo(data *Data, logger log.Logger) biz.SubscriptionRepo {
	return &subscriptionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *subscriptionRepo) GetSubscription(ctx context.Context, id string) (*biz.Subscription, error) {
	var m model.Subscription
	err := r.data.DB(ctx).Where("subscription_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get subscription %s: %v", id, err)
		return nil, err
	}
	return subscriptionToBiz(&m), nil
}

func (r *subscriptionRepo) SaveSubscription(ctx context.Context, sub *biz.Subscription) error {
	if err := r.data.DB(ctx).Save(subscriptionToModel(sub)).Error; err != nil {
		r.log.Errorf("Failed to save subscription %s: %v", sub.ID, err)
		return err
	}
	return nil
}

func (r *subscriptionRepo) ListSubscriptionsForOwner(ctx context.Context, owner biz.Ref) ([]*biz.Subscription, error) {
	var models []model.Subscription
	if err := r.data.DB(ctx).
		Where("owner_ref = ?", owner.String()).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list subscriptions for %s: %v", owner, err)
		return nil, err
	}
	subs := make([]*biz.Subscription, len(models))
	for i := range models {
		subs[i] = subscriptionToBiz(&models[i])
	}
	return subs, nil
}

func (r *subscriptionRepo) OwnerHasActiveSubscription(ctx context.Context, owner biz.Ref, currency string) (bool, error) {
	var count int64
	err := r.data.DB(ctx).Model(&model.Subscription{}).
		Where("owner_ref = ? AND currency = ? AND (ends_at IS NULL OR ends_at > ?)",
			owner.String(), currency, time.Now().UTC()).
		Count(&count).Error
	if err != nil {
		r.log.Errorf("Failed to count active subscriptions for %s: %v", owner, err)
		return false, err
	}
	return count > 0, nil
}

func subscriptionToModel(sub *biz.Subscription) *model.Subscription {
	return &model.Subscription{
		ID:                 sub.ID,
		OwnerRef:           sub.Owner.String(),
		Plan:               sub.Plan,
		NextPlan:           sub.NextPlan,
		Currency:           sub.Currency,
		Quantity:           sub.Quantity,
		TaxPercentage:      sub.TaxPercentage,
		AnchorDay:          sub.AnchorDay,
		TrialEndsAt:        sub.TrialEndsAt,
		CycleStartedAt:     sub.CycleStartedAt,
		CycleEndsAt:        sub.CycleEndsAt,
		EndsAt:             sub.EndsAt,
		ScheduledItemID:    sub.ScheduledItemID,
		CancellationReason: sub.CancellationReason,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
	}
}

func subscriptionToBiz(m *model.Subscription) *biz.Subscription {
	return &biz.Subscription{
		ID:                 m.ID,
		Owner:              biz.ParseRef(m.OwnerRef),
		Plan:               m.Plan,
		NextPlan:           m.NextPlan,
		Currency:           m.Currency,
		Quantity:           m.Quantity,
		TaxPercentage:      m.TaxPercentage,
		AnchorDay:          m.AnchorDay,
		TrialEndsAt:        m.TrialEndsAt,
		CycleStartedAt:     m.CycleStartedAt,
		CycleEndsAt:        m.CycleEndsAt,
		EndsAt:             m.EndsAt,
		ScheduledItemID:    m.ScheduledItemID,
		CancellationReason: m.CancellationReason,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
