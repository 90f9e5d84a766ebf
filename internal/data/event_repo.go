package data

import (
	"context"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

type eventRepo struct {
	data *Data
	log  *log.Helper
}

// NewEventRepo creates the billing event repository.
func NewEventRepo(data *Data, logger log.Logger) biz.EventRepo {
	return &eventRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *eventRepo) RecordEvent(ctx context.Context, ev *biz.BillingEvent) error {
	m := &model.BillingEvent{
		OwnerRef:       ev.Owner.String(),
		Kind:           ev.Kind,
		OrderID:        ev.OrderID,
		SubscriptionID: ev.SubscriptionID,
		Detail:         ev.Detail,
		CreatedAt:      ev.CreatedAt,
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to record %s event for %s: %v", ev.Kind, ev.Owner, err)
		return err
	}
	ev.ID = m.ID
	return nil
}

func (r *eventRepo) ListEvents(ctx context.Context, owner biz.Ref, page, pageSize int) ([]*biz.BillingEvent, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > constants.MaxPageSize {
		pageSize = constants.DefaultPageSize
	}

	var total int64
	if err := r.data.DB(ctx).Model(&model.BillingEvent{}).
		Where("owner_ref = ?", owner.String()).
		Count(&total).Error; err != nil {
		r.log.Errorf("Failed to count events for %s: %v", owner, err)
		return nil, 0, err
	}

	var models []model.BillingEvent
	if err := r.data.DB(ctx).
		Where("owner_ref = ?", owner.String()).
		Order("created_at DESC, billing_event_id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list events for %s: %v", owner, err)
		return nil, 0, err
	}

	events := make([]*biz.BillingEvent, len(models))
	for i, m := range models {
		events[i] = &biz.BillingEvent{
			ID:             m.ID,
			Owner:          biz.ParseRef(m.OwnerRef),
			Kind:           m.Kind,
			OrderID:        m.OrderID,
			SubscriptionID: m.SubscriptionID,
			Detail:         m.Detail,
			CreatedAt:      m.CreatedAt,
		}
	}
	return events, int(total), nil
}
