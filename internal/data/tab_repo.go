package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type tabRepo struct {
	data *Data
	log  *log.Helper
}

// NewTabRepo creates the tab repository.
func NewTabRepo(data *Data, logger log.Logger) biz.TabRepo {
	return &tabRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *tabRepo) GetTab(ctx context.Context, id string) (*biz.Tab, error) {
	var m model.Tab
	err := r.data.DB(ctx).Where("tab_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get tab %s: %v", id, err)
		return nil, err
	}
	return tabToBiz(&m), nil
}

func (r *tabRepo) GetOpenTab(ctx context.Context, owner biz.Ref, currency string) (*biz.Tab, error) {
	var m model.Tab
	err := r.data.DB(ctx).
		Where("owner_ref = ? AND currency = ? AND status = ?",
			owner.String(), currency, constants.TabStatusOpen).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get open tab for %s %s: %v", owner, currency, err)
		return nil, err
	}
	return tabToBiz(&m), nil
}

func (r *tabRepo) SaveTab(ctx context.Context, tab *biz.Tab) error {
	m := &model.Tab{
		ID:        tab.ID,
		OwnerRef:  tab.Owner.String(),
		Currency:  tab.Currency,
		Status:    tab.Status,
		CreatedAt: tab.CreatedAt,
		UpdatedAt: tab.UpdatedAt,
		ClosedAt:  tab.ClosedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save tab %s: %v", tab.ID, err)
		return err
	}
	return nil
}

func (r *tabRepo) ListStaleOpenTabs(ctx context.Context, cutoff time.Time) ([]*biz.Tab, error) {
	var models []model.Tab
	if err := r.data.DB(ctx).
		Where("status = ? AND created_at < ?", constants.TabStatusOpen, cutoff).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list stale open tabs: %v", err)
		return nil, err
	}
	tabs := make([]*biz.Tab, len(models))
	for i := range models {
		tabs[i] = tabToBiz(&models[i])
	}
	return tabs, nil
}

func tabToBiz(m *model.Tab) *biz.Tab {
	return &biz.Tab{
		ID:        m.ID,
		Owner:     biz.ParseRef(m.OwnerRef),
		Currency:  m.Currency,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		ClosedAt:  m.ClosedAt,
	}
}
