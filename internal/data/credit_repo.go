package data

import (
	"context"
	"errors"
	"time"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type creditRepo struct {
	data *Data
	log  *log.Helper
}

// NewCreditRepo creates the credit repository.
func NewCreditRepo(data *Data, logger log.Logger) biz.CreditRepo {
	return &creditRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *creditRepo) GetCredit(ctx context.Context, owner biz.Ref, currency string) (*biz.Credit, error) {
	var m model.Credit
	err := r.data.DB(ctx).
		Where("owner_ref = ? AND currency = ?", owner.String(), currency).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get credit for %s %s: %v", owner, currency, err)
		return nil, err
	}
	return &biz.Credit{
		Owner:     biz.ParseRef(m.OwnerRef),
		Currency:  m.Currency,
		Value:     m.Value,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// AddAmount is a single upsert: insert the row or bump value in place, so
// concurrent adders cannot lose an update.
func (r *creditRepo) AddAmount(ctx context.Context, owner biz.Ref, currency string, amount int64) error {
	now := time.Now().UTC()
	err := r.data.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_ref"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      gorm.Expr("value + ?", amount),
			"updated_at": now,
		}),
	}).Create(&model.Credit{
		OwnerRef:  owner.String(),
		Currency:  currency,
		Value:     amount,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
	if err != nil {
		r.log.Errorf("Failed to add %d to credit for %s %s: %v", amount, owner, currency, err)
		return err
	}
	return nil
}

// MaxOut takes min(balance, want) under a row lock. Callers run it inside a
// transaction; outside one the lock degrades to a plain read.
func (r *creditRepo) MaxOut(ctx context.Context, owner biz.Ref, currency string, want int64) (int64, error) {
	if want <= 0 {
		return 0, nil
	}
	var m model.Credit
	err := r.data.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_ref = ? AND currency = ?", owner.String(), currency).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		r.log.Errorf("Failed to lock credit for %s %s: %v", owner, currency, err)
		return 0, err
	}
	if m.Value <= 0 {
		return 0, nil
	}

	used := m.Value
	if want < used {
		used = want
	}
	err = r.data.DB(ctx).Model(&model.Credit{}).
		Where("credit_id = ?", m.ID).
		Updates(map[string]interface{}{
			"value":      gorm.Expr("value - ?", used),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		r.log.Errorf("Failed to consume credit for %s %s: %v", owner, currency, err)
		return 0, err
	}
	return used, nil
}
