package data

import (
	"context"
	"errors"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type couponRepo struct {
	data *Data
	log  *log.Helper
}

// NewCouponRepo creates the coupon repository.
func NewCouponRepo(data *Data, logger log.Logger) biz.CouponRepo {
	return &couponRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *couponRepo) SaveRedeemedCoupon(ctx context.Context, rc *biz.RedeemedCoupon) error {
	m := &model.RedeemedCoupon{
		ID:        rc.ID,
		Name:      rc.Name,
		OwnerRef:  rc.Owner.String(),
		ModelRef:  rc.Model.String(),
		TimesLeft: rc.TimesLeft,
		CreatedAt: rc.CreatedAt,
		UpdatedAt: rc.UpdatedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save redeemed coupon %s: %v", rc.ID, err)
		return err
	}
	return nil
}

func (r *couponRepo) GetRedeemedCoupon(ctx context.Context, id string) (*biz.RedeemedCoupon, error) {
	var m model.RedeemedCoupon
	err := r.data.DB(ctx).Where("redeemed_coupon_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get redeemed coupon %s: %v", id, err)
		return nil, err
	}
	return redeemedCouponToBiz(&m), nil
}

func (r *couponRepo) ListActiveRedeemedCoupons(ctx context.Context, ref biz.Ref) ([]*biz.RedeemedCoupon, error) {
	var models []model.RedeemedCoupon
	if err := r.data.DB(ctx).
		Where("model_ref = ? AND times_left > 0", ref.String()).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list active redeemed coupons for %s: %v", ref, err)
		return nil, err
	}
	out := make([]*biz.RedeemedCoupon, len(models))
	for i := range models {
		out[i] = redeemedCouponToBiz(&models[i])
	}
	return out, nil
}

func (r *couponRepo) CountRedemptions(ctx context.Context, owner biz.Ref, name string) (int, error) {
	var count int64
	err := r.data.DB(ctx).Model(&model.RedeemedCoupon{}).
		Where("owner_ref = ? AND name = ?", owner.String(), name).
		Count(&count).Error
	if err != nil {
		r.log.Errorf("Failed to count redemptions of %s for %s: %v", name, owner, err)
		return 0, err
	}
	return int(count), nil
}

func (r *couponRepo) SaveAppliedCoupon(ctx context.Context, ac *biz.AppliedCoupon) error {
	m := &model.AppliedCoupon{
		ID:               ac.ID,
		RedeemedCouponID: ac.RedeemedCouponID,
		Name:             ac.Name,
		ModelRef:         ac.Model.String(),
		CreatedAt:        ac.CreatedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save applied coupon %s: %v", ac.ID, err)
		return err
	}
	return nil
}

func (r *couponRepo) GetAppliedCoupon(ctx context.Context, id string) (*biz.AppliedCoupon, error) {
	var m model.AppliedCoupon
	err := r.data.DB(ctx).Where("applied_coupon_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get applied coupon %s: %v", id, err)
		return nil, err
	}
	return &biz.AppliedCoupon{
		ID:               m.ID,
		RedeemedCouponID: m.RedeemedCouponID,
		Name:             m.Name,
		Model:            biz.ParseRef(m.ModelRef),
		CreatedAt:        m.CreatedAt,
	}, nil
}

func redeemedCouponToBiz(m *model.RedeemedCoupon) *biz.RedeemedCoupon {
	return &biz.RedeemedCoupon{
		ID:        m.ID,
		Name:      m.Name,
		Owner:     biz.ParseRef(m.OwnerRef),
		Model:     biz.ParseRef(m.ModelRef),
		TimesLeft: m.TimesLeft,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
