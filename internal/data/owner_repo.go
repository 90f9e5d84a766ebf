package data

import (
	"context"
	"errors"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type ownerRepo struct {
	data *Data
	log  *log.Helper
}

// NewOwnerRepo creates the owner repository.
func NewOwnerRepo(data *Data, logger log.Logger) biz.OwnerRepo {
	return &ownerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *ownerRepo) GetOwner(ctx context.Context, id string) (*biz.Owner, error) {
	var m model.Owner
	err := r.data.DB(ctx).Where("owner_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get owner %s: %v", id, err)
		return nil, err
	}
	return &biz.Owner{
		ID:                      m.ID,
		GatewayCustomerID:       m.GatewayCustomerID,
		MandateID:               m.MandateID,
		TaxPercentage:           m.TaxPercentage,
		ExtraBillingInformation: m.ExtraBillingInformation,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}, nil
}

func (r *ownerRepo) SaveOwner(ctx context.Context, owner *biz.Owner) error {
	m := &model.Owner{
		ID:                      owner.ID,
		GatewayCustomerID:       owner.GatewayCustomerID,
		MandateID:               owner.MandateID,
		TaxPercentage:           owner.TaxPercentage,
		ExtraBillingInformation: owner.ExtraBillingInformation,
		CreatedAt:               owner.CreatedAt,
		UpdatedAt:               owner.UpdatedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save owner %s: %v", owner.ID, err)
		return err
	}
	return nil
}

func (r *ownerRepo) ClearMandate(ctx context.Context, id string) error {
	if err := r.data.DB(ctx).Model(&model.Owner{}).
		Where("owner_id = ?", id).
		Update("mandate_id", "").Error; err != nil {
		r.log.Errorf("Failed to clear mandate for owner %s: %v", id, err)
		return err
	}
	return nil
}
