package data

import (
	"context"
	"errors"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type paymentRepo struct {
	data *Data
	log  *log.Helper
}

// NewPaymentRepo creates the payment mirror repository.
func NewPaymentRepo(data *Data, logger log.Logger) biz.PaymentRepo {
	return &paymentRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *paymentRepo) SavePayment(ctx context.Context, p *biz.Payment) error {
	m := &model.Payment{
		ID:        p.ID,
		OrderID:   p.OrderID,
		OwnerRef:  p.Owner.String(),
		Amount:    p.Amount.Amount,
		Currency:  p.Amount.Currency,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save payment %s: %v", p.ID, err)
		return err
	}
	return nil
}

func (r *paymentRepo) GetPayment(ctx context.Context, id string) (*biz.Payment, error) {
	var m model.Payment
	err := r.data.DB(ctx).Where("payment_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get payment %s: %v", id, err)
		return nil, err
	}
	return &biz.Payment{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Owner:     biz.ParseRef(m.OwnerRef),
		Amount:    biz.NewMoney(m.Amount, m.Currency),
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}
