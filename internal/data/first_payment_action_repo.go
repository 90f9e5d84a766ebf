package data

import (
	"context"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

type firstPaymentActionRepo struct {
	data *Data
	log  *log.Helper
}

// NewFirstPaymentActionRepo creates the first payment action repository.
func NewFirstPaymentActionRepo(data *Data, logger log.Logger) biz.FirstPaymentActionRepo {
	return &firstPaymentActionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *firstPaymentActionRepo) SaveFirstPaymentAction(ctx context.Context, a *biz.FirstPaymentAction) error {
	m := &model.FirstPaymentAction{
		ID:            a.ID,
		OwnerRef:      a.Owner.String(),
		PaymentID:     a.PaymentID,
		Kind:          a.Kind,
		Plan:          a.Plan,
		Quantity:      a.Quantity,
		TrialUntil:    a.TrialUntil,
		Coupon:        a.Coupon,
		TaxPercentage: a.TaxPercentage,
		Description:   a.Description,
		Amount:        a.Amount,
		Currency:      a.Currency,
		CreatedAt:     a.CreatedAt,
	}
	if err := r.data.DB(ctx).Save(m).Error; err != nil {
		r.log.Errorf("Failed to save first payment action %s: %v", a.ID, err)
		return err
	}
	return nil
}

func (r *firstPaymentActionRepo) ListFirstPaymentActions(ctx context.Context, paymentID string) ([]*biz.FirstPaymentAction, error) {
	var models []model.FirstPaymentAction
	if err := r.data.DB(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list first payment actions for %s: %v", paymentID, err)
		return nil, err
	}
	out := make([]*biz.FirstPaymentAction, len(models))
	for i, m := range models {
		out[i] = &biz.FirstPaymentAction{
			ID:            m.ID,
			Owner:         biz.ParseRef(m.OwnerRef),
			PaymentID:     m.PaymentID,
			Kind:          m.Kind,
			Plan:          m.Plan,
			Quantity:      m.Quantity,
			TrialUntil:    m.TrialUntil,
			Coupon:        m.Coupon,
			TaxPercentage: m.TaxPercentage,
			Description:   m.Description,
			Amount:        m.Amount,
			Currency:      m.Currency,
			CreatedAt:     m.CreatedAt,
		}
	}
	return out, nil
}

func (r *firstPaymentActionRepo) DeleteFirstPaymentActions(ctx context.Context, paymentID string) error {
	if err := r.data.DB(ctx).
		Where("payment_id = ?", paymentID).
		Delete(&model.FirstPaymentAction{}).Error; err != nil {
		r.log.Errorf("Failed to delete first payment actions for %s: %v", paymentID, err)
		return err
	}
	return nil
}
