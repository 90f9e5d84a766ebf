package data

import (
	"context"
	"errors"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type orderRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderRepo creates the order repository.
func NewOrderRepo(data *Data, logger log.Logger) biz.OrderRepo {
	return &orderRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *biz.Order) error {
	if err := r.data.DB(ctx).Create(orderToModel(order)).Error; err != nil {
		r.log.Errorf("Failed to create order %s: %v", order.Number, err)
		return err
	}
	return nil
}

func (r *orderRepo) UpdateOrder(ctx context.Context, order *biz.Order) error {
	if err := r.data.DB(ctx).Save(orderToModel(order)).Error; err != nil {
		r.log.Errorf("Failed to update order %s: %v", order.Number, err)
		return err
	}
	return nil
}

func (r *orderRepo) GetOrder(ctx context.Context, id string) (*biz.Order, error) {
	var m model.Order
	err := r.data.DB(ctx).Where("order_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get order %s: %v", id, err)
		return nil, err
	}
	return orderToBiz(&m), nil
}

func (r *orderRepo) GetOrderByPaymentID(ctx context.Context, paymentID string) (*biz.Order, error) {
	var m model.Order
	err := r.data.DB(ctx).Where("payment_id = ?", paymentID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get order by payment %s: %v", paymentID, err)
		return nil, err
	}
	return orderToBiz(&m), nil
}

func (r *orderRepo) ListOrders(ctx context.Context, owner biz.Ref, page, pageSize int) ([]*biz.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > constants.MaxPageSize {
		pageSize = constants.DefaultPageSize
	}

	var total int64
	if err := r.data.DB(ctx).Model(&model.Order{}).
		Where("owner_ref = ?", owner.String()).
		Count(&total).Error; err != nil {
		r.log.Errorf("Failed to count orders for %s: %v", owner, err)
		return nil, 0, err
	}

	var models []model.Order
	if err := r.data.DB(ctx).
		Where("owner_ref = ?", owner.String()).
		Order("created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list orders for %s: %v", owner, err)
		return nil, 0, err
	}

	orders := make([]*biz.Order, len(models))
	for i := range models {
		orders[i] = orderToBiz(&models[i])
	}
	return orders, int(total), nil
}

func orderToModel(order *biz.Order) *model.Order {
	return &model.Order{
		ID:            order.ID,
		Number:        order.Number,
		OwnerRef:      order.Owner.String(),
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Tax:           order.Tax,
		Total:         order.Total,
		BalanceBefore: order.BalanceBefore,
		CreditUsed:    order.CreditUsed,
		TotalDue:      order.TotalDue,
		ProcessedAt:   order.ProcessedAt,
		PaymentID:     order.PaymentID,
		PaymentStatus: order.PaymentStatus,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func orderToBiz(m *model.Order) *biz.Order {
	return &biz.Order{
		ID:            m.ID,
		Number:        m.Number,
		Owner:         biz.ParseRef(m.OwnerRef),
		Currency:      m.Currency,
		Subtotal:      m.Subtotal,
		Tax:           m.Tax,
		Total:         m.Total,
		BalanceBefore: m.BalanceBefore,
		CreditUsed:    m.CreditUsed,
		TotalDue:      m.TotalDue,
		ProcessedAt:   m.ProcessedAt,
		PaymentID:     m.PaymentID,
		PaymentStatus: m.PaymentStatus,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
