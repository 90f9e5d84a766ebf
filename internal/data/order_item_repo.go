package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type orderItemRepo struct {
	data *Data
	log  *log.Helper
}

// NewOrderItemRepo creates the order item repository.
func NewOrderItemRepo(data *Data, logger log.Logger) biz.OrderItemRepo {
	return &orderItemRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *orderItemRepo) GetOrderItem(ctx context.Context, id string) (*biz.OrderItem, error) {
	var m model.OrderItem
	err := r.data.DB(ctx).Where("order_item_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get order item %s: %v", id, err)
		return nil, err
	}
	return orderItemToBiz(&m), nil
}

func (r *orderItemRepo) SaveOrderItem(ctx context.Context, item *biz.OrderItem) error {
	if err := r.data.DB(ctx).Save(orderItemToModel(item)).Error; err != nil {
		r.log.Errorf("Failed to save order item %s: %v", item.ID, err)
		return err
	}
	return nil
}

func (r *orderItemRepo) SaveOrderItems(ctx context.Context, items biz.ItemCollection) error {
	for _, item := range items {
		if err := r.SaveOrderItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *orderItemRepo) DeleteOrderItem(ctx context.Context, id string) error {
	if err := r.data.DB(ctx).Where("order_item_id = ?", id).Delete(&model.OrderItem{}).Error; err != nil {
		r.log.Errorf("Failed to delete order item %s: %v", id, err)
		return err
	}
	return nil
}

func (r *orderItemRepo) ListDueOrderItems(ctx context.Context, now time.Time) (biz.ItemCollection, error) {
	var models []model.OrderItem
	if err := r.data.DB(ctx).
		Where("order_id IS NULL AND process_at <= ?", now).
		Order("process_at ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list due order items: %v", err)
		return nil, err
	}
	return orderItemsToBiz(models), nil
}

func (r *orderItemRepo) ListDueOrderItemsForOwner(ctx context.Context, owner biz.Ref, currency string, now time.Time) (biz.ItemCollection, error) {
	var models []model.OrderItem
	if err := r.data.DB(ctx).
		Where("order_id IS NULL AND owner_ref = ? AND currency = ? AND process_at <= ?",
			owner.String(), currency, now).
		Order("process_at ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list due order items for %s: %v", owner, err)
		return nil, err
	}
	return orderItemsToBiz(models), nil
}

func (r *orderItemRepo) ListOrderItemsByOrder(ctx context.Context, orderID string) (biz.ItemCollection, error) {
	var models []model.OrderItem
	if err := r.data.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list order items for order %s: %v", orderID, err)
		return nil, err
	}
	return orderItemsToBiz(models), nil
}

func (r *orderItemRepo) ListOrderItemsByOrderable(ctx context.Context, orderable biz.Ref) (biz.ItemCollection, error) {
	var models []model.OrderItem
	if err := r.data.DB(ctx).
		Where("orderable_ref = ?", orderable.String()).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list order items for %s: %v", orderable, err)
		return nil, err
	}
	return orderItemsToBiz(models), nil
}

func orderItemToModel(item *biz.OrderItem) *model.OrderItem {
	m := &model.OrderItem{
		ID:            item.ID,
		OwnerRef:      item.Owner.String(),
		OrderID:       item.OrderID,
		Currency:      item.Currency,
		UnitPrice:     item.UnitPrice,
		Quantity:      item.Quantity,
		TaxPercentage: item.TaxPercentage,
		Description:   item.Description,
		ProcessAt:     item.ProcessAt,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
	if !item.Orderable.IsZero() {
		m.OrderableRef = item.Orderable.String()
	}
	if len(item.DescriptionExtraLines) > 0 {
		m.DescriptionExtra = strings.Join(item.DescriptionExtraLines, "\n")
	}
	return m
}

func orderItemToBiz(m *model.OrderItem) *biz.OrderItem {
	item := &biz.OrderItem{
		ID:            m.ID,
		Owner:         biz.ParseRef(m.OwnerRef),
		Orderable:     biz.ParseRef(m.OrderableRef),
		OrderID:       m.OrderID,
		Currency:      m.Currency,
		UnitPrice:     m.UnitPrice,
		Quantity:      m.Quantity,
		TaxPercentage: m.TaxPercentage,
		Description:   m.Description,
		ProcessAt:     m.ProcessAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.DescriptionExtra != "" {
		item.DescriptionExtraLines = strings.Split(m.DescriptionExtra, "\n")
	}
	return item
}

func orderItemsToBiz(models []model.OrderItem) biz.ItemCollection {
	items := make(biz.ItemCollection, len(models))
	for i := range models {
		items[i] = orderItemToBiz(&models[i])
	}
	return items
}
