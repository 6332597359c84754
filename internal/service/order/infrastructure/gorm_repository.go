// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"mall/internal/pkg/database"
	"mall/internal/service/order/domain"
)

// GormOrderRepository 基于 GORM 的订单仓储。
// 所有方法都从 ctx 中取事务句柄，落在调用方开启的事务内。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

var _ domain.OrderRepository = (*GormOrderRepository)(nil)

// Create 插入订单头和全部订单项，回填自增 ID。
func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model, err := toModel(order)
	if err != nil {
		return err
	}

	db := database.FromContext(ctx, r.db)
	if err := db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "create order %s", order.OrderNumber)
	}

	order.ID = model.ID
	for i := range model.Items {
		order.Items[i].ID = model.Items[i].ID
		order.Items[i].OrderID = model.ID
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.findOne(ctx, "order_number = ?", orderNumber)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg interface{}) (*domain.Order, error) {
	db := database.FromContext(ctx, r.db)

	var model OrderModel
	err := db.WithContext(ctx).Preload("Items").Where(query, arg).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	return toDomain(&model)
}

func (r *GormOrderRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*domain.Order, int64, error) {
	db := database.FromContext(ctx, r.db).WithContext(ctx)

	var total int64
	if err := db.Model(&OrderModel{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count user orders")
	}

	var models []OrderModel
	err := db.Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list user orders")
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		o, err := toDomain(&models[i])
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, nil
}

// Update 只回写订单头的状态与金额字段，订单项是不可变快照。
func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	db := database.FromContext(ctx, r.db)

	result := db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"status":          string(order.Status),
			"payment_status":  string(order.PaymentStatus),
			"discount_amount": order.DiscountAmount,
			"total_amount":    order.TotalAmount,
			"updated_at":      order.UpdatedAt,
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update order %s", order.OrderNumber)
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// FindTimedOut 返回创建时间早于 before、仍未支付完成的指定状态订单。
func (r *GormOrderRepository) FindTimedOut(ctx context.Context, status domain.Status, before time.Time, limit int) ([]*domain.Order, error) {
	db := database.FromContext(ctx, r.db)

	var models []OrderModel
	err := db.WithContext(ctx).Preload("Items").
		Where("status = ?", string(status)).
		Where("payment_status NOT IN ?", []string{string(domain.PaymentSuccess), string(domain.PaymentRefunded)}).
		Where("created_at < ?", before).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find timed-out orders")
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		o, err := toDomain(&models[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}
