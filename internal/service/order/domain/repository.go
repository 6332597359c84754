// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository 定义订单聚合的持久化接口。
type OrderRepository interface {
	// Create 持久化订单头和全部订单项。
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*Order, error)
	// ListByUser 按创建时间倒序分页返回某用户的订单。
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*Order, int64, error)
	// Update 保存订单头的状态与金额字段，不回写订单项。
	Update(ctx context.Context, order *Order) error
	// FindTimedOut 返回在 before 之前创建、仍处于 status 状态的订单。
	FindTimedOut(ctx context.Context, status Status, before time.Time, limit int) ([]*Order, error)
}

// ProductInfo 是下单时读取的商品快照来源。
type ProductInfo struct {
	ID         int64
	Title      string
	Price      float64
	Attributes string
	IsDeleted  bool
}

// ProductReader 提供商品主数据的只读访问。
type ProductReader interface {
	// GetProducts 按 ID 批量查询，不存在的 ID 不出现在结果中。
	GetProducts(ctx context.Context, ids []int64) (map[int64]*ProductInfo, error)
}
