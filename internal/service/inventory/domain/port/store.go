// internal/service/inventory/domain/port/store.go
package port

import "context"

// StockStore 是权威库存（数据库 products 表）的出站端口。
type StockStore interface {
	// GetStock 读取权威库存值。商品不存在或已删除时返回 domain.ErrProductNotFound。
	GetStock(ctx context.Context, productID int64) (int64, error)

	// ConfirmStock 条件扣减：stock = stock - quantity, sales_count = sales_count + quantity
	// WHERE stock >= quantity。返回 false 表示没有行被更新（库存已被并发耗尽）。
	// 实现必须加入 ctx 中携带的事务（如果有），使扣减和订单落库同生共死。
	ConfirmStock(ctx context.Context, productID int64, quantity int) (bool, error)

	// ReleaseStock 补偿释放已确认的扣减：stock = stock + quantity,
	// sales_count = sales_count - quantity。用于取消订单和超时对账。
	ReleaseStock(ctx context.Context, productID int64, quantity int) error

	// ListStocks 读取一组商品的权威库存（缓存同步用）。
	// productIDs 为空时返回所有未删除商品。
	ListStocks(ctx context.Context, productIDs ...int64) (map[int64]int64, error)
}
