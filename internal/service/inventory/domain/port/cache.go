// internal/service/inventory/domain/port/cache.go
package port

import (
	"context"
	"time"
)

// StockCache 是库存台账缓存的出站端口。
// 它保存每个商品的可售数量影子值和进行中的预扣记录，
// 由基础设施层（Redis）实现，测试时可用内存实现替换。
type StockCache interface {
	// GetStock 读取缓存中的库存影子值。第二个返回值表示键是否存在。
	GetStock(ctx context.Context, productID int64) (int64, bool, error)

	// SetStock 写入库存影子值。
	SetStock(ctx context.Context, productID int64, stock int64) error

	// SetStockBatch 批量写入库存影子值（缓存同步用）。
	SetStockBatch(ctx context.Context, stocks map[int64]int64) error

	// SaveReservation 写入一条带 TTL 的预扣记录。
	SaveReservation(ctx context.Context, productID int64, orderRef string, quantity int, ttl time.Duration) error

	// RollbackReservation 原子地删除预扣记录并把记录中的数量加回库存影子值。
	// 记录不存在时什么都不做并返回 false——这是 rollback 幂等性的基础。
	RollbackReservation(ctx context.Context, productID int64, orderRef string) (bool, error)

	// DeleteReservation 仅删除预扣记录（confirm 成功后调用），不回补库存。
	DeleteReservation(ctx context.Context, productID int64, orderRef string) error

	// AddStock 无条件回补库存影子值（已确认库存的补偿释放用）。
	AddStock(ctx context.Context, productID int64, quantity int) error
}
