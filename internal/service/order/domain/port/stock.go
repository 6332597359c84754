// internal/service/order/domain/port/stock.go
package port

import "context"

// StockReserver 是订单服务对库存两阶段预扣能力的依赖。
// Reserve 只动缓存；Confirm 在订单事务上下文内做权威扣减；
// Rollback 撤销未确认的预扣（幂等）；Release 补偿释放已确认的扣减；
// RestoreCachedStock 在事务中止后收敛已确认项的缓存值。
type StockReserver interface {
	CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error)
	Reserve(ctx context.Context, productID int64, quantity int, orderRef string) error
	Confirm(ctx context.Context, productID int64, quantity int, orderRef string) error
	Rollback(ctx context.Context, productID int64, orderRef string) (bool, error)
	Release(ctx context.Context, productID int64, quantity int, orderRef string) error
	RestoreCachedStock(ctx context.Context, productID int64, quantity int) error
}
