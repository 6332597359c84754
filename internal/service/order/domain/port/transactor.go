// internal/service/order/domain/port/transactor.go
package port

import "context"

// Transactor 在一个数据库事务内执行 fn。fn 内通过 ctx 取得的
// 仓储操作都在同一事务中，fn 返回错误则整体回滚。
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
