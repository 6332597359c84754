// internal/service/inventory/domain/port/lock.go
package port

import (
	"context"
	"time"
)

// ProductLocker 是按商品粒度的分布式互斥锁端口。
//
// 语义约束：
//   - Acquire 是非阻塞的：锁被占用时立即返回 ErrLockContention（由 domain 包定义），
//     绝不等待，调用方在订单层面重试；
//   - token 标识持有者，Release 只有 token 匹配时才删除锁（原子比较删除）；
//   - ttl 是崩溃兜底：持有者进程崩溃后锁随 ttl 自动失效。
//
// 任何提供原子条件写入和原子条件删除的存储都可以实现它，
// 不要求与库存缓存使用同一种技术。
type ProductLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) (bool, error)
}
