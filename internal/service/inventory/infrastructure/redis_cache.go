// internal/service/inventory/infrastructure/redis_cache.go
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"mall/internal/pkg/redis"
)

const rollbackScriptName = "stock_rollback"

// StockRedisCache 是 port.StockCache 的 Redis 实现。
//
// 键空间：
//   - stock:<productID>              库存影子值
//   - reserve:<productID>:<orderRef> 预扣记录，值为数量，带 TTL
type StockRedisCache struct {
	client *redis.Client
}

// NewStockRedisCache 创建缓存适配器并加载回滚脚本。
func NewStockRedisCache(client *redis.Client) (*StockRedisCache, error) {
	if err := client.LoadScriptFromContent(rollbackScriptName, rollbackScript); err != nil {
		return nil, errors.Wrap(err, "failed to load stock rollback script")
	}
	return &StockRedisCache{client: client}, nil
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

func reserveKey(productID int64, orderRef string) string {
	return fmt.Sprintf("reserve:%d:%s", productID, orderRef)
}

func (c *StockRedisCache) GetStock(ctx context.Context, productID int64) (int64, bool, error) {
	stock, err := c.client.GetClient().Get(ctx, stockKey(productID)).Int64()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to read cached stock for product %d", productID)
	}
	return stock, true, nil
}

func (c *StockRedisCache) SetStock(ctx context.Context, productID int64, stock int64) error {
	return errors.Wrapf(
		c.client.GetClient().Set(ctx, stockKey(productID), stock, 0).Err(),
		"failed to set cached stock for product %d", productID,
	)
}

func (c *StockRedisCache) SetStockBatch(ctx context.Context, stocks map[int64]int64) error {
	if len(stocks) == 0 {
		return nil
	}
	pipe := c.client.GetClient().Pipeline()
	for productID, stock := range stocks {
		pipe.Set(ctx, stockKey(productID), stock, 0)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "failed to batch-set cached stock")
}

func (c *StockRedisCache) SaveReservation(ctx context.Context, productID int64, orderRef string, quantity int, ttl time.Duration) error {
	return errors.Wrapf(
		c.client.GetClient().Set(ctx, reserveKey(productID, orderRef), quantity, ttl).Err(),
		"failed to save reservation record for product %d order %s", productID, orderRef,
	)
}

// RollbackReservation 用 Lua 脚本原子地完成「删记录 + 按记录数量回补库存」。
// 数量取自记录本身而不是调用方参数，重复调用第二次必然落在
// 「记录不存在」分支，库存不会被加回两次。
func (c *StockRedisCache) RollbackReservation(ctx context.Context, productID int64, orderRef string) (bool, error) {
	result, err := c.client.RunScript(ctx, rollbackScriptName,
		[]string{reserveKey(productID, orderRef), stockKey(productID)})
	if err != nil {
		return false, errors.Wrapf(err, "rollback script failed for product %d order %s", productID, orderRef)
	}
	code, ok := result.(int64)
	if !ok {
		return false, errors.Errorf("unexpected result type from rollback script: %T", result)
	}
	return code == 1, nil
}

func (c *StockRedisCache) DeleteReservation(ctx context.Context, productID int64, orderRef string) error {
	return errors.Wrapf(
		c.client.GetClient().Del(ctx, reserveKey(productID, orderRef)).Err(),
		"failed to delete reservation record for product %d order %s", productID, orderRef,
	)
}

func (c *StockRedisCache) AddStock(ctx context.Context, productID int64, quantity int) error {
	return errors.Wrapf(
		c.client.GetClient().IncrBy(ctx, stockKey(productID), int64(quantity)).Err(),
		"failed to add back cached stock for product %d", productID,
	)
}

var rollbackScript = `
-- KEYS[1]: 预扣记录 Key, 例如: reserve:42:ORD20250101ABCDEF01
-- KEYS[2]: 库存影子 Key, 例如: stock:42

-- 1. 读取预扣记录，不存在说明已回滚过或从未创建
local qty = redis.call('GET', KEYS[1])
if not qty then
    return 0
end

-- 2. 删除记录并按记录中的数量回补库存
redis.call('DEL', KEYS[1])
redis.call('INCRBY', KEYS[2], qty)
return 1
`
