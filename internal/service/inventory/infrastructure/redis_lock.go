// internal/service/inventory/infrastructure/redis_lock.go
package infrastructure

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"mall/internal/pkg/redis"
	"mall/internal/service/inventory/domain"
)

const unlockScriptName = "stock_unlock"

// RedisProductLocker 是 port.ProductLocker 的 Redis 实现。
// SET NX EX 做原子条件写入，Lua 比较删除做原子条件释放。
type RedisProductLocker struct {
	client *redis.Client
}

func NewRedisProductLocker(client *redis.Client) (*RedisProductLocker, error) {
	if err := client.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, errors.Wrap(err, "failed to load unlock script")
	}
	return &RedisProductLocker{client: client}, nil
}

func redisLockKey(key string) string {
	return "lock:" + key
}

// Acquire 非阻塞获取锁。锁已被持有时返回 domain.ErrLockContention。
func (l *RedisProductLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := l.client.GetClient().SetNX(ctx, redisLockKey(key), token, ttl).Result()
	if err != nil {
		return "", errors.Wrapf(err, "failed to acquire lock %s", key)
	}
	if !ok {
		return "", domain.ErrLockContention
	}
	return token, nil
}

// Release 只在 token 匹配时删除锁，返回是否确实由本次调用释放。
func (l *RedisProductLocker) Release(ctx context.Context, key, token string) (bool, error) {
	result, err := l.client.RunScript(ctx, unlockScriptName, []string{redisLockKey(key)}, token)
	if err != nil {
		return false, errors.Wrapf(err, "failed to release lock %s", key)
	}
	code, ok := result.(int64)
	if !ok {
		return false, errors.Errorf("unexpected result type from unlock script: %T", result)
	}
	return code == 1, nil
}

var unlockScript = `
-- KEYS[1]: 锁 Key
-- ARGV[1]: 持有者 token

if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
else
    return 0
end
`
