// internal/service/inventory/infrastructure/zk_lock.go
package infrastructure

import (
	"context"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"mall/internal/service/inventory/domain"
)

const zkLockRoot = "/stock_locks"

// ZkProductLocker 是 port.ProductLocker 的 ZooKeeper 实现，
// 供锁与库存缓存分离部署的场景使用（配置 infra.lock.provider: zookeeper）。
//
// 用临时节点实现非阻塞 try-lock：创建成功即持锁，节点已存在即冲突。
// 崩溃安全性来自会话机制而不是 ttl 参数——持有者进程崩溃后，
// 临时节点随 ZooKeeper 会话过期自动删除。
type ZkProductLocker struct {
	conn *zk.Conn
}

// NewZkProductLocker 连接 ZooKeeper 并确保锁根节点存在。
func NewZkProductLocker(servers []string, sessionTimeout time.Duration) (*ZkProductLocker, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to zookeeper")
	}

	_, err = conn.Create(zkLockRoot, []byte{}, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		conn.Close()
		return nil, errors.Wrap(err, "failed to create lock root node")
	}

	return &ZkProductLocker{conn: conn}, nil
}

func zkLockPath(key string) string {
	return zkLockRoot + "/" + key
}

// Acquire 尝试创建临时锁节点，节点已存在时立即返回 ErrLockContention。
func (l *ZkProductLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	_, err := l.conn.Create(zkLockPath(key), []byte(token), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		return "", domain.ErrLockContention
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to acquire zk lock %s", key)
	}
	return token, nil
}

// Release 读取节点内容，token 匹配时按读到的版本删除（检查加删除）。
func (l *ZkProductLocker) Release(ctx context.Context, key, token string) (bool, error) {
	data, stat, err := l.conn.Get(zkLockPath(key))
	if err == zk.ErrNoNode {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to read zk lock %s", key)
	}
	if string(data) != token {
		return false, nil
	}

	err = l.conn.Delete(zkLockPath(key), stat.Version)
	if err == zk.ErrNoNode || err == zk.ErrBadVersion {
		// 节点在读取和删除之间被会话过期清理或被他人接管
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete zk lock %s", key)
	}
	return true, nil
}

// Close 关闭 ZooKeeper 连接，随之释放本会话持有的全部临时节点。
func (l *ZkProductLocker) Close() {
	l.conn.Close()
}
