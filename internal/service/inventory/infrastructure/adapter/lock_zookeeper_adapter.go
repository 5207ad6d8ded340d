package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain/port"
	"github.com/nayanjcode/OBAI-InventoryService/internal/zookeeper"
)

// ZookeeperLockAdapter 是 port.LockService 接口的 ZooKeeper 实现，令牌即锁节点路径
type ZookeeperLockAdapter struct {
	locker *zookeeper.Locker
	mu     sync.Mutex
	held   map[string]*zookeeper.Lock
}

func NewZookeeperLockAdapter(locker *zookeeper.Locker) *ZookeeperLockAdapter {
	return &ZookeeperLockAdapter{locker: locker, held: make(map[string]*zookeeper.Lock)}
}

func (a *ZookeeperLockAdapter) TryAcquire(ctx context.Context, key string, wait, hold time.Duration) (*port.Lease, error) {
	lk, err := a.locker.TryLock(ctx, key, wait, hold)
	if err != nil {
		if errors.Is(err, zookeeper.ErrLockTimeout) {
			return nil, errors.Wrapf(domain.ErrLockTimeout, "key %s", key)
		}
		return nil, errors.Wrapf(err, "zookeeper lock adapter failed to lock %s", key)
	}

	a.mu.Lock()
	a.held[lk.Node] = lk
	a.mu.Unlock()
	return &port.Lease{Key: key, Token: lk.Node, ExpiresAt: lk.Deadline}, nil
}

func (a *ZookeeperLockAdapter) Release(_ context.Context, lease *port.Lease) error {
	if lease == nil {
		return nil
	}
	a.mu.Lock()
	lk, ok := a.held[lease.Token]
	delete(a.held, lease.Token)
	a.mu.Unlock()
	if !ok {
		return errors.Errorf("unknown zookeeper lease for key %s", lease.Key)
	}
	return lk.Unlock()
}
