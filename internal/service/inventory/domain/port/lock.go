package port

import (
	"context"
	"time"
)

// Lease 是一次成功的加锁，ExpiresAt 之后锁会自动失效
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// LockService 是分布式互斥锁的出站端口。
type LockService interface {
	// TryAcquire 在 wait 内获取 key 的锁，最多持有 hold。超时返回 domain.ErrLockTimeout
	TryAcquire(ctx context.Context, key string, wait, hold time.Duration) (*Lease, error)
	// Release 只释放自己持有的锁，锁已过期时不报错
	Release(ctx context.Context, lease *Lease) error
}
