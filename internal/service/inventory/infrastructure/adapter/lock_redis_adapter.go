package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/redis"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain/port"
)

const (
	releaseLockScriptName = "release_lock"
	lockKeyPrefix         = "lock:"
	minPollInterval       = 5 * time.Millisecond
	maxPollInterval       = 100 * time.Millisecond
)

// RedisLockAdapter 是 port.LockService 接口的 Redis 实现。
// 加锁使用 SET NX PX，令牌随机生成；释放通过 Lua 脚本比对令牌后删除。
type RedisLockAdapter struct {
	redisClient *redis.Client
}

// NewRedisLockAdapter 创建锁适配器，并在创建时加载释放脚本。
func NewRedisLockAdapter(redisClient *redis.Client) (*RedisLockAdapter, error) {
	if err := redisClient.LoadScriptFromContent(releaseLockScriptName, releaseLockScript); err != nil {
		return nil, errors.Wrap(err, "failed to load critical release lock script")
	}
	return &RedisLockAdapter{redisClient: redisClient}, nil
}

// TryAcquire 轮询抢锁，间隔指数增长，直到成功或超过 wait
func (a *RedisLockAdapter) TryAcquire(ctx context.Context, key string, wait, hold time.Duration) (*port.Lease, error) {
	token := uuid.NewString()
	redisKey := lockKeyPrefix + key
	deadline := time.Now().Add(wait)
	interval := minPollInterval

	for {
		start := time.Now()
		ok, err := a.redisClient.GetClient().SetNX(ctx, redisKey, token, hold).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "redis lock adapter failed to set %s", redisKey)
		}
		if ok {
			return &port.Lease{Key: key, Token: token, ExpiresAt: start.Add(hold)}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.Wrapf(domain.ErrLockTimeout, "key %s", key)
		}
		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrapf(domain.ErrLockTimeout, "key %s: %v", key, ctx.Err())
		case <-timer.C:
		}
		interval = min(interval*2, maxPollInterval)
	}
}

// Release 令牌不匹配说明锁已过期并可能被他人持有，此时不做任何事
func (a *RedisLockAdapter) Release(ctx context.Context, lease *port.Lease) error {
	if lease == nil {
		return nil
	}
	result, err := a.redisClient.RunScript(ctx, releaseLockScriptName, []string{lockKeyPrefix + lease.Key}, lease.Token)
	if err != nil {
		return errors.Wrapf(err, "redis lock adapter failed to release %s", lease.Key)
	}
	if code, ok := result.(int64); ok && code == 0 {
		logger.Ctx(ctx).Warn().Str("key", lease.Key).Msg("lock lease expired before release")
	}
	return nil
}

var releaseLockScript = `
-- KEYS[1]: 锁的 Key, 例如: lock:stock:{product_id}
-- ARGV[1]: 加锁时写入的令牌

if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
