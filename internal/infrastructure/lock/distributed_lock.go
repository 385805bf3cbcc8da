package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 用于串行化同一笔订单的并发校验请求（用户重复点击、回调和前端同时触发）。
// 数据库里的条件更新已经保证只入账一次，锁让后到的请求直接拿到"已入账"，
// 而不是两个事务同时去抢同一行。
//
// 加锁：SET key value NX PX ttl
// 释放：Lua 脚本比对 value 后再 DEL，避免误删别人的锁
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// ============================================================================
// Locker：按业务 key 加锁的便捷封装
// ============================================================================

type Locker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewLocker(client *redis.Client, expiration time.Duration) *Locker {
	if expiration <= 0 {
		expiration = 30 * time.Second
	}
	return &Locker{
		client:        client,
		expiration:    expiration,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

// Acquire 获取锁，返回释放函数
// 只有锁被占用时返回 ErrLockFailed，Redis 错误和 ctx 取消原样包装返回
func (l *Locker) Acquire(ctx context.Context, key, owner string) (func(), error) {
	dl := NewDistributedLock(l.client, key, owner, l.expiration)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		if errors.Is(err, ErrLockFailed) {
			return nil, fmt.Errorf("%w: %s", ErrLockFailed, key)
		}
		return nil, fmt.Errorf("加锁 %s 失败: %w", key, err)
	}
	return func() {
		// 请求 ctx 可能已取消，释放锁用独立的 ctx
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dl.Unlock(unlockCtx)
	}, nil
}

// VerifyOrderKey 订单校验锁的 key
func VerifyOrderKey(orderID string) string {
	return fmt.Sprintf("pay:lock:verify:%s", orderID)
}
