package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/bsm/redislock"
)

// RedisLockManager 基于 redislock 的锁管理器
type RedisLockManager struct {
	client *redislock.Client
	prefix string
}

func NewRedisLockManager(client *redislock.Client, prefix string) *RedisLockManager {
	return &RedisLockManager{client: client, prefix: prefix}
}

func (m *RedisLockManager) NewLock(key string, opts *LockOptions) DistributedLock {
	return &redisLock{
		client: m.client,
		key:    m.prefix + key,
		opts:   opts.normalize(),
	}
}

// Close redis 客户端由调用方统一关闭
func (m *RedisLockManager) Close() error {
	return nil
}

type redisLock struct {
	client *redislock.Client
	key    string
	opts   *LockOptions

	mu   sync.Mutex
	held *redislock.Lock
}

func (l *redisLock) obtain(ctx context.Context, retry redislock.RetryStrategy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held != nil {
		// 已持有则续期，续期失败视为锁丢失
		err := l.held.Refresh(ctx, l.opts.TTL, nil)
		if err == nil {
			return nil
		}
		l.held = nil
		if !errors.Is(err, redislock.ErrNotObtained) {
			return NewLockError(ErrCodeBackend, "锁续期失败", err)
		}
	}

	held, err := l.client.Obtain(ctx, l.key, l.opts.TTL, &redislock.Options{RetryStrategy: retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrNotObtained
		}
		return NewLockError(ErrCodeBackend, "获取锁失败", err)
	}
	l.held = held
	return nil
}

func (l *redisLock) Lock(ctx context.Context) error {
	var retry redislock.RetryStrategy = redislock.NoRetry()
	if l.opts.MaxRetries > 0 {
		retry = redislock.LimitRetry(redislock.LinearBackoff(l.opts.RetryInterval), l.opts.MaxRetries)
	}
	return l.obtain(ctx, retry)
}

func (l *redisLock) TryLock(ctx context.Context) (bool, error) {
	err := l.obtain(ctx, redislock.NoRetry())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotObtained) {
		return false, nil
	}
	return false, err
}

func (l *redisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil {
		return NewLockError(ErrCodeLockNotHeld, "锁未被持有", nil)
	}
	err := l.held.Release(ctx)
	l.held = nil
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return NewLockError(ErrCodeBackend, "释放锁失败", err)
	}
	return nil
}

func (l *redisLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held != nil
}

func (l *redisLock) GetLockKey() string {
	return l.key
}
