// Package ratelimit 固定窗口计数限流，用于登录等敏感入口
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result 一次计数后的限流结果
type Result struct {
	Allowed   bool
	Count     int64
	Remaining int64
	// RetryAfter 窗口剩余时间，仅在被拒绝时有意义
	RetryAfter time.Duration
}

// Limiter 按 key 计数，超过 max 时拒绝
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func newResult(count int64, max int, ttl time.Duration) Result {
	remaining := int64(max) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    count <= int64(max),
		Count:      count,
		Remaining:  remaining,
		RetryAfter: ttl,
	}
}

// RedisLimiter 多实例共享计数
type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	window time.Duration
	max    int
}

func NewRedisLimiter(rdb redis.UniversalClient, prefix string, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, window: window, max: max}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.prefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		// NX 只在窗口开始时设置过期时间
		pipe.ExpireNX(ctx, k, l.window)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return newResult(incr.Val(), l.max, ttl.Val()), nil
}

// MemoryLimiter 单实例限流
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count   int64
	resetAt time.Time
}

func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	return &MemoryLimiter{
		window:  window,
		max:     max,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
		l.sweep(now)
	}
	b.count++
	return newResult(b.count, l.max, b.resetAt.Sub(now)), nil
}

// sweep 清理过期窗口，调用方需持有锁
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}
