package service

import (
	"context"
	"errors"
	"time"

	"deploymate/pkg/core/logger"
	"deploymate/system/release/internal/model"

	"github.com/go-redis/cache/v9"
)

// ReleaseCache 公开的 manifest / 下载接口按发布 id 读取记录
// 只缓存终态记录，终态之后记录不再变化
type ReleaseCache struct {
	cache *cache.Cache
	ttl   time.Duration
	log   *logger.Log
}

// NewReleaseCache c 为 nil 时返回 nil，调用方按未启用缓存处理
func NewReleaseCache(c *cache.Cache, ttl time.Duration, log *logger.Log) *ReleaseCache {
	if c == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ReleaseCache{cache: c, ttl: ttl, log: log.WithEntryName("ReleaseCache")}
}

func releaseCacheKey(id string) string {
	return "deploymate:release:" + id
}

// Get 先读缓存，未命中时调用 load，结果为终态时写回缓存
func (c *ReleaseCache) Get(ctx context.Context, id string, load func(ctx context.Context, id string) (*model.Release, error)) (*model.Release, error) {
	if c == nil {
		return load(ctx, id)
	}

	var release model.Release
	err := c.cache.Get(ctx, releaseCacheKey(id), &release)
	if err == nil {
		return &release, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.WithErr(err).Warn("读取发布缓存失败，回源数据库")
	}

	loaded, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	if loaded.Terminal() {
		if setErr := c.cache.Set(&cache.Item{
			Ctx:   ctx,
			Key:   releaseCacheKey(id),
			Value: loaded,
			TTL:   c.ttl,
		}); setErr != nil {
			c.log.WithErr(setErr).Warn("写入发布缓存失败")
		}
	}
	return loaded, nil
}
