package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker 基于 Redis 的 broker。每种任务类型使用以下 key：
//
//	<prefix>:<kind>:ready       就绪队列（LPUSH 入队，LMOVE 从右侧取出）
//	<prefix>:<kind>:processing  处理中列表
//	<prefix>:<kind>:lease       处理中任务的租约到期时间（zset）
//	<prefix>:<kind>:delayed     等待重试的任务（zset，score 为执行时间）
//	<prefix>:<kind>:dead        死信列表
//	<prefix>:job:<id>           任务内容
//	<prefix>:dedupe:<key>       去重 key，值为任务 id
type RedisBroker struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisBroker(rdb redis.UniversalClient, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "deploymate:queue"
	}
	return &RedisBroker{rdb: rdb, prefix: prefix}
}

func (b *RedisBroker) key(kind, name string) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, kind, name)
}

func (b *RedisBroker) jobKey(id string) string {
	return b.prefix + ":job:" + id
}

func (b *RedisBroker) dedupeKey(key string) string {
	return b.prefix + ":dedupe:" + key
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (b *RedisBroker) Push(ctx context.Context, job *Job, dedupeTTL time.Duration) (string, bool, error) {
	if job.DedupeKey != "" {
		ok, err := b.rdb.SetNX(ctx, b.dedupeKey(job.DedupeKey), job.ID, dedupeTTL).Result()
		if err != nil {
			return "", false, err
		}
		if !ok {
			existing, err := b.rdb.Get(ctx, b.dedupeKey(job.DedupeKey)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return "", false, err
			}
			return existing, false, nil
		}
	}

	body, err := encodeJob(job)
	if err != nil {
		return "", false, err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.jobKey(job.ID), body, 0)
		if job.RunAt.After(time.Now()) {
			pipe.ZAdd(ctx, b.key(job.Kind, "delayed"), redis.Z{Score: score(job.RunAt), Member: job.ID})
		} else {
			pipe.LPush(ctx, b.key(job.Kind, "ready"), job.ID)
		}
		return nil
	})
	if err != nil {
		if job.DedupeKey != "" {
			// 入队失败时释放去重 key，允许调用方重试
			b.rdb.Del(ctx, b.dedupeKey(job.DedupeKey))
		}
		return "", false, err
	}
	return job.ID, true, nil
}

// reserveScript 原子地把任务从就绪队列移入处理中并写入租约，返回 {id, body}。
// 任务内容已不存在时清理悬空 id，body 为空串
var reserveScript = redis.NewScript(`
local id = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
if not id then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[1], id)
local body = redis.call('GET', ARGV[2] .. id)
if not body then
	redis.call('LREM', KEYS[2], 1, id)
	redis.call('ZREM', KEYS[3], id)
	return {id, ''}
end
return {id, body}
`)

// reservePollInterval 就绪队列为空时的轮询间隔
const reservePollInterval = 100 * time.Millisecond

func (b *RedisBroker) Reserve(ctx context.Context, kind string, wait, lease time.Duration) (*Job, error) {
	deadline := time.Now().Add(wait)
	for {
		job, err := b.tryReserve(ctx, kind, lease)
		if job != nil || err != nil {
			return job, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > reservePollInterval {
			remaining = reservePollInterval
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *RedisBroker) tryReserve(ctx context.Context, kind string, lease time.Duration) (*Job, error) {
	keys := []string{b.key(kind, "ready"), b.key(kind, "processing"), b.key(kind, "lease")}
	res, err := reserveScript.Run(ctx, b.rdb, keys, score(time.Now().Add(lease)), b.prefix+":job:").Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("取任务脚本返回值异常: %v", res)
	}
	id, _ := res[0].(string)
	body, _ := res[1].(string)
	if body == "" {
		return nil, nil
	}

	// 移动与租约已提交，后续写入不受调用方取消影响；失败时任务由租约到期回收
	ctx = context.WithoutCancel(ctx)
	job, err := decodeJob([]byte(body), kind)
	if err != nil {
		b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, b.key(kind, "processing"), 1, id)
			pipe.ZRem(ctx, b.key(kind, "lease"), id)
			return nil
		})
		return nil, fmt.Errorf("解析任务 %s 失败: %w", id, err)
	}

	job.Attempt++
	job.Status = StatusRunning
	if err := b.save(ctx, job, func(redis.Pipeliner) {}); err != nil {
		return nil, err
	}
	return job, nil
}

// save 在同一事务中写入任务内容并执行额外命令
func (b *RedisBroker) save(ctx context.Context, job *Job, extra func(pipe redis.Pipeliner)) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.jobKey(job.ID), body, 0)
		extra(pipe)
		return nil
	})
	return err
}

func (b *RedisBroker) Ack(ctx context.Context, job *Job) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.key(job.Kind, "processing"), 1, job.ID)
		pipe.ZRem(ctx, b.key(job.Kind, "lease"), job.ID)
		pipe.Del(ctx, b.jobKey(job.ID))
		return nil
	})
	return err
}

func (b *RedisBroker) Retry(ctx context.Context, job *Job, at time.Time) error {
	job.Status = StatusRetrying
	job.RunAt = at
	return b.save(ctx, job, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, b.key(job.Kind, "processing"), 1, job.ID)
		pipe.ZRem(ctx, b.key(job.Kind, "lease"), job.ID)
		pipe.ZAdd(ctx, b.key(job.Kind, "delayed"), redis.Z{Score: score(at), Member: job.ID})
	})
}

func (b *RedisBroker) DeadLetter(ctx context.Context, job *Job) error {
	job.Status = StatusDeadLettered
	return b.save(ctx, job, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, b.key(job.Kind, "processing"), 1, job.ID)
		pipe.ZRem(ctx, b.key(job.Kind, "lease"), job.ID)
		pipe.ZRem(ctx, b.key(job.Kind, "delayed"), job.ID)
		pipe.LPush(ctx, b.key(job.Kind, "dead"), job.ID)
	})
}

func (b *RedisBroker) dueMembers(ctx context.Context, key string, now time.Time) ([]string, error) {
	return b.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
}

func (b *RedisBroker) PromoteDue(ctx context.Context, kind string, now time.Time) (int, error) {
	delayed := b.key(kind, "delayed")
	ids, err := b.dueMembers(ctx, delayed, now)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		// ZREM 成功者负责入队，多个节点同时提升时只会入队一次
		removed, err := b.rdb.ZRem(ctx, delayed, id).Result()
		if err != nil {
			return n, err
		}
		if removed == 0 {
			continue
		}
		if err := b.rdb.LPush(ctx, b.key(kind, "ready"), id).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *RedisBroker) ReclaimExpired(ctx context.Context, kind string, now time.Time) (int, error) {
	lease := b.key(kind, "lease")
	ids, err := b.dueMembers(ctx, lease, now)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		removed, err := b.rdb.ZRem(ctx, lease, id).Result()
		if err != nil {
			return n, err
		}
		if removed == 0 {
			continue
		}
		_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, b.key(kind, "processing"), 1, id)
			// 放到右侧，下一个被取出
			pipe.RPush(ctx, b.key(kind, "ready"), id)
			return nil
		})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *RedisBroker) DeadLetters(ctx context.Context, kind string, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := b.rdb.LRange(ctx, b.key(kind, "dead"), 0, stop).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.jobKey(id)
	}
	values, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(s), kind)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Close redis 客户端由调用方统一关闭
func (b *RedisBroker) Close() error {
	return nil
}
