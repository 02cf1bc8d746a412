package queue

import (
	"context"
	"time"
)

// Broker 任务存储与投递后端
type Broker interface {
	// Push 投递任务。带去重 key 且 key 已存在时不投递，返回已有任务 id 与 false
	Push(ctx context.Context, job *Job, dedupeTTL time.Duration) (string, bool, error)

	// Reserve 最多等待 wait 取出一个任务，并设置 lease 可见性超时；没有任务时返回 nil, nil
	Reserve(ctx context.Context, kind string, wait, lease time.Duration) (*Job, error)

	// Ack 确认任务成功，移除任务
	Ack(ctx context.Context, job *Job) error

	// Retry 将任务放入延迟集合，到期后重新投递
	Retry(ctx context.Context, job *Job, at time.Time) error

	// DeadLetter 移入死信列表，不再自动重试
	DeadLetter(ctx context.Context, job *Job) error

	// PromoteDue 将到期的延迟任务移回就绪队列
	PromoteDue(ctx context.Context, kind string, now time.Time) (int, error)

	// ReclaimExpired 回收租约过期（worker 崩溃）的任务
	ReclaimExpired(ctx context.Context, kind string, now time.Time) (int, error)

	// DeadLetters 列出死信任务，最新的在前
	DeadLetters(ctx context.Context, kind string, limit int) ([]*Job, error)

	Close() error
}
