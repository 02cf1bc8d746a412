package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker 进程内 broker，语义与 RedisBroker 一致，用于开发与测试。
// 取任务时会顺带提升到期的延迟任务。
type MemoryBroker struct {
	mu     sync.Mutex
	kinds  map[string]*memoryKind
	jobs   map[string]*Job
	dedupe map[string]memoryDedupe
	signal chan struct{}
	closed bool
}

type memoryKind struct {
	ready      []string
	processing map[string]time.Time
	delayed    map[string]time.Time
	dead       []string
}

type memoryDedupe struct {
	jobID    string
	expireAt time.Time
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		kinds:  make(map[string]*memoryKind),
		jobs:   make(map[string]*Job),
		dedupe: make(map[string]memoryDedupe),
		signal: make(chan struct{}),
	}
}

func (b *MemoryBroker) kind(kind string) *memoryKind {
	k, ok := b.kinds[kind]
	if !ok {
		k = &memoryKind{
			processing: make(map[string]time.Time),
			delayed:    make(map[string]time.Time),
		}
		b.kinds[kind] = k
	}
	return k
}

// notify 唤醒所有等待中的 Reserve，调用方需持有锁
func (b *MemoryBroker) notify() {
	close(b.signal)
	b.signal = make(chan struct{})
}

func (b *MemoryBroker) Push(ctx context.Context, job *Job, dedupeTTL time.Duration) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", false, ErrBrokerClosed
	}

	now := time.Now()
	if job.DedupeKey != "" {
		if d, ok := b.dedupe[job.DedupeKey]; ok && now.Before(d.expireAt) {
			return d.jobID, false, nil
		}
		b.dedupe[job.DedupeKey] = memoryDedupe{jobID: job.ID, expireAt: now.Add(dedupeTTL)}
	}

	b.jobs[job.ID] = job.clone()
	k := b.kind(job.Kind)
	if job.RunAt.After(now) {
		k.delayed[job.ID] = job.RunAt
	} else {
		k.ready = append(k.ready, job.ID)
	}
	b.notify()
	return job.ID, true, nil
}

// promoteLocked 调用方需持有锁
func (b *MemoryBroker) promoteLocked(k *memoryKind, now time.Time) int {
	n := 0
	for id, at := range k.delayed {
		if !at.After(now) {
			delete(k.delayed, id)
			k.ready = append(k.ready, id)
			n++
		}
	}
	return n
}

// nextDueLocked 返回最早到期的延迟任务时间
func (b *MemoryBroker) nextDueLocked(k *memoryKind) (time.Time, bool) {
	var next time.Time
	found := false
	for _, at := range k.delayed {
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

func (b *MemoryBroker) Reserve(ctx context.Context, kind string, wait, lease time.Duration) (*Job, error) {
	deadline := time.Now().Add(wait)
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBrokerClosed
		}
		now := time.Now()
		k := b.kind(kind)
		b.promoteLocked(k, now)

		for len(k.ready) > 0 {
			id := k.ready[0]
			k.ready = k.ready[1:]
			job, ok := b.jobs[id]
			if !ok {
				continue
			}
			job.Attempt++
			job.Status = StatusRunning
			k.processing[id] = now.Add(lease)
			out := job.clone()
			b.mu.Unlock()
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.mu.Unlock()
			return nil, nil
		}
		if next, ok := b.nextDueLocked(k); ok {
			if until := time.Until(next); until < remaining {
				remaining = until
			}
		}
		signal := b.signal
		b.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (b *MemoryBroker) Ack(ctx context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.kind(job.Kind).processing, job.ID)
	delete(b.jobs, job.ID)
	return nil
}

func (b *MemoryBroker) Retry(ctx context.Context, job *Job, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := b.kind(job.Kind)
	delete(k.processing, job.ID)
	stored := job.clone()
	stored.Status = StatusRetrying
	stored.RunAt = at
	b.jobs[job.ID] = stored
	k.delayed[job.ID] = at
	b.notify()
	return nil
}

func (b *MemoryBroker) DeadLetter(ctx context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := b.kind(job.Kind)
	delete(k.processing, job.ID)
	delete(k.delayed, job.ID)
	stored := job.clone()
	stored.Status = StatusDeadLettered
	b.jobs[job.ID] = stored
	k.dead = append(k.dead, job.ID)
	return nil
}

func (b *MemoryBroker) PromoteDue(ctx context.Context, kind string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.promoteLocked(b.kind(kind), now)
	if n > 0 {
		b.notify()
	}
	return n, nil
}

func (b *MemoryBroker) ReclaimExpired(ctx context.Context, kind string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := b.kind(kind)
	n := 0
	for id, expireAt := range k.processing {
		if expireAt.Before(now) {
			delete(k.processing, id)
			if job, ok := b.jobs[id]; ok {
				job.Status = StatusQueued
			}
			// 回收的任务优先处理
			k.ready = append([]string{id}, k.ready...)
			n++
		}
	}
	if n > 0 {
		b.notify()
	}
	return n, nil
}

func (b *MemoryBroker) DeadLetters(ctx context.Context, kind string, limit int) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := b.kind(kind)
	out := make([]*Job, 0, len(k.dead))
	for i := len(k.dead) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if job, ok := b.jobs[k.dead[i]]; ok {
			out = append(out, job.clone())
		}
	}
	return out, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		b.notify()
	}
	return nil
}
