package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options 队列运行参数
type Options struct {
	// Concurrency 每种任务类型的 worker 数
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Lease 可见性超时，不会小于任务超时
	Lease     time.Duration
	DedupeTTL time.Duration
	// PollWait 单次取任务的最长阻塞时间
	PollWait time.Duration
	// Timeout 返回任务类型的执行超时
	Timeout func(kind string) time.Duration
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.Lease <= 0 {
		o.Lease = 10 * time.Minute
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = 24 * time.Hour
	}
	if o.PollWait <= 0 {
		o.PollWait = time.Second
	}
	if o.Timeout == nil {
		o.Timeout = func(string) time.Duration { return 5 * time.Minute }
	}
}

// DeadLetterHook 任务进入死信后回调
type DeadLetterHook func(ctx context.Context, job *Job)

// Manager 任务入队与 worker 调度
type Manager struct {
	broker Broker
	opts   Options
	log    *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	hooks    []DeadLetterHook

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(broker Broker, opts Options, log *zap.Logger) *Manager {
	opts.normalize()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		broker:   broker,
		opts:     opts,
		log:      log.Named("queue"),
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue 入队任务，返回任务 id。命中去重时返回已有任务 id
func (m *Manager) Enqueue(ctx context.Context, kind string, payload interface{}, opts ...EnqueueOption) (string, error) {
	if !validKind(kind) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	o := enqueueOptions{maxAttempts: m.opts.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("序列化任务负载失败: %w", err)
	}

	now := time.Now()
	job := &Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		Payload:     body,
		MaxAttempts: o.maxAttempts,
		DedupeKey:   o.dedupeKey,
		Status:      StatusQueued,
		RunAt:       now.Add(o.delay),
		EnqueuedAt:  now,
	}

	id, pushed, err := m.broker.Push(ctx, job, m.opts.DedupeTTL)
	if err != nil {
		return "", fmt.Errorf("任务入队失败: %w", err)
	}
	if !pushed {
		m.log.Debug("任务已存在，跳过入队",
			zap.String("kind", kind),
			zap.String("dedupe_key", o.dedupeKey),
			zap.String("job_id", id),
		)
		return id, nil
	}

	m.log.Debug("任务入队", zap.String("kind", kind), zap.String("job_id", id))
	return id, nil
}

// RegisterHandler 注册任务处理函数，需在 Start 之前调用
func (m *Manager) RegisterHandler(kind string, handler Handler) error {
	if !validKind(kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if m.running.Load() {
		return ErrManagerStarted
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, kind)
	}
	m.handlers[kind] = handler
	return nil
}

// OnDeadLetter 注册死信回调
func (m *Manager) OnDeadLetter(hook DeadLetterHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Start 为每个已注册的任务类型启动 Concurrency 个 worker
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrManagerStarted
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for kind, handler := range m.handlers {
		for i := 0; i < m.opts.Concurrency; i++ {
			m.wg.Add(1)
			go m.worker(kind, handler, i)
		}
		m.log.Info("任务 worker 已启动", zap.String("kind", kind), zap.Int("concurrency", m.opts.Concurrency))
	}
	return nil
}

// Stop 停止取新任务，并等待执行中的任务结束
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.log.Info("任务队列已停止")
}

func (m *Manager) worker(kind string, handler Handler, index int) {
	defer m.wg.Done()

	for {
		if m.ctx.Err() != nil {
			return
		}

		job, err := m.broker.Reserve(m.ctx, kind, m.opts.PollWait, m.lease(kind))
		if err != nil {
			if m.ctx.Err() != nil || errors.Is(err, ErrBrokerClosed) {
				return
			}
			m.log.Warn("获取任务失败", zap.String("kind", kind), zap.Int("worker", index), zap.Error(err))
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		m.process(handler, job)
	}
}

func (m *Manager) lease(kind string) time.Duration {
	if timeout := m.opts.Timeout(kind); m.opts.Lease < timeout+time.Minute {
		return timeout + time.Minute
	}
	return m.opts.Lease
}

// Backoff 第 attempt 次失败后的重试间隔：base * 2^(attempt-1)，不超过 max
func (m *Manager) Backoff(attempt int) time.Duration {
	d := m.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.opts.MaxBackoff {
			return m.opts.MaxBackoff
		}
	}
	if d > m.opts.MaxBackoff {
		return m.opts.MaxBackoff
	}
	return d
}

// process 执行任务并根据结果确认、重试或移入死信
func (m *Manager) process(handler Handler, job *Job) {
	fields := []zap.Field{
		zap.String("kind", job.Kind),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
	}
	// 状态回写与处理函数都不使用 m.ctx，Stop 时执行中的任务可以正常结束
	bg := context.Background()

	if job.Attempt > job.MaxAttempts {
		job.LastError = ErrAttemptsExpired.Error()
		job.LastErrorCode = ""
		m.deadLetter(bg, job, fields)
		return
	}

	start := time.Now()
	err := m.invoke(handler, job)
	fields = append(fields, zap.Duration("duration", time.Since(start)))

	if err == nil {
		job.Status = StatusSucceeded
		if ackErr := m.broker.Ack(bg, job); ackErr != nil {
			m.log.Error("确认任务失败", append(fields, zap.Error(ackErr))...)
			return
		}
		m.log.Debug("任务执行成功", fields...)
		return
	}

	job.LastError = errorSummary(err)
	job.LastErrorCode = errorCode(err)
	fields = append(fields, zap.Error(err))

	if after, ok := deferredDelay(err); ok {
		// 延后执行不算一次失败，Reserve 时会重新加一
		job.Attempt--
		if retryErr := m.broker.Retry(bg, job, time.Now().Add(after)); retryErr != nil {
			m.log.Error("任务延后入队失败", append(fields, zap.NamedError("retry_error", retryErr))...)
			return
		}
		m.log.Info("任务延后执行", append(fields, zap.Duration("after", after))...)
		return
	}

	if IsPermanent(err) || job.Attempt >= job.MaxAttempts {
		m.deadLetter(bg, job, fields)
		return
	}

	delay := m.Backoff(job.Attempt)
	if retryErr := m.broker.Retry(bg, job, time.Now().Add(delay)); retryErr != nil {
		m.log.Error("任务重试入队失败", append(fields, zap.NamedError("retry_error", retryErr))...)
		return
	}
	m.log.Warn("任务执行失败，等待重试", append(fields, zap.Duration("backoff", delay))...)
}

// errorSummary 只保存错误描述，代码位置与堆栈留在日志中
func errorSummary(err error) string {
	var s interface{ Summary() string }
	if errors.As(err, &s) {
		return s.Summary()
	}
	return err.Error()
}

// errorCode 错误链中最外层带错误码的错误的码名
func errorCode(err error) string {
	var c interface{ ErrCode() string }
	if errors.As(err, &c) {
		return c.ErrCode()
	}
	return ""
}

func (m *Manager) invoke(handler Handler, job *Job) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout(job.Kind))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("任务处理 panic",
				zap.String("kind", job.Kind),
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("任务处理 panic: %v", r)
		}
	}()

	err = handler(ctx, job)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ErrJobTimeout
	}
	return err
}

func (m *Manager) deadLetter(ctx context.Context, job *Job, fields []zap.Field) {
	if err := m.broker.DeadLetter(ctx, job); err != nil {
		m.log.Error("任务移入死信失败", append(fields, zap.NamedError("dead_letter_error", err))...)
		return
	}
	job.Status = StatusDeadLettered
	m.log.Error("任务进入死信", fields...)

	m.mu.RLock()
	hooks := append([]DeadLetterHook(nil), m.hooks...)
	m.mu.RUnlock()
	for _, hook := range hooks {
		m.runHook(ctx, hook, job)
	}
}

func (m *Manager) runHook(ctx context.Context, hook DeadLetterHook, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("死信回调 panic", zap.String("job_id", job.ID), zap.Any("panic", r))
		}
	}()
	hook(ctx, job)
}

// PromoteDue 提升所有已注册任务类型的到期重试任务
func (m *Manager) PromoteDue(ctx context.Context) error {
	var errs []error
	for _, kind := range Kinds {
		n, err := m.broker.PromoteDue(ctx, kind, time.Now())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if n > 0 {
			m.log.Debug("提升到期任务", zap.String("kind", kind), zap.Int("count", n))
		}
	}
	return errors.Join(errs...)
}

// ReclaimExpired 回收租约过期的任务，保证 worker 崩溃后任务至少再执行一次
func (m *Manager) ReclaimExpired(ctx context.Context) error {
	var errs []error
	for _, kind := range Kinds {
		n, err := m.broker.ReclaimExpired(ctx, kind, time.Now())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if n > 0 {
			m.log.Warn("回收租约过期的任务", zap.String("kind", kind), zap.Int("count", n))
		}
	}
	return errors.Join(errs...)
}

// DeadLetters 列出指定类型的死信任务
func (m *Manager) DeadLetters(ctx context.Context, kind string, limit int) ([]*Job, error) {
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return m.broker.DeadLetters(ctx, kind, limit)
}
