package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/apache/rocketmq-client-go/v2/rlog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// delayLevels RocketMQ 默认的延迟级别，下标 i 对应级别 i+1
var delayLevels = []time.Duration{
	time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
	time.Minute, 2 * time.Minute, 3 * time.Minute, 4 * time.Minute, 5 * time.Minute,
	6 * time.Minute, 7 * time.Minute, 8 * time.Minute, 9 * time.Minute, 10 * time.Minute,
	20 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour,
}

// levelFor 不早于 d 的最小延迟级别，d <= 0 返回 0（立即投递），超过上限取最大级别
func levelFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	for i, l := range delayLevels {
		if l >= d {
			return i + 1
		}
	}
	return len(delayLevels)
}

// RocketMQOptions RocketMQ broker 配置
type RocketMQOptions struct {
	NameServer   []string
	GroupPrefix  string
	TopicPrefix  string
	AccessKey    string
	AccessSecret string
	Env          string
	// Prefix redis 中去重、消费标记与死信的 key 前缀
	Prefix string
	// Lease 同一条消息重复投递时的互斥时间，超时后允许再次消费
	Lease time.Duration
	Retry int
}

// messageSender 生产者的发送能力
type messageSender interface {
	SendSync(ctx context.Context, msg ...*primitive.Message) (*primitive.SendResult, error)
}

// RocketMQBroker 通过 RocketMQ 投递任务。每种任务类型一个 topic，延迟重试使用延迟级别，
// 消费回调阻塞到 Ack / Retry / DeadLetter 后才向 broker 确认，worker 崩溃时由 RocketMQ 重新投递。
// 去重 key、消息消费标记与死信列表保存在 redis
type RocketMQBroker struct {
	opts     RocketMQOptions
	rdb      redis.UniversalClient
	sender   messageSender
	shutdown func() error
	log      *zap.Logger

	mu         sync.Mutex
	consumers  map[string]rocketmq.PushConsumer
	started    map[string]bool
	deliveries map[string]chan *delivery
	inflight   map[string]*delivery
	closed     chan struct{}
	closeOnce  sync.Once
}

// delivery 一条正在被 worker 处理的消息
type delivery struct {
	job    *Job
	msgID  string
	result chan consumer.ConsumeResult
}

// NewRocketMQBroker 启动生产者，消费者在第一次 Reserve 对应任务类型时启动
func NewRocketMQBroker(opts RocketMQOptions, rdb redis.UniversalClient, log *zap.Logger) (*RocketMQBroker, error) {
	rlog.SetLogLevel("error")

	options := []producer.Option{
		producer.WithNameServer(opts.NameServer),
		producer.WithGroupName(opts.GroupPrefix + "_producer_" + opts.Env),
		producer.WithRetry(opts.retry()),
	}
	if opts.AccessKey != "" {
		options = append(options, producer.WithCredentials(primitive.Credentials{
			AccessKey: opts.AccessKey,
			SecretKey: opts.AccessSecret,
		}))
	}
	p, err := rocketmq.NewProducer(options...)
	if err != nil {
		return nil, fmt.Errorf("创建Producer失败: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("启动Producer失败: %w", err)
	}
	log.Info("rocketmq生产者启动成功", zap.Strings("name_server", opts.NameServer))

	b := newRocketMQBroker(opts, rdb, p, log)
	b.shutdown = p.Shutdown
	return b, nil
}

func newRocketMQBroker(opts RocketMQOptions, rdb redis.UniversalClient, sender messageSender, log *zap.Logger) *RocketMQBroker {
	if opts.Prefix == "" {
		opts.Prefix = "deploymate:queue"
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "deploymate"
	}
	if opts.GroupPrefix == "" {
		opts.GroupPrefix = "GID_DEPLOYMATE"
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RocketMQBroker{
		opts:       opts,
		rdb:        rdb,
		sender:     sender,
		log:        log,
		consumers:  make(map[string]rocketmq.PushConsumer),
		started:    make(map[string]bool),
		deliveries: make(map[string]chan *delivery),
		inflight:   make(map[string]*delivery),
		closed:     make(chan struct{}),
	}
}

func (o RocketMQOptions) retry() int {
	if o.Retry <= 0 {
		return 3
	}
	return o.Retry
}

func (b *RocketMQBroker) topic(kind string) string {
	return b.opts.TopicPrefix + "_" + kind
}

// tag 消息 tag 带环境前缀，多个环境共用集群时互不消费
func (b *RocketMQBroker) tag() string {
	if b.opts.Env == "" {
		return "job"
	}
	return b.opts.Env + "_job"
}

func (b *RocketMQBroker) key(kind, name string) string {
	return fmt.Sprintf("%s:%s:%s", b.opts.Prefix, kind, name)
}

func (b *RocketMQBroker) dedupeKey(key string) string {
	return b.opts.Prefix + ":dedupe:" + key
}

func (b *RocketMQBroker) consumeKey(kind, msgID string) string {
	return b.key(kind, "consumed:"+msgID)
}

func (b *RocketMQBroker) send(ctx context.Context, job *Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	msg := primitive.NewMessage(b.topic(job.Kind), body)
	msg.WithTag(b.tag())
	msg.WithKeys([]string{job.ID})
	if level := levelFor(time.Until(job.RunAt)); level > 0 {
		msg.WithDelayTimeLevel(level)
	}
	res, err := b.sender.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("发送任务消息失败: %w", err)
	}
	if res != nil && res.Status != primitive.SendOK {
		return fmt.Errorf("发送任务消息失败: status=%d", res.Status)
	}
	return nil
}

func (b *RocketMQBroker) Push(ctx context.Context, job *Job, dedupeTTL time.Duration) (string, bool, error) {
	if b.isClosed() {
		return "", false, ErrBrokerClosed
	}
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

	if err := b.send(ctx, job); err != nil {
		if job.DedupeKey != "" {
			b.rdb.Del(context.WithoutCancel(ctx), b.dedupeKey(job.DedupeKey))
		}
		return "", false, err
	}
	return job.ID, true, nil
}

func (b *RocketMQBroker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// channel 任务类型对应的投递通道
func (b *RocketMQBroker) channel(kind string) chan *delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.deliveries[kind]
	if !ok {
		ch = make(chan *delivery)
		b.deliveries[kind] = ch
	}
	return ch
}

// ensureConsumer 每种任务类型只启动一个 push 消费者
func (b *RocketMQBroker) ensureConsumer(kind string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started[kind] {
		return nil
	}

	options := []consumer.Option{
		consumer.WithNameServer(b.opts.NameServer),
		consumer.WithGroupName(b.opts.GroupPrefix + "_" + kind + "_" + b.opts.Env),
		consumer.WithConsumerModel(consumer.Clustering),
		consumer.WithConsumeMessageBatchMaxSize(1),
		consumer.WithRetry(b.opts.retry()),
	}
	if b.opts.AccessKey != "" {
		options = append(options, consumer.WithCredentials(primitive.Credentials{
			AccessKey: b.opts.AccessKey,
			SecretKey: b.opts.AccessSecret,
		}))
	}
	c, err := rocketmq.NewPushConsumer(options...)
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", kind, err)
	}
	selector := consumer.MessageSelector{Type: consumer.TAG, Expression: b.tag()}
	if err := c.Subscribe(b.topic(kind), selector, b.onMessages(kind)); err != nil {
		return fmt.Errorf("订阅主题 %s 失败: %w", b.topic(kind), err)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("启动消费者 %s 失败: %w", kind, err)
	}

	b.consumers[kind] = c
	b.started[kind] = true
	b.log.Debug("启动消费者成功", zap.String("kind", kind))
	return nil
}

// onMessages 消费回调，把消息交给 Reserve 并等待处理结果
func (b *RocketMQBroker) onMessages(kind string) func(context.Context, ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	return func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, msg := range msgs {
			if result := b.consume(ctx, kind, msg); result != consumer.ConsumeSuccess {
				return result, nil
			}
		}
		return consumer.ConsumeSuccess, nil
	}
}

func (b *RocketMQBroker) consume(ctx context.Context, kind string, msg *primitive.MessageExt) consumer.ConsumeResult {
	job, err := decodeJob(msg.Body, kind)
	if err != nil {
		b.log.Error("消费者解析消息失败，丢弃", zap.String("msgId", msg.MsgId), zap.Error(err))
		return consumer.ConsumeSuccess
	}

	// 同一条消息在处理期间被重复投递时跳过，租约过期后允许再次消费
	lockKey := b.consumeKey(kind, msg.MsgId)
	locked, err := b.rdb.SetNX(ctx, lockKey, job.ID, b.opts.Lease).Result()
	if err != nil {
		b.log.Error("幂等性检查失败: Redis SETNX 错误", zap.String("msgId", msg.MsgId), zap.Error(err))
		return consumer.ConsumeRetryLater
	}
	if !locked {
		b.log.Debug("消息已被其他消费者锁定或已处理，跳过", zap.String("msgId", msg.MsgId))
		return consumer.ConsumeSuccess
	}

	d := &delivery{job: job, msgID: msg.MsgId, result: make(chan consumer.ConsumeResult, 1)}
	select {
	case b.channel(kind) <- d:
	case <-b.closed:
		b.rdb.Del(context.WithoutCancel(ctx), lockKey)
		return consumer.ConsumeRetryLater
	}

	select {
	case result := <-d.result:
		if result == consumer.ConsumeRetryLater {
			if err := b.rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
				b.log.Error("消费重试前，删除 Redis 锁失败", zap.String("key", lockKey), zap.Error(err))
			}
		}
		return result
	case <-b.closed:
		b.rdb.Del(context.WithoutCancel(ctx), lockKey)
		return consumer.ConsumeRetryLater
	}
}

// Reserve 等待消费回调交来的消息。lease 由 RocketMQ 的消费超时与 redis 消费标记承担
func (b *RocketMQBroker) Reserve(ctx context.Context, kind string, wait, lease time.Duration) (*Job, error) {
	if b.isClosed() {
		return nil, ErrBrokerClosed
	}
	if err := b.ensureConsumer(kind); err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case d := <-b.channel(kind):
		d.job.Attempt++
		d.job.Status = StatusRunning
		b.mu.Lock()
		b.inflight[d.job.ID] = d
		b.mu.Unlock()
		return d.job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed:
		return nil, ErrBrokerClosed
	}
}

// finish 结束一条处理中的消息，返回是否找到
func (b *RocketMQBroker) finish(jobID string, result consumer.ConsumeResult) bool {
	b.mu.Lock()
	d, ok := b.inflight[jobID]
	delete(b.inflight, jobID)
	b.mu.Unlock()
	if !ok {
		return false
	}
	d.result <- result
	return true
}

func (b *RocketMQBroker) Ack(ctx context.Context, job *Job) error {
	if !b.finish(job.ID, consumer.ConsumeSuccess) {
		return fmt.Errorf("任务 %s 不在处理中", job.ID)
	}
	return nil
}

// Retry 以延迟消息重新投递最新的任务内容，再确认原消息
func (b *RocketMQBroker) Retry(ctx context.Context, job *Job, at time.Time) error {
	job.Status = StatusRetrying
	job.RunAt = at
	if err := b.send(ctx, job); err != nil {
		// 原消息交还 RocketMQ 重新投递
		b.finish(job.ID, consumer.ConsumeRetryLater)
		return err
	}
	b.finish(job.ID, consumer.ConsumeSuccess)
	return nil
}

func (b *RocketMQBroker) DeadLetter(ctx context.Context, job *Job) error {
	job.Status = StatusDeadLettered
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := b.rdb.LPush(ctx, b.key(job.Kind, "dead"), body).Err(); err != nil {
		b.finish(job.ID, consumer.ConsumeRetryLater)
		return err
	}
	b.finish(job.ID, consumer.ConsumeSuccess)
	return nil
}

// PromoteDue 延迟消息到期由 RocketMQ 投递
func (b *RocketMQBroker) PromoteDue(ctx context.Context, kind string, now time.Time) (int, error) {
	return 0, nil
}

// ReclaimExpired 未确认的消息由 RocketMQ 在消费超时后重新投递
func (b *RocketMQBroker) ReclaimExpired(ctx context.Context, kind string, now time.Time) (int, error) {
	return 0, nil
}

func (b *RocketMQBroker) DeadLetters(ctx context.Context, kind string, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	values, err := b.rdb.LRange(ctx, b.key(kind, "dead"), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(values))
	for _, v := range values {
		job, err := decodeJob([]byte(v), kind)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Close 停止消费者与生产者，处理中的消息交还 RocketMQ
func (b *RocketMQBroker) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		consumers := b.consumers
		b.consumers = make(map[string]rocketmq.PushConsumer)
		b.mu.Unlock()
		for kind, c := range consumers {
			if err := c.Shutdown(); err != nil {
				errs = append(errs, fmt.Errorf("关闭消费者 %s 失败: %w", kind, err))
			}
		}
		if b.shutdown != nil {
			if err := b.shutdown(); err != nil {
				errs = append(errs, fmt.Errorf("关闭Producer失败: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
