package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBroker(rdb, "test:queue"), mr, rdb
}

// failPipelines 让接下来 n 次事务管道返回连接错误
type failPipelines struct {
	remaining atomic.Int32
}

func (h *failPipelines) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *failPipelines) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h *failPipelines) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if h.remaining.Add(-1) >= 0 {
			return errors.New("connection reset")
		}
		return next(ctx, cmds)
	}
}

func TestRedisBroker_FIFO(t *testing.T) {
	b, mr, _ := newRedisBroker(t)
	ctx := context.Background()
	pushJob(t, b, "a")
	pushJob(t, b, "b")

	first, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, StatusRunning, first.Status)

	// 取出与租约写入同时生效
	members, err := mr.ZMembers("test:queue:binary-parsing:lease")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)

	second, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)

	none, err := b.Reserve(ctx, KindBinaryParsing, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRedisBroker_ReserveWaitsForPush(t *testing.T) {
	b, _, _ := newRedisBroker(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		pushJob(t, b, "late")
	}()

	job, err := b.Reserve(context.Background(), KindBinaryParsing, 2*time.Second, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "late", job.ID)
}

func TestRedisBroker_ReserveHonorsContext(t *testing.T) {
	b, _, _ := newRedisBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	job, err := b.Reserve(ctx, KindBinaryParsing, time.Minute, time.Minute)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisBroker_Dedupe(t *testing.T) {
	b, _, _ := newRedisBroker(t)
	ctx := context.Background()

	id, pushed, err := b.Push(ctx, &Job{ID: "n1", Kind: KindNotifications, DedupeKey: "notifications:rel_1"}, time.Hour)
	require.NoError(t, err)
	assert.True(t, pushed)
	assert.Equal(t, "n1", id)

	id, pushed, err = b.Push(ctx, &Job{ID: "n2", Kind: KindNotifications, DedupeKey: "notifications:rel_1"}, time.Hour)
	require.NoError(t, err)
	assert.False(t, pushed)
	assert.Equal(t, "n1", id)

	job, err := b.Reserve(ctx, KindNotifications, 0, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	none, err := b.Reserve(ctx, KindNotifications, 0, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRedisBroker_AckRemovesJob(t *testing.T) {
	b, mr, _ := newRedisBroker(t)
	ctx := context.Background()
	pushJob(t, b, "done")

	job, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, job))

	assert.False(t, mr.Exists("test:queue:job:done"))
	n, err := b.ReclaimExpired(ctx, KindBinaryParsing, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisBroker_RetryThenPromote(t *testing.T) {
	b, _, _ := newRedisBroker(t)
	ctx := context.Background()
	pushJob(t, b, "retry")

	job, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	at := time.Now().Add(time.Minute)
	require.NoError(t, b.Retry(ctx, job, at))

	none, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)

	n, err := b.PromoteDue(ctx, KindBinaryParsing, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = b.PromoteDue(ctx, KindBinaryParsing, at.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "retry", again.ID)
	assert.Equal(t, 2, again.Attempt)
}

func TestRedisBroker_ReclaimExpiredLease(t *testing.T) {
	b, _, _ := newRedisBroker(t)
	ctx := context.Background()
	pushJob(t, b, "crash")

	_, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)

	n, err := b.ReclaimExpired(ctx, KindBinaryParsing, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = b.ReclaimExpired(ctx, KindBinaryParsing, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "crash", again.ID)
	assert.Equal(t, 2, again.Attempt)
}

func TestRedisBroker_ReserveWriteFailureKeepsLease(t *testing.T) {
	b, mr, rdb := newRedisBroker(t)
	ctx := context.Background()
	pushJob(t, b, "flaky")

	hook := &failPipelines{}
	hook.remaining.Store(1)
	rdb.AddHook(hook)

	job, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.Error(t, err)
	assert.Nil(t, job)

	// 任务仍有租约，到期后被回收而不是永远滞留在处理中
	members, err := mr.ZMembers("test:queue:binary-parsing:lease")
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky"}, members)

	n, err := b.ReclaimExpired(ctx, KindBinaryParsing, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "flaky", again.ID)
}

func TestRedisBroker_DanglingIDDropped(t *testing.T) {
	b, mr, _ := newRedisBroker(t)
	ctx := context.Background()
	pushJob(t, b, "ghost")
	mr.Del("test:queue:job:ghost")

	job, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	processing, err := mr.List("test:queue:binary-parsing:processing")
	if err == nil {
		assert.Empty(t, processing)
	}
	assert.False(t, mr.Exists("test:queue:binary-parsing:lease"))
}

func TestRedisBroker_DeadLetters(t *testing.T) {
	b, _, _ := newRedisBroker(t)
	ctx := context.Background()
	pushJob(t, b, "d1")
	pushJob(t, b, "d2")

	for i := 0; i < 2; i++ {
		job, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
		require.NoError(t, err)
		job.LastError = "安装包元数据提取失败"
		require.NoError(t, b.DeadLetter(ctx, job))
	}

	jobs, err := b.DeadLetters(ctx, KindBinaryParsing, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "d2", jobs[0].ID)
	assert.Equal(t, StatusDeadLettered, jobs[0].Status)
	assert.Equal(t, "安装包元数据提取失败", jobs[0].LastError)

	limited, err := b.DeadLetters(ctx, KindBinaryParsing, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := b.Reserve(ctx, KindBinaryParsing, 0, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRedisBroker_WithManager(t *testing.T) {
	b, _, _ := newRedisBroker(t)
	m := NewManager(b, Options{MaxAttempts: 2, PollWait: 20 * time.Millisecond}, nil)
	t.Cleanup(m.Stop)

	got := make(chan string, 1)
	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		var p parsePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		got <- p.ReleaseID
		return nil
	}))
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, parsePayload{ReleaseID: "rel_redis"})
	require.NoError(t, err)

	select {
	case id := <-got:
		assert.Equal(t, "rel_redis", id)
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}
}
