package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errorc "deploymate/pkg/core/err"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsePayload struct {
	ReleaseID string `json:"releaseId"`
}

func newTestManager(t *testing.T, opts Options) (*Manager, *MemoryBroker) {
	broker := NewMemoryBroker()
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = 5 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 20 * time.Millisecond
	}
	if opts.PollWait == 0 {
		opts.PollWait = 20 * time.Millisecond
	}
	m := NewManager(broker, opts, nil)
	t.Cleanup(func() {
		m.Stop()
		_ = broker.Close()
	})
	return m, broker
}

func TestManager_SuccessAcks(t *testing.T) {
	m, broker := newTestManager(t, Options{MaxAttempts: 3})

	got := make(chan string, 1)
	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		var p parsePayload
		require.NoError(t, job.Decode(&p))
		got <- p.ReleaseID
		return nil
	}))
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, parsePayload{ReleaseID: "rel_1"})
	require.NoError(t, err)

	select {
	case id := <-got:
		assert.Equal(t, "rel_1", id)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	assert.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.jobs) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestManager_RetryThenSucceed(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxAttempts: 5})

	var calls atomic.Int32
	done := make(chan int, 1)
	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		n := calls.Add(1)
		if n < 3 {
			return errors.New("storage unavailable")
		}
		done <- job.Attempt
		return nil
	}))
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, parsePayload{ReleaseID: "rel_2"})
	require.NoError(t, err)

	select {
	case attempt := <-done:
		assert.Equal(t, 3, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not succeed after retries")
	}
}

func TestManager_DeadLetterAfterMaxAttempts(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxAttempts: 2})

	var calls atomic.Int32
	require.NoError(t, m.RegisterHandler(KindNotifications, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("smtp down")
	}))

	hooked := make(chan *Job, 1)
	m.OnDeadLetter(func(ctx context.Context, job *Job) {
		hooked <- job
	})
	require.NoError(t, m.Start())

	id, err := m.Enqueue(context.Background(), KindNotifications, map[string]string{"releaseId": "rel_3"})
	require.NoError(t, err)

	select {
	case job := <-hooked:
		assert.Equal(t, id, job.ID)
		assert.Equal(t, StatusDeadLettered, job.Status)
		assert.Equal(t, "smtp down", job.LastError)
		assert.Equal(t, "rel_3", job.Field("releaseId").String())
	case <-time.After(2 * time.Second):
		t.Fatal("job not dead-lettered")
	}
	assert.Equal(t, int32(2), calls.Load())

	dead, err := m.DeadLetters(context.Background(), KindNotifications, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
	assert.Equal(t, 2, dead[0].Attempt)
}

func TestManager_PermanentSkipsRetry(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxAttempts: 5})

	var calls atomic.Int32
	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return Permanent(errors.New("artifact missing"))
	}))
	hooked := make(chan struct{}, 1)
	m.OnDeadLetter(func(ctx context.Context, job *Job) { hooked <- struct{}{} })
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, parsePayload{ReleaseID: "rel_4"})
	require.NoError(t, err)

	select {
	case <-hooked:
	case <-time.After(time.Second):
		t.Fatal("permanent failure not dead-lettered")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_PanicIsFailure(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxAttempts: 1})

	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		panic("boom")
	}))
	hooked := make(chan *Job, 1)
	m.OnDeadLetter(func(ctx context.Context, job *Job) { hooked <- job })
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, nil)
	require.NoError(t, err)

	select {
	case job := <-hooked:
		assert.Contains(t, job.LastError, "boom")
	case <-time.After(time.Second):
		t.Fatal("panic not recovered as failure")
	}
}

func TestManager_DeferDoesNotConsumeAttempts(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxAttempts: 1})

	var calls atomic.Int32
	done := make(chan int, 1)
	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		if calls.Add(1) < 3 {
			return Defer(errors.New("lock held elsewhere"), 5*time.Millisecond)
		}
		done <- job.Attempt
		return nil
	}))
	m.OnDeadLetter(func(ctx context.Context, job *Job) {
		t.Errorf("deferred job dead-lettered: %s", job.LastError)
	})
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, parsePayload{ReleaseID: "rel_defer"})
	require.NoError(t, err)

	select {
	case attempt := <-done:
		assert.Equal(t, 1, attempt)
		assert.Equal(t, int32(3), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("deferred job never ran to completion")
	}
}

func TestManager_LastErrorWithoutLocation(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxAttempts: 1})

	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		return Permanent(errorc.New("读取安装包失败", errors.New("disk gone")).Third())
	}))
	hooked := make(chan *Job, 1)
	m.OnDeadLetter(func(ctx context.Context, job *Job) { hooked <- job })
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, nil)
	require.NoError(t, err)

	select {
	case job := <-hooked:
		assert.Equal(t, "读取安装包失败: disk gone", job.LastError)
		assert.Equal(t, errorc.ErrorCodeThird.Name, job.LastErrorCode)
		assert.NotContains(t, job.LastError, ".go:")
	case <-time.After(time.Second):
		t.Fatal("job not dead-lettered")
	}
}

func TestManager_TimeoutIsFailure(t *testing.T) {
	m, _ := newTestManager(t, Options{
		MaxAttempts: 1,
		Timeout:     func(string) time.Duration { return 10 * time.Millisecond },
	})

	require.NoError(t, m.RegisterHandler(KindBinaryParsing, func(ctx context.Context, job *Job) error {
		<-ctx.Done()
		return nil
	}))
	hooked := make(chan *Job, 1)
	m.OnDeadLetter(func(ctx context.Context, job *Job) { hooked <- job })
	require.NoError(t, m.Start())

	_, err := m.Enqueue(context.Background(), KindBinaryParsing, nil)
	require.NoError(t, err)

	select {
	case job := <-hooked:
		assert.Equal(t, ErrJobTimeout.Error(), job.LastError)
	case <-time.After(time.Second):
		t.Fatal("timeout not treated as failure")
	}
}

func TestManager_DedupeKey(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	var mu sync.Mutex
	seen := 0
	require.NoError(t, m.RegisterHandler(KindNotifications, func(ctx context.Context, job *Job) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	}))

	ctx := context.Background()
	first, err := m.Enqueue(ctx, KindNotifications, nil, WithDedupeKey("notifications:rel_5"))
	require.NoError(t, err)
	second, err := m.Enqueue(ctx, KindNotifications, nil, WithDedupeKey("notifications:rel_5"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, m.Start())
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen)
}

func TestManager_UnknownKind(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.Enqueue(context.Background(), "send-sms", nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))
	assert.True(t, errors.Is(m.RegisterHandler("send-sms", nil), ErrUnknownKind))

	require.NoError(t, m.RegisterHandler(KindNotifications, func(ctx context.Context, job *Job) error { return nil }))
	assert.True(t, errors.Is(m.RegisterHandler(KindNotifications, nil), ErrHandlerExists))
}

func TestManager_Backoff(t *testing.T) {
	m := NewManager(NewMemoryBroker(), Options{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}, nil)

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, want := range expected {
		assert.Equal(t, want, m.Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, 10*time.Second, m.Backoff(64))
}

func TestPermanent(t *testing.T) {
	cause := errors.New("not found")
	err := Permanent(cause)

	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "not found", err.Error())
	assert.False(t, IsPermanent(cause))
}
