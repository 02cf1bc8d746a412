package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TaskStatus 任务状态
type TaskStatus int

const (
	TaskStatusWaiting TaskStatus = iota
	TaskStatusRunning
	TaskStatusFailed
	// TaskStatusCanceled 已取消，不再调度
	TaskStatusCanceled
)

// TaskExecuteMode 任务执行模式
type TaskExecuteMode int

const (
	// TaskExecuteModeDistributed 只在持有 leader 锁的节点执行，如队列维护
	TaskExecuteModeDistributed TaskExecuteMode = iota
	// TaskExecuteModeLocal 每个节点都执行
	TaskExecuteModeLocal
)

type TaskFunc func(ctx context.Context) error

// Task 可被调度器执行的任务
type Task interface {
	GetID() string
	GetName() string
	GetExecuteMode() TaskExecuteMode
	GetNextTime() time.Time
	GetTimeout() time.Duration
	Execute(ctx context.Context) error
	// UpdateNextTime 根据本次结束时间计算下次执行时间
	UpdateNextTime(currentTime time.Time) time.Time
	CanExecute(currentTime time.Time) bool
	IsCompleted() bool
	SetStatus(status TaskStatus)
}

// BaseTask 任务公共字段，间隔任务与 cron 任务只负责计算下次时间
type BaseTask struct {
	ID          string
	Name        string
	ExecuteMode TaskExecuteMode
	NextTime    time.Time
	Timeout     time.Duration
	Func        TaskFunc

	mu     sync.Mutex
	status TaskStatus
}

func newBaseTask(name string, mode TaskExecuteMode, next time.Time, timeout time.Duration, fn TaskFunc) *BaseTask {
	return &BaseTask{
		ID:          uuid.New().String(),
		Name:        name,
		ExecuteMode: mode,
		NextTime:    next,
		Timeout:     timeout,
		Func:        fn,
	}
}

func (t *BaseTask) GetID() string                   { return t.ID }
func (t *BaseTask) GetName() string                 { return t.Name }
func (t *BaseTask) GetExecuteMode() TaskExecuteMode { return t.ExecuteMode }
func (t *BaseTask) GetNextTime() time.Time          { return t.NextTime }

// GetTimeout 未设置时默认 30 秒
func (t *BaseTask) GetTimeout() time.Duration {
	if t.Timeout <= 0 {
		return 30 * time.Second
	}
	return t.Timeout
}

func (t *BaseTask) Execute(ctx context.Context) error {
	if t.Func == nil {
		return nil
	}

	t.SetStatus(TaskStatusRunning)
	if err := t.Func(ctx); err != nil {
		t.SetStatus(TaskStatusFailed)
		return err
	}
	t.SetStatus(TaskStatusWaiting)
	return nil
}

func (t *BaseTask) CanExecute(currentTime time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == TaskStatusWaiting && !currentTime.Before(t.NextTime)
}

func (t *BaseTask) IsCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == TaskStatusCanceled
}

// Cancel 取消任务，正在执行的这一次不受影响
func (t *BaseTask) Cancel() {
	t.SetStatus(TaskStatusCanceled)
}

func (t *BaseTask) SetStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == TaskStatusCanceled {
		return
	}
	t.status = status
}

// IntervalTask 固定间隔任务，间隔从上一次结束开始计算
type IntervalTask struct {
	*BaseTask
	Interval time.Duration
}

func NewIntervalTask(name string, startTime time.Time, interval time.Duration, executeMode TaskExecuteMode, timeout time.Duration, fn TaskFunc) *IntervalTask {
	return &IntervalTask{
		BaseTask: newBaseTask(name, executeMode, startTime, timeout, fn),
		Interval: interval,
	}
}

func (t *IntervalTask) UpdateNextTime(currentTime time.Time) time.Time {
	t.NextTime = currentTime.Add(t.Interval)
	return t.NextTime
}

// CronTask 秒级 cron 表达式任务，如 "0 */10 * * * *"
type CronTask struct {
	*BaseTask
	CronExpr string
	schedule cron.Schedule
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func NewCronTask(name string, cronExpr string, executeMode TaskExecuteMode, timeout time.Duration, fn TaskFunc) (*CronTask, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	return &CronTask{
		BaseTask: newBaseTask(name, executeMode, schedule.Next(time.Now()), timeout, fn),
		CronExpr: cronExpr,
		schedule: schedule,
	}, nil
}

func (t *CronTask) UpdateNextTime(currentTime time.Time) time.Time {
	t.NextTime = t.schedule.Next(currentTime)
	return t.NextTime
}
