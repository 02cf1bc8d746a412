package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deploymate/pkg/core/logger"
	"deploymate/pkg/lock"
)

// Scheduler 后台任务调度器，分布式任务只在持有 leader 锁的节点执行
type Scheduler struct {
	nodeID        string
	checkInterval time.Duration

	isRunning atomic.Bool
	isLeader  atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	tasks      *taskQueue
	leaderLock lock.DistributedLock

	workerSemaphore chan struct{}

	timer   *time.Timer
	timerMu sync.Mutex

	log *logger.Log

	completed atomic.Int64
	failed    atomic.Int64
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	NodeID        string
	LockKey       string
	LockTTL       time.Duration
	CheckInterval time.Duration
	MaxWorkers    int
}

// DefaultSchedulerConfig 默认调度器配置
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		NodeID:        fmt.Sprintf("scheduler-%d", time.Now().UnixNano()),
		LockKey:       "deploymate/scheduler/leader",
		LockTTL:       30 * time.Second,
		CheckInterval: 5 * time.Second,
		MaxWorkers:    4,
	}
}

// NewScheduler 创建新的调度器
func NewScheduler(lockManager lock.LockManager, config *SchedulerConfig, log *logger.Log) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		nodeID:          config.NodeID,
		checkInterval:   config.CheckInterval,
		ctx:             ctx,
		cancel:          cancel,
		tasks:           &taskQueue{},
		leaderLock:      lockManager.NewLock(config.LockKey, &lock.LockOptions{TTL: config.LockTTL}),
		workerSemaphore: make(chan struct{}, config.MaxWorkers),
		log:             log.WithEntryName("Scheduler"),
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("调度器已经在运行")
	}
	s.log.Infof("启动调度器，节点ID: %s", s.nodeID)

	// 启动时先竞选一次，避免首个周期的分布式任务被跳过
	s.tryBecomeLeader()

	s.wg.Add(1)
	go s.mainLoop()

	s.resetTimer()
	return nil
}

// Stop 停止调度器并等待执行中的任务结束
func (s *Scheduler) Stop() error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	s.log.Info("停止调度器")
	s.cancel()
	s.stopTimer()

	if s.leaderLock.IsLocked() {
		if err := s.leaderLock.Unlock(context.Background()); err != nil {
			s.log.WithErr(err).Error("释放分布式锁失败")
		}
	}

	s.wg.Wait()
	s.log.Info("调度器已停止")
	return nil
}

// AddTask 添加任务，可在 Start 之前调用
func (s *Scheduler) AddTask(task Task) error {
	if task == nil {
		return fmt.Errorf("任务不能为空")
	}

	s.tasks.push(task)
	s.log.Infof("添加任务: %s [%s]", task.GetName(), task.GetID())
	if s.isRunning.Load() {
		s.resetTimer()
	}
	return nil
}

// RemoveTask 移除任务
func (s *Scheduler) RemoveTask(taskID string) bool {
	removed := s.tasks.remove(taskID)
	if removed {
		s.resetTimer()
	}
	return removed
}

func (s *Scheduler) ListTasks() []Task {
	return s.tasks.list()
}

func (s *Scheduler) IsLeader() bool {
	return s.isLeader.Load()
}

// Stats 返回已完成与失败的执行次数
func (s *Scheduler) Stats() (completed, failed int64) {
	return s.completed.Load(), s.failed.Load()
}

func (s *Scheduler) mainLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tryBecomeLeader()
		}
	}
}

// tryBecomeLeader 获取或续期 leader 锁
func (s *Scheduler) tryBecomeLeader() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	locked, err := s.leaderLock.TryLock(ctx)
	if err != nil {
		s.log.WithErr(err).Error("尝试获取分布式锁失败")
		s.becomeFollower()
		return
	}

	if locked {
		if !s.isLeader.Swap(true) {
			s.log.Info("成为领导者")
			s.resetTimer()
		}
		return
	}
	s.becomeFollower()
}

func (s *Scheduler) becomeFollower() {
	if s.isLeader.Swap(false) {
		s.log.Info("失去领导者身份")
	}
}

func (s *Scheduler) resetTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}

	nextTime, ok := s.tasks.nextAt()
	if !ok {
		return
	}

	waitDuration := time.Until(nextTime)
	if waitDuration < 0 {
		waitDuration = 0
	}
	s.timer = time.AfterFunc(waitDuration, s.onTimerFired)
}

func (s *Scheduler) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) onTimerFired() {
	if !s.isRunning.Load() {
		return
	}

	readyTasks := s.tasks.popDue(time.Now())
	if len(readyTasks) == 0 {
		s.resetTimer()
		return
	}

	for _, task := range readyTasks {
		s.executeTask(task)
	}
	// 任务执行完成后由 runTask 重新入堆并重置定时器
}

// reschedule 计算下次执行时间并放回堆
func (s *Scheduler) reschedule(task Task, from time.Time) {
	if task.IsCompleted() {
		s.resetTimer()
		return
	}
	if next := task.UpdateNextTime(from); !next.IsZero() {
		task.SetStatus(TaskStatusWaiting)
		s.tasks.push(task)
	}
	s.resetTimer()
}

func (s *Scheduler) executeTask(task Task) {
	if task.GetExecuteMode() == TaskExecuteModeDistributed && !s.isLeader.Load() {
		s.reschedule(task, time.Now())
		return
	}

	select {
	case s.workerSemaphore <- struct{}{}:
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			defer func() { <-s.workerSemaphore }()
			s.runTask(t)
		}(task)
	default:
		s.log.Warnf("工作者池已满，任务重新调度: %s", task.GetID())
		s.reschedule(task, time.Now().Add(time.Second))
	}
}

func (s *Scheduler) runTask(task Task) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(s.ctx, task.GetTimeout())
	defer cancel()

	err := task.Execute(ctx)
	duration := time.Since(start)

	if err != nil {
		s.log.WithErr(err).Errorf("任务执行失败: %s [%s], 耗时: %v", task.GetName(), task.GetID(), duration)
		s.failed.Add(1)
	} else {
		s.log.Debugf("任务执行成功: %s [%s], 耗时: %v", task.GetName(), task.GetID(), duration)
		s.completed.Add(1)
	}

	if s.isRunning.Load() {
		s.reschedule(task, time.Now())
	}
}
