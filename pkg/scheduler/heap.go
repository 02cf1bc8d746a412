package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// taskSlice 按下次执行时间排序的最小堆
type taskSlice []Task

func (s taskSlice) Len() int           { return len(s) }
func (s taskSlice) Less(i, j int) bool { return s[i].GetNextTime().Before(s[j].GetNextTime()) }
func (s taskSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func (s *taskSlice) Push(x interface{}) { *s = append(*s, x.(Task)) }

func (s *taskSlice) Pop() interface{} {
	old := *s
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return t
}

// taskQueue 调度器的待执行任务队列，并发安全
type taskQueue struct {
	mu    sync.Mutex
	tasks taskSlice
}

func (q *taskQueue) push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.tasks, t)
}

func (q *taskQueue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.GetID() == id {
			heap.Remove(&q.tasks, i)
			return true
		}
	}
	return false
}

func (q *taskQueue) list() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Task(nil), q.tasks...)
}

// nextAt 最早的执行时间，队列为空时返回 false
func (q *taskQueue) nextAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return time.Time{}, false
	}
	return q.tasks[0].GetNextTime(), true
}

// popDue 取出所有已到期且处于等待状态的任务
func (q *taskQueue) popDue(now time.Time) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Task
	for len(q.tasks) > 0 && q.tasks[0].CanExecute(now) {
		due = append(due, heap.Pop(&q.tasks).(Task))
	}
	return due
}
