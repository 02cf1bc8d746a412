package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLockManager 进程内锁，单实例部署与测试使用
type LocalLockManager struct {
	mu      sync.Mutex
	holders map[string]localHolder
}

type localHolder struct {
	owner    string
	expireAt time.Time
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{holders: make(map[string]localHolder)}
}

func (m *LocalLockManager) NewLock(key string, opts *LockOptions) DistributedLock {
	return &localLock{
		manager: m,
		key:     key,
		owner:   uuid.New().String(),
		opts:    opts.normalize(),
	}
}

func (m *LocalLockManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holders = make(map[string]localHolder)
	return nil
}

func (m *LocalLockManager) acquire(key, owner string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if h, ok := m.holders[key]; ok && h.owner != owner && now.Before(h.expireAt) {
		return false
	}
	m.holders[key] = localHolder{owner: owner, expireAt: now.Add(ttl)}
	return true
}

func (m *LocalLockManager) release(key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holders[key]
	if !ok || h.owner != owner {
		return false
	}
	delete(m.holders, key)
	return true
}

func (m *LocalLockManager) heldBy(key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holders[key]
	return ok && h.owner == owner && time.Now().Before(h.expireAt)
}

type localLock struct {
	manager *LocalLockManager
	key     string
	owner   string
	opts    *LockOptions
}

func (l *localLock) Lock(ctx context.Context) error {
	for i := 0; ; i++ {
		if l.manager.acquire(l.key, l.owner, l.opts.TTL) {
			return nil
		}
		if i >= l.opts.MaxRetries {
			return ErrNotObtained
		}
		select {
		case <-ctx.Done():
			return NewLockError(ErrCodeLockTimeout, "等待锁超时", ctx.Err())
		case <-time.After(l.opts.RetryInterval):
		}
	}
}

func (l *localLock) TryLock(ctx context.Context) (bool, error) {
	return l.manager.acquire(l.key, l.owner, l.opts.TTL), nil
}

func (l *localLock) Unlock(ctx context.Context) error {
	if !l.manager.release(l.key, l.owner) {
		return NewLockError(ErrCodeLockNotHeld, "锁未被持有", nil)
	}
	return nil
}

func (l *localLock) IsLocked() bool {
	return l.manager.heldBy(l.key, l.owner)
}

func (l *localLock) GetLockKey() string {
	return l.key
}
