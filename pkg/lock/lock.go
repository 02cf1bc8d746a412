package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// Lock 获取锁，按 LockOptions 重试，重试耗尽返回 ErrNotObtained
	Lock(ctx context.Context) error

	// TryLock 尝试获取锁，不阻塞；已持有时续期
	TryLock(ctx context.Context) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context) error

	// IsLocked 检查锁是否被当前实例持有
	IsLocked() bool

	// GetLockKey 获取锁的键
	GetLockKey() string
}

// LockOptions 锁配置选项
type LockOptions struct {
	// TTL 锁的生存时间
	TTL time.Duration

	// RetryInterval 重试间隔
	RetryInterval time.Duration

	// MaxRetries 最大重试次数，0 表示不重试
	MaxRetries int
}

// DefaultLockOptions 默认锁配置
func DefaultLockOptions() *LockOptions {
	return &LockOptions{
		TTL:           30 * time.Second,
		RetryInterval: 100 * time.Millisecond,
		MaxRetries:    0,
	}
}

func (o *LockOptions) normalize() *LockOptions {
	if o == nil {
		return DefaultLockOptions()
	}
	opts := *o
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	return &opts
}

// LockManager 锁管理器接口
type LockManager interface {
	// NewLock 创建新的分布式锁
	NewLock(key string, opts *LockOptions) DistributedLock

	// Close 关闭锁管理器
	Close() error
}

// ErrNotObtained 锁被其他持有者占用
var ErrNotObtained = errors.New("lock not obtained")

// LockError 锁相关错误
type LockError struct {
	Code    string
	Message string
	Cause   error
}

func (e *LockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("锁错误 [%s]: %s, 原因: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("锁错误 [%s]: %s", e.Code, e.Message)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// 预定义错误代码
const (
	ErrCodeLockTimeout = "LOCK_TIMEOUT"
	ErrCodeLockNotHeld = "LOCK_NOT_HELD"
	ErrCodeBackend     = "LOCK_BACKEND"
)

// NewLockError 创建锁错误
func NewLockError(code, message string, cause error) *LockError {
	return &LockError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
