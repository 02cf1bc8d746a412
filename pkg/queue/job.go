package queue

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// 任务类型是固定的，队列不接受其他类型
const (
	KindBinaryParsing = "binary-parsing"
	KindNotifications = "notifications"
)

// Kinds 所有合法的任务类型
var Kinds = []string{KindBinaryParsing, KindNotifications}

func validKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Status 任务生命周期 queued → running → succeeded | retrying | dead_lettered
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusRetrying     Status = "retrying"
	StatusDeadLettered Status = "dead_lettered"
)

type Job struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Payload     stdjson.RawMessage `json:"payload"`
	Attempt     int                `json:"attempt"`
	MaxAttempts int                `json:"maxAttempts"`
	DedupeKey   string             `json:"dedupeKey,omitempty"`
	Status      Status             `json:"status"`
	LastError   string             `json:"lastError,omitempty"`
	RunAt       time.Time          `json:"runAt"`
	EnqueuedAt  time.Time          `json:"enqueuedAt"`

	// LastErrorCode 最近一次失败的错误码名称，死信回调据此区分失败类型
	LastErrorCode string `json:"lastErrorCode,omitempty"`
}

// Decode 将负载解析到 v
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// Field 按 gjson 路径读取负载字段，不做完整解析
func (j *Job) Field(path string) gjson.Result {
	return gjson.GetBytes(j.Payload, path)
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(stdjson.RawMessage(nil), j.Payload...)
	return &c
}

// Handler 任务处理函数，返回 nil 即确认
type Handler func(ctx context.Context, job *Job) error

// Queue 入队与注册处理函数的能力接口
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload interface{}, opts ...EnqueueOption) (string, error)
	RegisterHandler(kind string, handler Handler) error
}

type enqueueOptions struct {
	dedupeKey   string
	maxAttempts int
	delay       time.Duration
}

type EnqueueOption func(*enqueueOptions)

// WithDedupeKey 相同 key 在去重窗口内只入队一次，重复入队返回已有任务 id
func WithDedupeKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.dedupeKey = key
	}
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.maxAttempts = n
	}
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}

// ErrPermanent 不可重试的失败，直接进入死信
var ErrPermanent = errors.New("permanent job failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	if e.err == nil {
		return ErrPermanent.Error()
	}
	return e.err.Error()
}

func (e *permanentError) Unwrap() []error {
	return []error{ErrPermanent, e.err}
}

// Permanent 标记错误为不可重试
func Permanent(err error) error {
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// ErrDeferred 任务暂时无法执行，延后重新投递且不消耗重试次数
var ErrDeferred = errors.New("job deferred")

type deferredError struct {
	err   error
	after time.Duration
}

func (e *deferredError) Error() string {
	if e.err == nil {
		return ErrDeferred.Error()
	}
	return e.err.Error()
}

func (e *deferredError) Unwrap() []error {
	return []error{ErrDeferred, e.err}
}

// Defer 标记任务在 after 之后重新执行，例如资源正被其他执行占用
func Defer(err error, after time.Duration) error {
	return &deferredError{err: err, after: after}
}

func deferredDelay(err error) (time.Duration, bool) {
	var d *deferredError
	if errors.As(err, &d) {
		return d.after, true
	}
	return 0, false
}

var (
	ErrUnknownKind     = errors.New("unknown job kind")
	ErrHandlerExists   = errors.New("handler already registered")
	ErrManagerStarted  = errors.New("queue manager already started")
	ErrBrokerClosed    = errors.New("broker closed")
	ErrJobTimeout      = errors.New("job execution timeout")
	ErrAttemptsExpired = errors.New("max attempts exceeded")
)
