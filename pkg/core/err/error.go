package errorc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"deploymate/pkg/core/consts"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 配置选项
var (
	enableFullStack = true
	stackBufferPool = sync.Pool{
		New: func() interface{} {
			return make([]byte, 4096)
		},
	}
)

type ErrorBuilder struct {
	entryName string
}

func NewErrorBuilder(entryName string) *ErrorBuilder {
	return &ErrorBuilder{entryName: entryName}
}

func (e *ErrorBuilder) New(msg string, err error) *Error {
	stack := getStackOptimized(2)
	stack.Msg = msg
	stack.Cause = err
	stack.Entry = e.entryName
	stack.ErrorCode = getErrCode(err)
	return stack
}

// New err or msg can nil
func New(msg string, err error) *Error {
	stack := getStackOptimized(2)
	stack.Msg = msg
	stack.Cause = err
	stack.ErrorCode = getErrCode(err)
	return stack
}

func (e *Error) WithTraceID(ctx context.Context) *Error {
	e.TraceID = ""
	if ctx != nil {
		if traceID, ok := ctx.Value(consts.TraceKey).(string); ok {
			e.TraceID = traceID
		}
	}
	return e
}

func (e *Error) WithEntry(entry string) *Error {
	e.Entry = entry
	return e
}

func (e *Error) WithCode(code *ErrorCode) *Error {
	e.ErrorCode = code
	return e
}

func (e *Error) DB() *Error {
	if e.ErrorCode != nil && e.Code == 404 {
		return e
	}
	e.ErrorCode = ErrorCodeDB
	return e
}

func (e *Error) Third() *Error {
	e.ErrorCode = ErrorCodeThird
	return e
}

func (e *Error) ValidWithCtx() *Error {
	e.ErrorCode = ErrorCodeValid
	return e
}

func (e *Error) NoAuth() *Error {
	e.ErrorCode = ErrorCodeNoAuth
	return e
}

func (e *Error) Forbidden() *Error {
	e.ErrorCode = ErrorCodeForbidden
	return e
}

func (e *Error) NotFound() *Error {
	e.ErrorCode = ErrorCodeNotFound
	return e
}

func (e *Error) Conflict() *Error {
	e.ErrorCode = ErrorCodeConflict
	return e
}

func (e *Error) Unavailable() *Error {
	e.ErrorCode = ErrorCodeUnavailable
	return e
}

// Unwrap 支持 errors.Is / errors.As 穿透到 Cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// chain 收集错误链，并找出根因（第一个包装了非 *Error 错误的节点）
func (e *Error) chain() (errChain []*Error, rootCause *Error, originalError error) {
	curr := e
	for {
		errChain = append(errChain, curr)
		cause, ok := curr.Cause.(*Error)
		if !ok || cause == nil {
			break
		}
		curr = cause
	}

	for i := len(errChain) - 1; i >= 0; i-- {
		item := errChain[i]
		if item.Cause != nil {
			if _, ok := item.Cause.(*Error); !ok {
				return errChain, item, item.Cause
			}
		}
	}
	// 没有包装第三方错误时，认为最内层即根因
	rootCause = errChain[len(errChain)-1]
	return errChain, rootCause, rootCause.Cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	errChain, rootCause, originalError := e.chain()

	var sb strings.Builder
	sb.WriteString("========================= Root Cause =========================\n")
	if originalError != nil {
		sb.WriteString(fmt.Sprintf("Error: %s\n", originalError.Error()))
	}
	if rootCause.FileName != "" {
		sb.WriteString(fmt.Sprintf("Location: %s:%d\n", rootCause.FileName, rootCause.Line))
	}
	if rootCause.FuncName != "" {
		sb.WriteString(fmt.Sprintf("Function: %s\n", rootCause.FuncName))
	}
	if rootCause.Msg != "" {
		sb.WriteString(fmt.Sprintf("Message: %s\n", rootCause.Msg))
	}
	if rootCause.TraceID != "" {
		sb.WriteString(fmt.Sprintf("Trace ID: %s\n", rootCause.TraceID))
	}

	sb.WriteString("\n======================= Full Error Trace =======================\n")
	for i, item := range errChain {
		sb.WriteString(fmt.Sprintf("%d: ", i+1))
		if item.ErrorCode != nil {
			sb.WriteString(fmt.Sprintf("[%s] ", item.ErrorCode.String()))
		}
		sb.WriteString(item.Msg)
		if item.FileName != "" {
			sb.WriteString(fmt.Sprintf("\n   at %s:%d", item.FileName, item.Line))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("==============================================================\n")

	return sb.String()
}

// RootCause returns a simple string representing the root cause of the error.
func (e *Error) RootCause() string {
	if e == nil {
		return ""
	}

	_, rootCause, originalError := e.chain()

	var sb strings.Builder
	sb.WriteString(rootCause.Msg)
	if originalError != nil {
		sb.WriteString(fmt.Sprintf(": %v", originalError))
	}
	if rootCause.FileName != "" {
		sb.WriteString(fmt.Sprintf(" at %s:%d", rootCause.FileName, rootCause.Line))
	}
	return sb.String()
}

// Summary 返回根因描述与原始错误，不含代码位置，可直接展示给调用方
func (e *Error) Summary() string {
	if e == nil {
		return ""
	}

	_, rootCause, originalError := e.chain()
	switch {
	case rootCause.Msg == "" && originalError != nil:
		return originalError.Error()
	case originalError != nil:
		return rootCause.Msg + ": " + originalError.Error()
	}
	return rootCause.Msg
}

// ErrCode 返回错误码名称，未设置时为空
func (e *Error) ErrCode() string {
	if e == nil || e.ErrorCode == nil {
		return ""
	}
	return e.Name
}

func (e *Error) ToLog(log *logrus.Entry, msgs ...string) *Error {
	if e == nil {
		return nil
	}

	errChain, rootCause, originalError := e.chain()

	fields := make(map[string]interface{})
	fields["root_cause_file"] = rootCause.FileName
	fields["root_cause_line"] = rootCause.Line
	fields["root_cause_func"] = rootCause.FuncName
	fields["root_cause_msg"] = rootCause.Msg
	if originalError != nil {
		fields["root_cause_original_error"] = originalError.Error()
	}
	if rootCause.ErrorCode != nil {
		fields["root_cause_error_code"] = rootCause.ErrorCode.String()
	}

	chain := make([]map[string]interface{}, 0, len(errChain))
	for _, item := range errChain {
		level := map[string]interface{}{
			"file": item.FileName,
			"line": item.Line,
			"func": item.FuncName,
			"msg":  item.Msg,
		}
		if item.ErrorCode != nil {
			level["code"] = item.ErrorCode.String()
		}
		if item.TraceID != "" {
			level["trace_id"] = item.TraceID
		}
		if item == e && enableFullStack { // 只为最外层错误添加完整堆栈
			item.getFullStack()
			if stack := item.formatStack(); stack != "" {
				level["stack_trace"] = stack
			}
		}
		chain = append(chain, level)
	}
	fields["error_chain"] = chain
	if e.TraceID != "" {
		fields["trace_id"] = e.TraceID
	}

	finalMsg := errChain[0].Msg
	if len(msgs) > 0 {
		finalMsg = strings.Join(msgs, ", ")
	}
	if finalMsg == "" {
		finalMsg = "An error occurred"
	}

	log.WithFields(fields).Error(finalMsg)
	return e
}

// getStackOptimized 只记录调用位置，完整堆栈延迟到 ToLog 时获取
func getStackOptimized(num int) *Error {
	pc, file, line, ok := runtime.Caller(num)
	if !ok {
		return &Error{
			FileName: "<unknown>",
			FuncName: "<unknown>",
		}
	}

	funcName := "<unknown>"
	if details := runtime.FuncForPC(pc); details != nil {
		funcName = details.Name()
	}

	return &Error{
		FileName: file,
		Line:     line,
		FuncName: funcName,
	}
}

// getFullStack 延迟获取完整堆栈信息
func (e *Error) getFullStack() string {
	if e.Stack != "" || !enableFullStack {
		return e.Stack
	}

	buf := stackBufferPool.Get().([]byte)
	defer stackBufferPool.Put(buf)

	n := runtime.Stack(buf, false)
	e.Stack = string(buf[:n])
	return e.Stack
}

// SetStackTraceEnabled 控制是否启用完整堆栈跟踪
func SetStackTraceEnabled(enabled bool) {
	enableFullStack = enabled
}

func getErrCode(err error) *ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	var e *Error
	if errors.As(err, &e) && e.ErrorCode != nil {
		return e.ErrorCode
	}

	for _, target := range notfounds {
		if errors.Is(err, target) {
			return ErrorCodeNotFound
		}
	}

	return ErrorCodeUnknown
}

var notfounds = []error{gorm.ErrRecordNotFound, redis.Nil}

// Quick 快速构造函数，不获取堆栈信息，适用于性能敏感场景
func Quick(msg string, err error) *Error {
	return &Error{
		Msg:       msg,
		Cause:     err,
		ErrorCode: getErrCode(err),
	}
}

func (e *ErrorBuilder) NotFound(msg string) *Error {
	return &Error{
		Msg:       msg,
		Entry:     e.entryName,
		ErrorCode: ErrorCodeNotFound,
	}
}

func (e *ErrorBuilder) BadRequest(msg string) *Error {
	return &Error{
		Msg:       msg,
		Entry:     e.entryName,
		ErrorCode: ErrorCodeValid,
	}
}

func (e *ErrorBuilder) Unauthorized(msg string) *Error {
	return &Error{
		Msg:       msg,
		Entry:     e.entryName,
		ErrorCode: ErrorCodeNoAuth,
	}
}

func (e *ErrorBuilder) RateLimited(msg string) *Error {
	return &Error{
		Msg:       msg,
		Entry:     e.entryName,
		ErrorCode: ErrorCodeRateLimited,
	}
}

func ParseError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Quick(err.Error(), err)
}

// HasCode 判断错误链中是否存在指定错误码
func HasCode(err error, code *ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.ErrorCode == code {
			return true
		}
		err = e.Cause
	}
	return false
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, ErrorCodeNotFound) {
		return true
	}
	for _, target := range notfounds {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
