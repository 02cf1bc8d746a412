package errorc

import (
	"fmt"
	"net/http"
	"strings"
)

type Error struct {
	*ErrorCode
	Msg      string
	Cause    error
	Stack    string `json:"-"`
	TraceID  string
	Entry    string `json:"-"`
	FileName string `json:"-"`
	Line     int    `json:"-"`
	FuncName string `json:"-"`
}

func (e *Error) formatStack() string {
	if e.Stack == "" {
		return ""
	}

	lines := strings.Split(e.Stack, "\n")
	var filteredLines []string
	for _, line := range lines {
		// 跳过依赖库与错误包内部的堆栈
		if strings.Contains(line, "/go/pkg/mod") || strings.Contains(line, "deploymate/pkg/core/err") {
			continue
		}
		filteredLines = append(filteredLines, line)
	}
	return strings.Join(filteredLines, "\n")
}

type ErrorCode struct {
	Code int
	Name string
	// Status 对外返回的 HTTP 状态码，为 0 时按 Code 推断
	Status int `json:"-"`
}

func (c *ErrorCode) String() string {
	return fmt.Sprintf("%d: %s", c.Code, c.Name)
}

// HTTPStatus 返回错误码对应的 HTTP 状态码
func (c *ErrorCode) HTTPStatus() int {
	if c == nil {
		return http.StatusInternalServerError
	}
	if c.Status != 0 {
		return c.Status
	}
	if c.Code >= 400 && c.Code < 600 {
		return c.Code
	}
	return http.StatusInternalServerError
}

var (
	ErrorCodeUnknown     *ErrorCode = &ErrorCode{Code: 500, Name: "Unknown"}
	ErrorCodeDB          *ErrorCode = &ErrorCode{Code: 501, Name: "DB", Status: http.StatusInternalServerError}
	ErrorCodeThird       *ErrorCode = &ErrorCode{Code: 502, Name: "Third"}
	ErrorCodeValid       *ErrorCode = &ErrorCode{Code: 400, Name: "ValidWithCtx"}
	ErrorCodeNoAuth      *ErrorCode = &ErrorCode{Code: 401, Name: "Unauthenticated"}
	ErrorCodeForbidden   *ErrorCode = &ErrorCode{Code: 403, Name: "Forbidden"}
	ErrorCodeNotFound    *ErrorCode = &ErrorCode{Code: 404, Name: "NotFound"}
	ErrorCodeConflict    *ErrorCode = &ErrorCode{Code: 409, Name: "Conflict"}
	ErrorCodeRateLimited *ErrorCode = &ErrorCode{Code: 429, Name: "RATE_LIMITED"}
	ErrorCodeUnavailable *ErrorCode = &ErrorCode{Code: 503, Name: "Unavailable"}
	ErrorCodeInternal    *ErrorCode = &ErrorCode{Code: 503, Name: "InternalError"}

	// ErrorCodeInvalidConfig 配置错误（如 base-url 非法），直接失败，不自动重试
	ErrorCodeInvalidConfig *ErrorCode = &ErrorCode{Code: 520, Name: "INVALID_CONFIG", Status: http.StatusInternalServerError}
	// ErrorCodeInsecureOrigin 生产环境下对外地址不是 https
	ErrorCodeInsecureOrigin *ErrorCode = &ErrorCode{Code: 521, Name: "INSECURE_ORIGIN", Status: http.StatusInternalServerError}
)
