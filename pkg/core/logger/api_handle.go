package logger

import (
	"strings"
	"time"

	"deploymate/pkg/core/consts"
	errorc "deploymate/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	Logger *Log
	// EntryName 日志入口名，如 API / ADMIN
	EntryName string
}

// NewApiLogger 记录请求耗时与状态，出错时输出完整错误链
func NewApiLogger(config Config) fiber.Handler {
	entry := config.EntryName
	if entry == "" {
		entry = "API"
	}
	log := config.Logger.WithEntryName(entry)

	return func(c *fiber.Ctx) error {
		path := strings.SplitN(c.OriginalURL(), "?", 2)[0]
		start := time.Now()

		err := c.Next()

		reqLog := log.WithField("status", c.Response().StatusCode()).
			WithField("latency", time.Since(start).Round(time.Millisecond)).
			WithField("method", c.Method()).
			WithField("path", path).
			WithField("TraceId", c.Locals(consts.TraceKey))

		if err != nil {
			errc := errorc.ParseError(err)
			errc.ToLog(reqLog.GetLogger())
			return err
		}

		reqLog.Debug("请求处理完毕")
		return nil
	}
}
