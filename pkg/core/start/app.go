package start

import (
	"fmt"

	"deploymate/pkg/core/fiber_handle"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/util"

	"github.com/gofiber/fiber/v2"
	recover2 "github.com/gofiber/fiber/v2/middleware/recover"
)

// GetApp 创建 fiber 实例，bodyLimit 需覆盖最大安装包体积
func GetApp(bodyLimit int, log *logger.Log) *fiber.App {
	if bodyLimit <= 0 {
		bodyLimit = 512 * 1024 * 1024
	}
	app := fiber.New(
		fiber.Config{
			BodyLimit:    bodyLimit,
			ErrorHandler: fiber_handle.ErrHandler,
		})
	app.Use(fiber_handle.NewRequestTracer())
	app.Use(fiber_handle.Cors())
	app.Use(recover2.New(recover2.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			log.WithTrace(util.Context(c)).WithField("path", c.Path()).Error(fmt.Sprintf("请求崩溃: %+v", e))
		},
	}))
	app.Use(fiber_handle.HealthCheck(fiber_handle.HealthCheckConfig{Path: "/health"}))
	return app
}
