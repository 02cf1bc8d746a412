package fiber_handle

import (
	"context"

	"deploymate/pkg/core/consts"

	"github.com/gofiber/fiber/v2"
	uuid "github.com/satori/go.uuid"
)

// TraceHeaderName 上游透传的链路 ID 请求头
const TraceHeaderName = "X-Request-Id"

// NewRequestTracer 为每个请求生成（或沿用上游的）链路 ID，并写入 UserContext
func NewRequestTracer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get(TraceHeaderName)
		if traceID == "" {
			traceID = uuid.NewV4().String()
		}

		ctx := context.WithValue(c.UserContext(), consts.TraceKey, traceID)
		c.SetUserContext(ctx)
		c.Locals(consts.TraceKey, traceID)
		c.Set(TraceHeaderName, traceID)
		return c.Next()
	}
}
