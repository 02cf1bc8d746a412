package fiber_handle

import "github.com/gofiber/fiber/v2"

type HealthCheckConfig struct {
	Path string
}

func HealthCheck(config HealthCheckConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == config.Path {
			return c.Status(fiber.StatusOK).SendString("ok")
		}
		return c.Next()
	}
}
