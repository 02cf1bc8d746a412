package fiber_handle

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func Cors() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "*",
		AllowHeaders: "*",
		ExposeHeaders: "Authorization,Content-Disposition,Location," + TraceHeaderName,
		MaxAge:        1800,
	})
}
