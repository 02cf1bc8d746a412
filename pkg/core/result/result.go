package result

import (
	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/util"

	"github.com/gofiber/fiber/v2"
)

func OK(c *fiber.Ctx, v interface{}) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": 200, "data": v})
}

func BadRequest(c *fiber.Ctx, err error) error {
	return errorc.ParseError(err).WithTraceID(util.Context(c))
}

func Once(c *fiber.Ctx, v interface{}, err error) error {
	if err != nil {
		return BadRequest(c, err)
	}
	return OK(c, v)
}
