package fiber_handle

import (
	"errors"

	errorc "deploymate/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

func ErrHandler(ctx *fiber.Ctx, err error) error {
	var e *fiber.Error
	if errors.As(err, &e) {
		return ctx.Status(e.Code).JSON(fiber.Map{"status": e.Code, "message": e.Message})
	}

	cError := errorc.ParseError(err)
	code := cError.ErrorCode
	if code == nil {
		code = errorc.ErrorCodeUnknown
	}

	return ctx.Status(code.HTTPStatus()).JSON(fiber.Map{
		"status":  code.Code,
		"code":    code.Name,
		"message": cError.Msg,
		"traceId": cError.TraceID,
	})
}
