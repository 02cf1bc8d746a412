package controller

import (
	"fmt"
	"net/url"

	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/util"
	"deploymate/pkg/ota"
	"deploymate/system/release/internal/app"

	"github.com/gofiber/fiber/v2"
)

// OtaController iOS 无线安装的公开接口，token 即凭证
type OtaController struct {
	app *app.App
	log *logger.Log
}

func NewOtaController(app *app.App, log *logger.Log) *OtaController {
	return &OtaController{
		app: app,
		log: log.WithEntryName("OtaController"),
	}
}

func (ctrl *OtaController) RegisterRoutes(api fiber.Router) {
	api.Get("/releases/:id/manifest", ctrl.Manifest)
	api.Get("/releases/:id/download", ctrl.Download)
}

func (ctrl *OtaController) Manifest(ctx *fiber.Ctx) error {
	body, err := ctrl.app.Manifest(util.Context(ctx), ctx.Params("id"), ctx.Query("token"), ota.RequestInfoFromFasthttp(ctx.Context()))
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.Send(body)
}

func (ctrl *OtaController) Download(ctx *fiber.Ctx) error {
	dl, err := ctrl.app.Download(util.Context(ctx), ctx.Params("id"), ctx.Query("token"))
	if err != nil {
		return err
	}
	if dl.RedirectURL != "" {
		return ctx.Redirect(dl.RedirectURL, fiber.StatusFound)
	}

	ctx.Set(fiber.HeaderContentType, dl.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(dl.FileName)))
	// fasthttp 在响应写完后关闭 Body
	if dl.Size > 0 {
		return ctx.SendStream(dl.Body, int(dl.Size))
	}
	return ctx.SendStream(dl.Body)
}
