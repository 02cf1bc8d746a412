package router

import (
	"deploymate/app"
	"deploymate/system/release"
	"deploymate/system/user"

	"github.com/gofiber/fiber/v2"
)

// Register 集中注册 HTTP 路由，只做分组与绑定。
// /api/v1 为公开接口（登录、安装清单、安装包下载），/admin 为需要登录的后台接口
func Register(a *app.App, f *fiber.App) {
	api := f.Group("/api/v1")

	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"msg": "ok"})
	})

	admin := f.Group("/admin")

	user.RegisterRoutes(a.UserModule, api, admin)
	release.RegisterRoutes(a.ReleaseModule, api, admin)
}
