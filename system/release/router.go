package release

import (
	controller "deploymate/system/release/external/http"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册发布组件路由
func RegisterRoutes(m *Module, api, admin fiber.Router) {
	controller.NewReleaseController(m.internalApp, m.sessionAuth, m.log).RegisterRoutes(admin)
	controller.NewOtaController(m.internalApp, m.log).RegisterRoutes(api)
}
