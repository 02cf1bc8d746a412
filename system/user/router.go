package user

import (
	controller "deploymate/system/user/external/http"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册用户组件路由
func RegisterRoutes(m *Module, api, admin fiber.Router) {
	authController := controller.NewAuthController(m.internalApp, m.sessionAuth, m.log)
	authController.RegisterRoutes(api, admin)
}
