package controller

import (
	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/result"
	"deploymate/pkg/core/security"
	"deploymate/pkg/core/util"
	"deploymate/system/user/internal/app"
	"deploymate/system/user/internal/model/dto"
	"deploymate/utils"

	"github.com/gofiber/fiber/v2"
)

// AuthController 登录与当前用户接口
type AuthController struct {
	app         *app.App
	sessionAuth *security.SessionAuth
	err         *errorc.ErrorBuilder
	log         *logger.Log
}

func NewAuthController(app *app.App, sessionAuth *security.SessionAuth, log *logger.Log) *AuthController {
	return &AuthController{
		app:         app,
		sessionAuth: sessionAuth,
		err:         errorc.NewErrorBuilder("AuthController"),
		log:         log.WithEntryName("AuthController"),
	}
}

// RegisterRoutes 注册路由
func (ctrl *AuthController) RegisterRoutes(api, admin fiber.Router) {
	// 登录接口（不需要鉴权）
	api.Post("/auth/login", ctrl.Login)

	users := admin.Group("/users")
	users.Get("/me", ctrl.sessionAuth.RequireSession(), ctrl.Me)
	users.Post("/", ctrl.sessionAuth.RequireSession(), ctrl.Create)
}

// Login 邮箱密码登录
func (ctrl *AuthController) Login(ctx *fiber.Ctx) error {
	var req dto.LoginReq
	if err := ctx.BodyParser(&req); err != nil {
		return ctrl.err.New("解析请求参数失败", err).ValidWithCtx().WithTraceID(util.Context(ctx))
	}
	if errMsg, err := utils.Validate(&req); err != nil {
		return ctrl.err.New(errMsg, err).ValidWithCtx().WithTraceID(util.Context(ctx))
	}

	resp, err := ctrl.app.Login(util.Context(ctx), ctx.IP(), &req)
	return result.Once(ctx, resp, err)
}

// Me 当前登录用户
func (ctrl *AuthController) Me(ctx *fiber.Ctx) error {
	userID, err := security.GetUserIDByCtx(ctx.UserContext())
	if err != nil {
		return err
	}
	user, err := ctrl.app.UserService.FindById(util.Context(ctx), userID)
	return result.Once(ctx, user, err)
}

// Create 创建用户
func (ctrl *AuthController) Create(ctx *fiber.Ctx) error {
	var req dto.CreateUserReq
	if err := ctx.BodyParser(&req); err != nil {
		return ctrl.err.New("解析请求参数失败", err).ValidWithCtx().WithTraceID(util.Context(ctx))
	}
	if errMsg, err := utils.Validate(&req); err != nil {
		return ctrl.err.New(errMsg, err).ValidWithCtx().WithTraceID(util.Context(ctx))
	}

	user, err := ctrl.app.UserService.CreateUser(util.Context(ctx), req.Email, req.Name, req.Password)
	return result.Once(ctx, user, err)
}
