package controller

import (
	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/result"
	"deploymate/pkg/core/security"
	"deploymate/pkg/core/util"
	"deploymate/pkg/ota"
	"deploymate/system/release/internal/app"
	"deploymate/system/release/internal/model"
	"deploymate/system/release/internal/model/dto"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReleaseController 发布管理接口（后台）
type ReleaseController struct {
	app         *app.App
	sessionAuth *security.SessionAuth
	err         *errorc.ErrorBuilder
	log         *logger.Log
}

func NewReleaseController(app *app.App, sessionAuth *security.SessionAuth, log *logger.Log) *ReleaseController {
	return &ReleaseController{
		app:         app,
		sessionAuth: sessionAuth,
		err:         errorc.NewErrorBuilder("ReleaseController"),
		log:         log.WithEntryName("ReleaseController"),
	}
}

// RegisterRoutes 注册路由，全部需要登录
func (ctrl *ReleaseController) RegisterRoutes(admin fiber.Router) {
	session := ctrl.sessionAuth.RequireSession()

	admin.Post("/apps/:appId/releases", session, ctrl.Upload)
	admin.Get("/apps/:appId/releases", session, ctrl.List)

	releases := admin.Group("/releases", session)
	releases.Get("/:id", ctrl.Get)
	releases.Get("/:id/install-link", ctrl.InstallLink)
	releases.Post("/:id/retrigger", ctrl.Retrigger)

	admin.Get("/queue/dead-letters", session, ctrl.DeadLetters)
}

// Upload 上传安装包，multipart 字段：file、platform（可选）、groups（JSON 数组，可选）
func (ctrl *ReleaseController) Upload(ctx *fiber.Ctx) error {
	c := util.Context(ctx)
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return ctrl.err.New("缺少安装包文件", err).ValidWithCtx().WithTraceID(c)
	}

	req := dto.UploadReq{
		AppID:    ctx.Params("appId"),
		Platform: ctx.FormValue("platform"),
		FileName: fileHeader.Filename,
		FileSize: fileHeader.Size,
	}
	if groups := ctx.FormValue("groups"); groups != "" {
		var refs []model.DistributionGroupRef
		if err := json.Unmarshal([]byte(groups), &refs); err != nil {
			return ctrl.err.New("分发组格式错误", err).ValidWithCtx().WithTraceID(c)
		}
		req.Groups = refs
	}

	file, err := fileHeader.Open()
	if err != nil {
		return ctrl.err.New("读取上传文件失败", err).ValidWithCtx().WithTraceID(c)
	}
	defer file.Close()

	resp, err := ctrl.app.Upload(c, &req, file)
	return result.Once(ctx, resp, err)
}

func (ctrl *ReleaseController) List(ctx *fiber.Ctx) error {
	releases, err := ctrl.app.ListReleases(util.Context(ctx), ctx.Params("appId"), ctx.QueryInt("limit", 20))
	return result.Once(ctx, releases, err)
}

func (ctrl *ReleaseController) Get(ctx *fiber.Ctx) error {
	release, err := ctrl.app.GetRelease(util.Context(ctx), ctx.Params("id"))
	return result.Once(ctx, release, err)
}

// InstallLink 对外地址按本次请求（含反向代理头）计算
func (ctrl *ReleaseController) InstallLink(ctx *fiber.Ctx) error {
	link, err := ctrl.app.InstallLink(util.Context(ctx), ctx.Params("id"), ota.RequestInfoFromFasthttp(ctx.Context()))
	return result.Once(ctx, link, err)
}

func (ctrl *ReleaseController) Retrigger(ctx *fiber.Ctx) error {
	resp, err := ctrl.app.Retrigger(util.Context(ctx), ctx.Params("id"))
	return result.Once(ctx, resp, err)
}

func (ctrl *ReleaseController) DeadLetters(ctx *fiber.Ctx) error {
	views, err := ctrl.app.DeadLetters(util.Context(ctx), ctx.QueryInt("limit", 50))
	return result.Once(ctx, views, err)
}
