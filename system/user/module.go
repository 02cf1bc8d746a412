package user

import (
	"context"

	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/security"
	"deploymate/pkg/ratelimit"
	"deploymate/system/user/api/client"
	"deploymate/system/user/internal/app"
	"deploymate/system/user/internal/dao"

	"gorm.io/gorm"
)

const (
	bootstrapEmail    = "admin@deploymate.local"
	bootstrapPassword = "admin"
)

// Module 用户组件模块门面（对外暴露的根对象）
type Module struct {
	internalApp *app.App
	// Client 对外客户端，供发布组件查询收件人
	Client      *client.UserClient
	sessionAuth *security.SessionAuth
	log         *logger.Log
}

func NewModule(db *gorm.DB, limiter ratelimit.Limiter, sessionAuth *security.SessionAuth, log *logger.Log) *Module {
	internalApp := app.NewApp(dao.NewUserDao(db, log), limiter, sessionAuth, log)
	return &Module{
		internalApp: internalApp,
		Client:      client.NewUserClient(internalApp),
		sessionAuth: sessionAuth,
		log:         log,
	}
}

// EnsureBootstrapUser 用户表为空时创建默认管理员，首次登录后应立即改密
func (m *Module) EnsureBootstrapUser(ctx context.Context) error {
	count, err := m.internalApp.UserService.Count(ctx)
	if err != nil {
		m.log.WithErr(err).Error("检查用户数量失败")
		return err
	}
	if count > 0 {
		return nil
	}

	user, err := m.internalApp.UserService.CreateUser(ctx, bootstrapEmail, "管理员", bootstrapPassword)
	if err != nil {
		m.log.WithErr(err).Error("创建默认管理员失败")
		return err
	}
	m.log.WithField("userId", user.ID).WithField("email", user.Email).Warn("已创建默认管理员，请尽快修改密码")
	return nil
}
