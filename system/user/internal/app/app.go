package app

import (
	"context"
	"fmt"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/security"
	"deploymate/pkg/ratelimit"
	"deploymate/system/user/internal/model/dto"
	"deploymate/system/user/internal/service"
)

// loginPurpose 限流 key 的用途后缀，同一 IP 的不同入口分别计数
const loginPurpose = "login"

// App 用户组件应用组合根
type App struct {
	UserService *service.UserService
	limiter     ratelimit.Limiter
	sessionAuth *security.SessionAuth
	log         *logger.Log
	err         *errorc.ErrorBuilder
}

func NewApp(store service.UserStore, limiter ratelimit.Limiter, sessionAuth *security.SessionAuth, log *logger.Log) *App {
	log = log.WithEntryName("UserApp")
	return &App{
		UserService: service.NewUserService(store, log),
		limiter:     limiter,
		sessionAuth: sessionAuth,
		log:         log,
		err:         errorc.NewErrorBuilder("UserApp"),
	}
}

// Login 先按 IP 计数限流，通过后才校验密码
func (a *App) Login(ctx context.Context, clientIP string, req *dto.LoginReq) (*dto.LoginResp, error) {
	res, err := a.limiter.Allow(ctx, clientIP+":"+loginPurpose)
	if err != nil {
		return nil, a.err.New("登录限流计数失败", err).Unavailable().WithTraceID(ctx)
	}
	if !res.Allowed {
		a.log.WithTrace(ctx).WithFields(map[string]interface{}{
			"ip":         clientIP,
			"count":      res.Count,
			"retryAfter": res.RetryAfter.String(),
		}).Warn("登录尝试过于频繁")
		return nil, a.err.RateLimited(fmt.Sprintf("登录尝试过于频繁，请 %d 秒后重试", int(res.RetryAfter.Seconds()))).WithTraceID(ctx)
	}

	user, err := a.UserService.ValidateLogin(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := a.sessionAuth.CreateToken(user.ID, user.Email)
	if err != nil {
		return nil, a.err.New("签发登录令牌失败", err).WithTraceID(ctx)
	}

	a.log.WithTrace(ctx).WithField("userId", user.ID).Info("用户登录成功")
	return &dto.LoginResp{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
	}, nil
}
