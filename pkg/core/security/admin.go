package security

import (
	"context"
	"strings"
	"time"

	errorc "deploymate/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

// SessionAuth 后台会话鉴权
type SessionAuth struct {
	jwtClient *JwtClient
}

func NewSessionAuth(secret []byte, expireTime time.Duration) *SessionAuth {
	return &SessionAuth{
		jwtClient: NewJwtClient(secret, expireTime),
	}
}

// CreateToken 创建登录会话 token
func (a *SessionAuth) CreateToken(userID, email string) (string, int64, error) {
	return a.jwtClient.CreateToken(userID, email)
}

// RequireSession 后台接口鉴权中间件
func (a *SessionAuth) RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			return errorc.New("authorization header is required", nil).NoAuth()
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		claims, err := a.jwtClient.ParseToken(token)
		if err != nil {
			return errorc.New("invalid token", err).NoAuth()
		}

		a.jwtClient.SaveToContext(c, claims)
		return c.Next()
	}
}

func GetSessionByCtx(ctx context.Context) (*SessionClaims, error) {
	claims, ok := ctx.Value(SessionKey).(*SessionClaims)
	if !ok {
		return nil, errorc.New("session claims not found or invalid", nil).NoAuth()
	}
	return claims, nil
}

func GetUserIDByCtx(ctx context.Context) (string, error) {
	claims, err := GetSessionByCtx(ctx)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
