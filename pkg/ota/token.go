package ota

import (
	"errors"
	"time"

	errorc "deploymate/pkg/core/err"

	"github.com/golang-jwt/jwt/v5"
)

const manifestPurpose = "ota-manifest"

type manifestClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

// TokenIssuer 签发安装清单与下载使用的短期 token，token 即凭证
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue 签发绑定到发布记录的 token，返回 token 与过期时间
func (t *TokenIssuer) Issue(releaseID string) (string, time.Time, error) {
	now := time.Now()
	expireAt := now.Add(t.ttl)
	claims := &manifestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   releaseID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expireAt),
		},
		Purpose: manifestPurpose,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, errorc.New("签发安装 token 失败", err)
	}
	return token, expireAt, nil
}

// Verify 校验 token 的签名、有效期、用途以及绑定的发布记录
func (t *TokenIssuer) Verify(token, releaseID string) error {
	if token == "" {
		return errorc.New("缺少安装 token", nil).NoAuth()
	}

	claims := &manifestClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return errorc.New("安装 token 无效", err).NoAuth()
	}
	if !parsed.Valid || claims.Purpose != manifestPurpose {
		return errorc.New("安装 token 用途不匹配", nil).NoAuth()
	}
	if claims.Subject != releaseID {
		return errorc.New("安装 token 与发布记录不匹配", errors.New(claims.Subject)).NoAuth()
	}
	return nil
}
