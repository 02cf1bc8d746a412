package config

import "time"

type JwtConfig struct {
	Secret string `yaml:"secret" json:"secret,omitempty"`
	// ExpireTime 登录会话有效期
	ExpireTime time.Duration `yaml:"expire-time" json:"expire-time,omitempty"`
}
