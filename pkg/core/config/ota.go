package config

import "time"

// OtaConfig 无线安装相关配置
type OtaConfig struct {
	// BaseURL 对外访问地址，为空时按请求头推导
	BaseURL string `yaml:"base-url"`
	// RequireHTTPS 显式要求 https，env 为 prod 时默认开启
	RequireHTTPS bool          `yaml:"require-https"`
	TokenSecret  string        `yaml:"token-secret"`
	TokenTTL     time.Duration `yaml:"token-ttl"`
}
