package ota

import (
	"errors"
	"net/url"
	"strings"

	errorc "deploymate/pkg/core/err"
)

var (
	// ErrInvalidConfig 配置的对外地址无法解析，或无法从请求推导出对外地址
	ErrInvalidConfig = errors.New("invalid public origin config")
	// ErrInsecureOrigin 生产模式下对外地址不是 https
	ErrInsecureOrigin = errors.New("insecure public origin")
)

// Origin 对外访问的 scheme 与 host，按请求计算，不缓存
type Origin struct {
	Scheme string
	Host   string
}

func (o Origin) String() string {
	return o.Scheme + "://" + o.Host
}

// OriginConfig 对外地址配置
type OriginConfig struct {
	// BaseURL 显式配置的对外地址，为空时按请求头推导
	BaseURL string
	// RequireHTTPS 生产模式，iOS 只接受 https 的安装清单
	RequireHTTPS bool
}

// RequestInfo 推导对外地址所需的请求信息，与 HTTP 框架无关
type RequestInfo struct {
	Scheme         string
	Host           string
	ForwardedProto string
	ForwardedHost  string
}

// firstValue 代理可能追加多个值，只取第一个
func firstValue(header string) string {
	if i := strings.IndexByte(header, ','); i >= 0 {
		header = header[:i]
	}
	return strings.TrimSpace(header)
}

func invalidConfig(msg string) error {
	return errorc.New(msg, ErrInvalidConfig).WithCode(errorc.ErrorCodeInvalidConfig)
}

func checkScheme(origin Origin, cfg OriginConfig) (Origin, error) {
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return Origin{}, invalidConfig("不支持的协议: " + origin.Scheme)
	}
	if cfg.RequireHTTPS && origin.Scheme != "https" {
		return Origin{}, errorc.New("生产环境要求 https 访问地址: "+origin.String(), ErrInsecureOrigin).
			WithCode(errorc.ErrorCodeInsecureOrigin)
	}
	return origin, nil
}

// ResolvePublicOrigin 计算生成安装链接使用的对外地址。
// 优先使用配置的 BaseURL，否则取 X-Forwarded-Proto / X-Forwarded-Host 的第一个值，再退回请求自身的 scheme 与 host。
func ResolvePublicOrigin(req RequestInfo, cfg OriginConfig) (Origin, error) {
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return Origin{}, errorc.New("对外地址配置无法解析: "+base, errors.Join(ErrInvalidConfig, err)).
				WithCode(errorc.ErrorCodeInvalidConfig)
		}
		if u.Scheme == "" || u.Host == "" {
			return Origin{}, invalidConfig("对外地址配置缺少协议或主机: " + base)
		}
		return checkScheme(Origin{Scheme: strings.ToLower(u.Scheme), Host: u.Host}, cfg)
	}

	scheme := firstValue(req.ForwardedProto)
	if scheme == "" {
		scheme = req.Scheme
	}
	host := firstValue(req.ForwardedHost)
	if host == "" {
		host = req.Host
	}
	if scheme == "" || host == "" {
		return Origin{}, invalidConfig("无法从请求推导对外地址")
	}
	return checkScheme(Origin{Scheme: strings.ToLower(scheme), Host: host}, cfg)
}
