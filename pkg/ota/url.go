package ota

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// PercentEncode 与 JavaScript encodeURIComponent 逐字节一致：
// 除 A-Z a-z 0-9 - _ . ! ~ * ' ( ) 外的 UTF-8 字节全部编码为大写 %XX
func PercentEncode(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperhex[c>>4])
		sb.WriteByte(upperhex[c&15])
	}
	return sb.String()
}

// BuildManifestURL 生成安装清单地址，token 作为查询参数编码
func BuildManifestURL(baseURL, releaseID, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/v1/releases/" + releaseID + "/manifest?token=" + PercentEncode(token)
}

// BuildItmsServicesURL 生成 iOS 安装深链，清单地址整体编码为一个值
func BuildItmsServicesURL(manifestURL string) string {
	return "itms-services://?action=download-manifest&url=" + PercentEncode(manifestURL)
}

// BuildDownloadURL 生成安装包下载地址，清单中的 software-package 指向它
func BuildDownloadURL(baseURL, releaseID, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/v1/releases/" + releaseID + "/download?token=" + PercentEncode(token)
}

func httpsOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return "", false
	}
	return "https://" + u.Host, true
}

// ResolveClientBaseURL 浏览器地址为 https 时优先使用，否则使用配置的 https 地址；
// 都不满足时返回 false，调用方不能生成安装链接
func ResolveClientBaseURL(browserOrigin, configuredOrigin string) (string, bool) {
	if origin, ok := httpsOrigin(browserOrigin); ok {
		return origin, true
	}
	return httpsOrigin(configuredOrigin)
}
