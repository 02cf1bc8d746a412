package storage

import (
	"path"
	"strings"

	errorc "deploymate/pkg/core/err"
)

// 允许写入的 key 前缀
var allowedPrefixes = []string{"releases/", "icons/"}

// ReleaseKey 生成安装包存储 key：releases/<appId>/<releaseId>/<fileName>
func ReleaseKey(appID, releaseID, fileName string) string {
	return "releases/" + appID + "/" + releaseID + "/" + path.Base(fileName)
}

// ValidateArtifactKey 拒绝目录穿越、绝对路径以及允许前缀之外的 key
func ValidateArtifactKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return errorc.New("非法的存储键", nil).ValidWithCtx()
	}
	if path.Clean(key) != key {
		return errorc.New("非法的存储键", nil).ValidWithCtx()
	}
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return nil
		}
	}
	return errorc.New("存储键不在允许的目录下", nil).ValidWithCtx()
}
