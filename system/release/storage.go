package release

import (
	"fmt"

	"deploymate/pkg/core/config"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/oss"
	"deploymate/system/release/internal/service/storage"
)

// StorageOptions 制品存储配置，按 Storage.Mode 选择实现
type StorageOptions struct {
	Storage config.StorageConfig
	Oss     config.OssConfig
	S3      config.S3Config
	Proxy   config.ProxyConfig
}

func newStorage(opts StorageOptions, log *logger.Log) (storage.Storage, error) {
	switch opts.Storage.Mode {
	case "", "local":
		return storage.NewLocalStorage(opts.Storage.LocalDir, log)
	case "oss":
		ossService, err := oss.NewAliyunService(&opts.Oss, &opts.Proxy, log)
		if err != nil {
			return nil, err
		}
		return storage.NewOSSStorage(ossService, opts.Storage.Prefix, log), nil
	case "s3":
		return storage.NewS3Storage(opts.S3, opts.Proxy, opts.Storage.Prefix, log)
	default:
		return nil, fmt.Errorf("不支持的存储模式: %s", opts.Storage.Mode)
	}
}
