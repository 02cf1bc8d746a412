package storage

import (
	"context"
	"io"
	"time"

	errorc "deploymate/pkg/core/err"
)

// 存储模式
const (
	ModeLocal = "local"
	ModeOSS   = "oss"
	ModeS3    = "s3"
)

// StoredObject 存储对象元信息
type StoredObject struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Storage 制品存储接口，支持本地、OSS 与 S3 兼容三种实现
// 对象不存在时 Open 返回的错误满足 errorc.IsNotFound
type Storage interface {
	// Put 上传文件，size 为 -1 时不校验大小
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*StoredObject, error)

	// Open 打开文件用于读取
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除文件，不存在不算错误
	Delete(ctx context.Context, key string) error

	// Exists 检查文件是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// Mode 返回存储模式标识
	Mode() string
}

// Presigner 可生成临时下载地址的存储，下载接口优先重定向
type Presigner interface {
	PresignGet(ctx context.Context, key, fileName string, expire time.Duration) (string, error)
}

// ReadAll 读取整个对象到内存
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	reader, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errorc.New("读取存储对象失败", err).Third()
	}
	return data, nil
}
