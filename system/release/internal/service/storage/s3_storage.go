package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"deploymate/pkg/core/config"
	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Storage 兼容 S3 协议的对象存储实现（MinIO 等）
type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
	log    *logger.Log
	err    *errorc.ErrorBuilder
}

// NewS3Storage 创建 S3 存储实例，proxy 启用时经 SOCKS5 访问
func NewS3Storage(cfg config.S3Config, proxy config.ProxyConfig, prefix string, log *logger.Log) (*S3Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errorc.New("S3 配置不完整", nil).ValidWithCtx()
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if proxy.Enabled {
		opts.Transport = proxy.GetHTTPTransport()
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("创建 S3 客户端失败: %w", err)
	}

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		log:    log.WithEntryName("S3Storage"),
		err:    errorc.NewErrorBuilder("S3Storage"),
	}, nil
}

func (s *S3Storage) Mode() string {
	return ModeS3
}

func (s *S3Storage) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (s *S3Storage) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*StoredObject, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return nil, err
	}

	hash := sha256.New()
	info, err := s.client.PutObject(ctx, s.bucket, s.fullKey(key), io.TeeReader(reader, hash), size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, s.err.New("上传到 S3 失败", err).Third()
	}

	sha256Sum := hex.EncodeToString(hash.Sum(nil))
	s.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"key":    s.fullKey(key),
		"size":   info.Size,
		"sha256": sha256Sum,
	}).Info("文件上传到 S3 成功")

	return &StoredObject{
		Key:         key,
		Size:        info.Size,
		ContentType: contentType,
		SHA256:      sha256Sum,
		CreatedAt:   time.Now(),
	}, nil
}

// Open 先 Stat 再 Get，GetObject 本身在读取前不会报告对象缺失
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return nil, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, s.fullKey(key), minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, s.err.New("文件不存在", err).NotFound()
		}
		return nil, s.err.New("查询 S3 对象失败", err).Third()
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.fullKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.err.New("从 S3 下载失败", err).Third()
	}
	return obj, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := ValidateArtifactKey(key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.fullKey(key), minio.RemoveObjectOptions{}); err != nil {
		return s.err.New("从 S3 删除失败", err).Third()
	}
	return nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, s.fullKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, s.err.New("查询 S3 对象失败", err).Third()
	}
	return true, nil
}

func (s *S3Storage) PresignGet(ctx context.Context, key, fileName string, expire time.Duration) (string, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return "", err
	}
	params := url.Values{}
	if fileName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.fullKey(key), expire, params)
	if err != nil {
		return "", s.err.New("生成 S3 下载地址失败", err).Third()
	}
	return u.String(), nil
}
