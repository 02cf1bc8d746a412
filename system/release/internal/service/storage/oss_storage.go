package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/oss"
)

// OSSStorage 阿里云 OSS 存储实现
type OSSStorage struct {
	ossService *oss.AliyunService
	prefix     string // key 前缀，用于隔离
	log        *logger.Log
	err        *errorc.ErrorBuilder
}

func NewOSSStorage(ossService *oss.AliyunService, prefix string, log *logger.Log) *OSSStorage {
	return &OSSStorage{
		ossService: ossService,
		prefix:     prefix,
		log:        log.WithEntryName("OSSStorage"),
		err:        errorc.NewErrorBuilder("OSSStorage"),
	}
}

func (s *OSSStorage) Mode() string {
	return ModeOSS
}

func (s *OSSStorage) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Put 边上传边计算 SHA256，不在内存中缓存整个文件
func (s *OSSStorage) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*StoredObject, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return nil, err
	}

	hash := sha256.New()
	counter := &countingReader{r: io.TeeReader(reader, hash)}
	if err := s.ossService.UploadFile(ctx, s.fullKey(key), counter, contentType); err != nil {
		return nil, s.err.New("上传到 OSS 失败", err)
	}

	if size >= 0 && counter.n != size {
		_ = s.ossService.DeleteFile(ctx, s.fullKey(key))
		return nil, s.err.New("文件大小不匹配", nil).ValidWithCtx()
	}

	sha256Sum := hex.EncodeToString(hash.Sum(nil))
	s.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"key":    s.fullKey(key),
		"size":   counter.n,
		"sha256": sha256Sum,
	}).Info("文件上传到 OSS 成功")

	return &StoredObject{
		Key:         key,
		Size:        counter.n,
		ContentType: contentType,
		SHA256:      sha256Sum,
		CreatedAt:   time.Now(),
	}, nil
}

func (s *OSSStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return nil, err
	}
	reader, err := s.ossService.DownloadFile(ctx, s.fullKey(key))
	if err != nil {
		return nil, s.err.New("从 OSS 下载失败", err)
	}
	return reader, nil
}

func (s *OSSStorage) Delete(ctx context.Context, key string) error {
	if err := ValidateArtifactKey(key); err != nil {
		return err
	}
	if err := s.ossService.DeleteFile(ctx, s.fullKey(key)); err != nil {
		return s.err.New("从 OSS 删除失败", err)
	}
	return nil
}

func (s *OSSStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return false, err
	}
	return s.ossService.Exists(ctx, s.fullKey(key))
}

// PresignGet 生成带签名的临时下载地址
func (s *OSSStorage) PresignGet(ctx context.Context, key, fileName string, expire time.Duration) (string, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return "", err
	}
	return s.ossService.GetDownloadUrl(ctx, s.fullKey(key), fileName, expire)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
