package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deploymate/pkg/core/config"
	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
)

// AliyunService 阿里云OSS服务实现
type AliyunService struct {
	config *config.OssConfig
	client *oss.Client
	log    *logger.Log
	err    *errorc.ErrorBuilder
}

// NewAliyunService 创建阿里云OSS服务实例，proxy 为空时直连
func NewAliyunService(cfg *config.OssConfig, proxy *config.ProxyConfig, log *logger.Log) (*AliyunService, error) {
	log = log.WithEntryName("AliyunOSSService")
	errBuilder := errorc.NewErrorBuilder("AliyunOSSService")

	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.Bucket == "" {
		return nil, errBuilder.New("阿里云配置不完整", nil).ValidWithCtx().ToLog(log.Entry)
	}

	provider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")
	ossCfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(provider).
		WithRegion(cfg.Region)

	if cfg.Domain != "" {
		ossCfg = ossCfg.WithEndpoint(cfg.Domain).WithUseCName(true)
	}
	if proxy != nil && proxy.Enabled {
		ossCfg = ossCfg.WithHttpClient(&http.Client{Transport: proxy.GetHTTPTransport()})
	}

	log.Info("阿里云OSS服务初始化完成")
	return &AliyunService{
		config: cfg,
		client: oss.NewClient(ossCfg),
		log:    log,
		err:    errBuilder,
	}, nil
}

func normalizeKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, "/")
}

// IsNotFound 判断是否为对象不存在
func IsNotFound(err error) bool {
	var serr *oss.ServiceError
	if errors.As(err, &serr) {
		return serr.StatusCode == http.StatusNotFound || serr.Code == "NoSuchKey"
	}
	return false
}

// GetDownloadUrl 获取带签名的下载URL，name 非空时附带下载文件名
func (s *AliyunService) GetDownloadUrl(ctx context.Context, objectKey string, name string, expire time.Duration) (string, error) {
	s.log.WithTrace(ctx).WithField("objectKey", objectKey).Debug("获取阿里云文件下载URL")

	if expire <= 0 {
		expire = 5 * time.Minute
	}

	request := &oss.GetObjectRequest{
		Bucket: oss.Ptr(s.config.Bucket),
		Key:    oss.Ptr(normalizeKey(objectKey)),
	}
	if name != "" {
		request.ResponseContentDisposition = oss.Ptr(fmt.Sprintf("attachment;filename=%s", name))
	}
	result, err := s.client.Presign(ctx, request, oss.PresignExpires(expire))
	if err != nil {
		return "", s.err.New("生成下载URL失败", err).Third().WithTraceID(ctx)
	}
	return result.URL, nil
}

// DownloadFile 直接下载文件内容，对象不存在时返回 NotFound
func (s *AliyunService) DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	request := &oss.GetObjectRequest{
		Bucket: oss.Ptr(s.config.Bucket),
		Key:    oss.Ptr(normalizeKey(objectKey)),
	}

	result, err := s.client.GetObject(ctx, request)
	if err != nil {
		if IsNotFound(err) {
			return nil, s.err.New("文件不存在", err).NotFound().WithTraceID(ctx)
		}
		return nil, s.err.New("下载阿里云文件失败", err).Third().WithTraceID(ctx)
	}
	return result.Body, nil
}

// UploadFile 上传文件
func (s *AliyunService) UploadFile(ctx context.Context, objectKey string, reader io.Reader, contentType string) error {
	s.log.WithTrace(ctx).WithField("objectKey", objectKey).Info("上传文件到阿里云OSS")

	request := &oss.PutObjectRequest{
		Bucket: oss.Ptr(s.config.Bucket),
		Key:    oss.Ptr(normalizeKey(objectKey)),
		Body:   reader,
	}
	if contentType != "" {
		request.ContentType = oss.Ptr(contentType)
	}

	if _, err := s.client.PutObject(ctx, request); err != nil {
		return s.err.New("上传文件到阿里云OSS失败", err).Third().WithTraceID(ctx)
	}
	return nil
}

// DeleteFile 删除文件，对象不存在不算错误
func (s *AliyunService) DeleteFile(ctx context.Context, objectKey string) error {
	request := &oss.DeleteObjectRequest{
		Bucket: oss.Ptr(s.config.Bucket),
		Key:    oss.Ptr(normalizeKey(objectKey)),
	}

	if _, err := s.client.DeleteObject(ctx, request); err != nil {
		return s.err.New("删除阿里云文件失败", err).Third().WithTraceID(ctx)
	}
	s.log.WithTrace(ctx).WithField("objectKey", objectKey).Info("已删除阿里云文件")
	return nil
}

// Exists 检查对象是否存在
func (s *AliyunService) Exists(ctx context.Context, objectKey string) (bool, error) {
	ok, err := s.client.IsObjectExist(ctx, s.config.Bucket, normalizeKey(objectKey))
	if err != nil {
		return false, s.err.New("检查阿里云文件失败", err).Third().WithTraceID(ctx)
	}
	return ok, nil
}
