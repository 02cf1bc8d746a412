package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	baseDir string
	log     *logger.Log
	err     *errorc.ErrorBuilder
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(baseDir string, log *logger.Log) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		log:     log.WithEntryName("LocalStorage"),
		err:     errorc.NewErrorBuilder("LocalStorage"),
	}, nil
}

func (s *LocalStorage) Mode() string {
	return ModeLocal
}

// Put 先写临时文件再 rename，读到的对象总是完整的
func (s *LocalStorage) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*StoredObject, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, s.err.New("创建目录失败", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, s.err.New("创建临时文件失败", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmpFile, hash), reader)
	if err != nil {
		return nil, s.err.New("写入文件失败", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, s.err.New("写入文件失败", err)
	}

	if size >= 0 && written != size {
		return nil, s.err.New(fmt.Sprintf("文件大小不匹配: 期望 %d, 实际 %d", size, written), nil).ValidWithCtx()
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		return nil, s.err.New("移动文件失败", err)
	}

	sha256Sum := hex.EncodeToString(hash.Sum(nil))
	s.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"key":    key,
		"size":   written,
		"sha256": sha256Sum,
	}).Info("文件上传成功")

	return &StoredObject{
		Key:         key,
		Size:        written,
		ContentType: contentType,
		SHA256:      sha256Sum,
		CreatedAt:   time.Now(),
	}, nil
}

func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, s.err.New("文件不存在", err).NotFound()
		}
		return nil, s.err.New("打开文件失败", err)
	}
	return file, nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ValidateArtifactKey(key); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return s.err.New("删除文件失败", err)
	}

	s.log.WithField("key", key).Info("文件删除成功")
	return nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateArtifactKey(key); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, s.err.New("检查文件是否存在失败", err)
	}
	return true, nil
}
