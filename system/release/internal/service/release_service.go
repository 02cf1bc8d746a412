package service

import (
	"context"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/system/release/internal/model"
)

// ReleaseStore 发布记录存储，由 dao.ReleaseDao 实现
type ReleaseStore interface {
	Create(ctx context.Context, release *model.Release) error
	FindByID(ctx context.Context, id string) (*model.Release, error)
	CompleteParsing(ctx context.Context, id string, res model.ParseResult) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	ListByApp(ctx context.Context, appID string, limit int) ([]*model.Release, error)
}

// AppStore 应用查询，由 dao.AppDao 实现
type AppStore interface {
	FindByID(ctx context.Context, id string) (*model.App, error)
}

// ReleaseService 发布记录服务，所有状态写入先经状态机校验再做 CAS 更新
type ReleaseService struct {
	store ReleaseStore
	log   *logger.Log
	err   *errorc.ErrorBuilder
}

func NewReleaseService(store ReleaseStore, log *logger.Log) *ReleaseService {
	return &ReleaseService{
		store: store,
		log:   log.WithEntryName("ReleaseService"),
		err:   errorc.NewErrorBuilder("ReleaseService"),
	}
}

func (s *ReleaseService) Create(ctx context.Context, release *model.Release) error {
	if !release.Status.Valid() {
		release.Status = model.ReleaseStatusProcessing
	}
	if release.Status.Terminal() {
		return s.err.New("新建发布不能处于终态", nil).ValidWithCtx()
	}
	return s.store.Create(ctx, release)
}

func (s *ReleaseService) FindByID(ctx context.Context, id string) (*model.Release, error) {
	return s.store.FindByID(ctx, id)
}

func (s *ReleaseService) ListByApp(ctx context.Context, appID string, limit int) ([]*model.Release, error) {
	return s.store.ListByApp(ctx, appID, limit)
}

// CompleteParsing 写入解析结果并迁移到 READY
// CAS 未命中时重新读取：已是 READY 视为重放收敛，返回 (false, nil)；其他状态返回 Conflict
func (s *ReleaseService) CompleteParsing(ctx context.Context, id string, res model.ParseResult) (bool, error) {
	updated, err := s.store.CompleteParsing(ctx, id, res)
	if err != nil {
		return false, err
	}
	if updated {
		return true, nil
	}

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if err := model.Transition(current.Status, model.ReleaseStatusReady); err != nil {
		return false, err
	}
	return false, nil
}

// MarkFailed 迁移到 FAILED，已处于 FAILED 时幂等
func (s *ReleaseService) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	updated, err := s.store.MarkFailed(ctx, id, reason)
	if err != nil || updated {
		return updated, err
	}

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if err := model.Transition(current.Status, model.ReleaseStatusFailed); err != nil {
		return false, err
	}
	return false, nil
}

// MarkProcessing UPLOADING -> PROCESSING，已处于 PROCESSING 时幂等
func (s *ReleaseService) MarkProcessing(ctx context.Context, id string) (bool, error) {
	updated, err := s.store.MarkProcessing(ctx, id)
	if err != nil || updated {
		return updated, err
	}

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if err := model.Transition(current.Status, model.ReleaseStatusProcessing); err != nil {
		return false, err
	}
	return false, nil
}
