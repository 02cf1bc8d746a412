package dao

import (
	"context"
	"time"
	"unicode/utf8"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/mvc"
	"deploymate/system/release/internal/model"

	"gorm.io/gorm"
)

// ReleaseDao 发布记录数据访问层，状态写入均带前驱状态条件（CAS）
type ReleaseDao struct {
	mvc.IBaseDao[model.Release]
	log *logger.Log
	err *errorc.ErrorBuilder
	db  *gorm.DB
}

func NewReleaseDao(db *gorm.DB, log *logger.Log) *ReleaseDao {
	return &ReleaseDao{
		IBaseDao: mvc.NewGormDao[model.Release](db),
		log:      log.WithEntryName("ReleaseDao"),
		err:      errorc.NewErrorBuilder("ReleaseDao"),
		db:       db,
	}
}

// FindByID 查询发布记录，不存在时返回 NotFound
func (d *ReleaseDao) FindByID(ctx context.Context, id string) (*model.Release, error) {
	release, err := d.IBaseDao.FindById(ctx, id)
	if err != nil {
		if errorc.IsNotFound(err) {
			return nil, d.err.New("发布记录不存在", err).NotFound()
		}
		return nil, err
	}
	return release, nil
}

// CompleteParsing 一条 UPDATE 写入解析结果并迁移到 READY，返回是否命中
func (d *ReleaseDao) CompleteParsing(ctx context.Context, id string, res model.ParseResult) (bool, error) {
	now := time.Now()
	tx := d.db.WithContext(ctx).Model(&model.Release{}).
		Where("id = ? AND status IN ?", id, model.Predecessors(model.ReleaseStatusReady)).
		Updates(map[string]interface{}{
			"version":             res.Version,
			"build_number":        res.BuildNumber,
			"file_size":           res.FileSize,
			"min_os_version":      res.MinOSVersion,
			"extracted_bundle_id": res.BundleID,
			"status":              model.ReleaseStatusReady,
			"processed_at":        &now,
		})
	if tx.Error != nil {
		return false, d.err.New("写入解析结果失败", tx.Error).DB()
	}
	return tx.RowsAffected > 0, nil
}

// maxFailureReason 与 failure_reason 列宽一致，按字符计
const maxFailureReason = 1000

// truncateRunes 按字符截断，不会切开多字节字符
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// MarkFailed 迁移到 FAILED，仅在前驱状态下生效
func (d *ReleaseDao) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	reason = truncateRunes(reason, maxFailureReason)
	tx := d.db.WithContext(ctx).Model(&model.Release{}).
		Where("id = ? AND status IN ?", id, model.Predecessors(model.ReleaseStatusFailed)).
		Updates(map[string]interface{}{
			"status":         model.ReleaseStatusFailed,
			"failure_reason": reason,
		})
	if tx.Error != nil {
		return false, d.err.New("标记发布失败状态失败", tx.Error).DB()
	}
	return tx.RowsAffected > 0, nil
}

// MarkProcessing UPLOADING -> PROCESSING
func (d *ReleaseDao) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tx := d.db.WithContext(ctx).Model(&model.Release{}).
		Where("id = ? AND status IN ?", id, model.Predecessors(model.ReleaseStatusProcessing)).
		Update("status", model.ReleaseStatusProcessing)
	if tx.Error != nil {
		return false, d.err.New("更新发布状态失败", tx.Error).DB()
	}
	return tx.RowsAffected > 0, nil
}

// ListByApp 按创建时间倒序列出应用的发布记录
func (d *ReleaseDao) ListByApp(ctx context.Context, appID string, limit int) ([]*model.Release, error) {
	var list []*model.Release
	q := d.db.WithContext(ctx).Where("app_id = ?", appID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, d.err.New("查询发布列表失败", err).DB()
	}
	return list, nil
}
