package dao

import (
	"context"
	"database/sql"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/system/release/internal/model"
	"deploymate/system/release/internal/service"

	"gorm.io/gorm"
)

// GroupDao 分发组成员查询
type GroupDao struct {
	log *logger.Log
	err *errorc.ErrorBuilder
	db  *gorm.DB
}

func NewGroupDao(db *gorm.DB, log *logger.Log) *GroupDao {
	return &GroupDao{
		log: log.WithEntryName("GroupDao"),
		err: errorc.NewErrorBuilder("GroupDao"),
		db:  db,
	}
}

// InReadTx 在只读、可重复读的事务中执行 fn，两次成员查询看到同一快照
func (d *GroupDao) InReadTx(ctx context.Context, fn func(r service.MemberReader) error) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&groupReader{tx: tx, err: d.err})
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		if _, ok := err.(*errorc.Error); ok {
			return err
		}
		return d.err.New("成员查询事务失败", err).DB()
	}
	return nil
}

type groupReader struct {
	tx  *gorm.DB
	err *errorc.ErrorBuilder
}

func (r *groupReader) AppGroupMembers(ctx context.Context, groupIDs []string) ([]string, error) {
	var userIDs []string
	err := r.tx.WithContext(ctx).Model(&model.AppGroupMember{}).
		Where("group_id IN ?", groupIDs).
		Distinct("user_id").Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, r.err.New("查询应用分发组成员失败", err).DB()
	}
	return userIDs, nil
}

func (r *groupReader) OrgGroupMembers(ctx context.Context, groupIDs []string) ([]string, error) {
	var userIDs []string
	err := r.tx.WithContext(ctx).Model(&model.OrgGroupMember{}).
		Where("group_id IN ?", groupIDs).
		Distinct("user_id").Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, r.err.New("查询组织分发组成员失败", err).DB()
	}
	return userIDs, nil
}

func (d *GroupDao) OwnedAppGroups(ctx context.Context, appID string, groupIDs []string) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ctx).Model(&model.AppGroup{}).
		Where("id IN ? AND app_id = ?", groupIDs, appID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, d.err.New("查询应用分发组归属失败", err).DB()
	}
	return ids, nil
}

func (d *GroupDao) OwnedOrgGroups(ctx context.Context, orgID string, groupIDs []string) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ctx).Model(&model.OrgGroup{}).
		Where("id IN ? AND org_id = ?", groupIDs, orgID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, d.err.New("查询组织分发组归属失败", err).DB()
	}
	return ids, nil
}
