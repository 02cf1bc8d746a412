package dao

import (
	"context"
	"errors"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/mvc"
	"deploymate/system/user/internal/model"

	"gorm.io/gorm"
)

// UserDao 用户数据访问层
type UserDao struct {
	mvc.IBaseDao[model.User]
	log *logger.Log
	err *errorc.ErrorBuilder
	db  *gorm.DB
}

func NewUserDao(db *gorm.DB, log *logger.Log) *UserDao {
	return &UserDao{
		IBaseDao: mvc.NewGormDao[model.User](db),
		log:      log,
		err:      errorc.NewErrorBuilder("UserDao"),
		db:       db,
	}
}

// FindByEmail 根据邮箱查询用户
func (d *UserDao) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := d.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, d.err.New("用户不存在", err).WithCode(errorc.ErrorCodeNotFound)
		}
		return nil, d.err.New("查询用户失败", err).DB()
	}
	return &user, nil
}

// FindByIDs 批量查询用户，不存在的 id 直接忽略
func (d *UserDao) FindByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	var users []*model.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, d.err.New("批量查询用户失败", err).DB()
	}
	return users, nil
}

// ExistsByEmail 检查邮箱是否已被使用
func (d *UserDao) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	if err != nil {
		return false, d.err.New("检查邮箱是否存在失败", err).DB()
	}
	return count > 0, nil
}

// Count 查询用户总数
func (d *UserDao) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		return 0, d.err.New("查询用户数量失败", err).DB()
	}
	return count, nil
}
