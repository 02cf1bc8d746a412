package release

import (
	"deploymate/pkg/core/logger"
	"deploymate/system/release/internal/model"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表
func AutoMigrate(db *gorm.DB, log *logger.Log) error {
	log.Info("开始迁移发布组件数据库表...")

	models := []interface{}{
		&model.App{},
		&model.AppGroup{},
		&model.OrgGroup{},
		&model.AppGroupMember{},
		&model.OrgGroupMember{},
		&model.Release{},
	}
	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			log.WithErr(err).Error("迁移发布组件表失败")
			return err
		}
	}

	log.Info("发布组件数据库表迁移完成")
	return nil
}
