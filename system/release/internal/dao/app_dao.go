package dao

import (
	"context"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/mvc"
	"deploymate/system/release/internal/model"

	"gorm.io/gorm"
)

// AppDao 应用数据访问层
type AppDao struct {
	mvc.IBaseDao[model.App]
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewAppDao(db *gorm.DB, log *logger.Log) *AppDao {
	return &AppDao{
		IBaseDao: mvc.NewGormDao[model.App](db),
		log:      log.WithEntryName("AppDao"),
		err:      errorc.NewErrorBuilder("AppDao"),
	}
}

func (d *AppDao) FindByID(ctx context.Context, id string) (*model.App, error) {
	app, err := d.IBaseDao.FindById(ctx, id)
	if err != nil {
		if errorc.IsNotFound(err) {
			return nil, d.err.New("应用不存在", err).NotFound()
		}
		return nil, err
	}
	return app, nil
}
