package release

import (
	"context"
	"time"

	"deploymate/pkg/core/config"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/security"
	"deploymate/pkg/extractor"
	"deploymate/pkg/lock"
	"deploymate/pkg/mailer"
	"deploymate/pkg/ota"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/app"
	"deploymate/system/release/internal/dao"

	"github.com/go-redis/cache/v9"
	"gorm.io/gorm"
)

// Options 发布组件装配参数
type Options struct {
	DB       *gorm.DB
	Storage  StorageOptions
	Queue    *queue.Manager
	Locker   lock.LockManager
	Contacts app.ContactLookup
	Mailer   mailer.Mailer
	Tokens   *ota.TokenIssuer
	Origin   ota.OriginConfig
	Cache    *cache.Cache
	CacheTTL time.Duration
	Notify   config.NotifyConfig
	ParseTTL time.Duration
	Session  *security.SessionAuth
}

// Module 发布组件模块门面
type Module struct {
	internalApp *app.App
	queue       *queue.Manager
	sessionAuth *security.SessionAuth
	log         *logger.Log
}

// NewModule 装配发布组件并注册任务处理函数，队列需在此之后 Start
func NewModule(opts Options, log *logger.Log) (*Module, error) {
	store, err := newStorage(opts.Storage, log)
	if err != nil {
		log.WithErr(err).WithField("mode", opts.Storage.Storage.Mode).Error("初始化制品存储失败")
		return nil, err
	}
	log.WithField("mode", store.Mode()).Info("制品存储已就绪")

	internalApp := app.NewApp(app.Deps{
		Releases:     dao.NewReleaseDao(opts.DB, log),
		Apps:         dao.NewAppDao(opts.DB, log),
		Members:      dao.NewGroupDao(opts.DB, log),
		Storage:      store,
		Extractor:    extractor.NewArchiveExtractor(),
		Queue:        opts.Queue,
		Locker:       opts.Locker,
		Contacts:     opts.Contacts,
		Mailer:       opts.Mailer,
		Tokens:       opts.Tokens,
		Origin:       opts.Origin,
		Cache:        opts.Cache,
		CacheTTL:     opts.CacheTTL,
		Notify:       opts.Notify,
		ParseLockTTL: opts.ParseTTL,
	}, log)

	if err := internalApp.RegisterHandlers(opts.Queue, opts.Queue.OnDeadLetter); err != nil {
		return nil, err
	}
	return &Module{
		internalApp: internalApp,
		queue:       opts.Queue,
		sessionAuth: opts.Session,
		log:         log,
	}, nil
}

// ReportDeadLetters 汇总死信数量写入日志，供定时任务调用
func (m *Module) ReportDeadLetters(ctx context.Context) error {
	views, err := m.internalApp.DeadLetters(ctx, 200)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, v := range views {
		counts[v.Kind]++
	}
	m.log.WithField("counts", counts).Warn("存在待处理的死信任务")
	return nil
}
