package app

import (
	"context"
	"time"

	"deploymate/pkg/core/config"
	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/extractor"
	"deploymate/pkg/lock"
	"deploymate/pkg/mailer"
	"deploymate/pkg/ota"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/service"
	"deploymate/system/release/internal/service/storage"
	userdto "deploymate/system/user/api/dto"

	"github.com/go-redis/cache/v9"
)

// JobQueue 入队、注册处理函数与死信查询
type JobQueue interface {
	queue.Queue
	DeadLetters(ctx context.Context, kind string, limit int) ([]*queue.Job, error)
}

// ContactLookup 按用户 id 批量查询收件人，由用户组件客户端实现
type ContactLookup interface {
	GetContacts(ctx context.Context, ids []string) (map[string]userdto.UserContact, error)
}

// Deps 发布组件依赖，全部由组合根注入
type Deps struct {
	Releases  service.ReleaseStore
	Apps      service.AppStore
	Members   service.MemberStore
	Storage   storage.Storage
	Extractor extractor.Extractor
	Queue     JobQueue
	Locker    lock.LockManager
	Contacts  ContactLookup
	// Mailer 为 nil 表示未配置邮件，通知任务只记录日志
	Mailer mailer.Mailer
	Tokens *ota.TokenIssuer
	Origin ota.OriginConfig
	// Cache 为 nil 时不缓存
	Cache    *cache.Cache
	CacheTTL time.Duration
	Notify   config.NotifyConfig
	// ParseLockTTL 单个发布解析锁的有效期，应覆盖解析任务超时
	ParseLockTTL time.Duration
	// ParseDeferDelay 解析锁被占用时任务的延后间隔，默认 5s
	ParseDeferDelay time.Duration
}

// App 发布组件应用层
type App struct {
	ReleaseService    *service.ReleaseService
	MembershipService *service.MembershipService

	apps      service.AppStore
	storage   storage.Storage
	extractor extractor.Extractor
	queue     JobQueue
	locker    lock.LockManager
	contacts  ContactLookup
	mailer    mailer.Mailer
	tokens    *ota.TokenIssuer
	origin    ota.OriginConfig
	cache     *service.ReleaseCache
	notify    config.NotifyConfig
	lockTTL   time.Duration
	deferBy   time.Duration

	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewApp(deps Deps, log *logger.Log) *App {
	log = log.WithEntryName("ReleaseApp")
	lockTTL := deps.ParseLockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	deferBy := deps.ParseDeferDelay
	if deferBy <= 0 {
		deferBy = defaultParseDeferDelay
	}
	if deps.Notify.Concurrency <= 0 {
		deps.Notify.Concurrency = 4
	}
	return &App{
		ReleaseService:    service.NewReleaseService(deps.Releases, log),
		MembershipService: service.NewMembershipService(deps.Members, log),
		apps:              deps.Apps,
		storage:           deps.Storage,
		extractor:         deps.Extractor,
		queue:             deps.Queue,
		locker:            deps.Locker,
		contacts:          deps.Contacts,
		mailer:            deps.Mailer,
		tokens:            deps.Tokens,
		origin:            deps.Origin,
		cache:             service.NewReleaseCache(deps.Cache, deps.CacheTTL, log),
		notify:            deps.Notify,
		lockTTL:           lockTTL,
		deferBy:           deferBy,
		log:               log,
		err:               errorc.NewErrorBuilder("ReleaseApp"),
	}
}

// RegisterHandlers 注册两类任务的处理函数与死信回调
func (a *App) RegisterHandlers(q queue.Queue, onDeadLetter func(hook queue.DeadLetterHook)) error {
	if err := q.RegisterHandler(queue.KindBinaryParsing, a.HandleBinaryParsing); err != nil {
		return err
	}
	if err := q.RegisterHandler(queue.KindNotifications, a.HandleNotifications); err != nil {
		return err
	}
	if onDeadLetter != nil {
		onDeadLetter(a.OnDeadLetter)
	}
	return nil
}
