package app

import (
	"context"
	"fmt"
	"time"

	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/start"
	"deploymate/pkg/lock"
	"deploymate/pkg/mailer"
	"deploymate/pkg/ota"
	"deploymate/pkg/queue"
	"deploymate/pkg/ratelimit"
	"deploymate/pkg/scheduler"
	"deploymate/system/release"
	"deploymate/system/user"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	rateLimitPrefix = "deploymate:ratelimit"
	lockPrefix      = "deploymate:lock:"
)

// App 应用组合根，持有基础设施与各组件模块
type App struct {
	Config start.Config

	DB          *gorm.DB
	RDB         redis.UniversalClient
	Queue       *queue.Manager
	LockManager lock.LockManager
	Scheduler   *scheduler.Scheduler

	UserModule    *user.Module
	ReleaseModule *release.Module

	broker queue.Broker
	log    *logger.Log
}

// NewApp 按配置装配基础设施与组件。队列为 redis / rocketmq 模式时多实例共享任务、锁与限流计数，
// memory 模式只适合单实例与本地开发
func NewApp(configures *start.Configures, db *gorm.DB, zapLogger *zap.Logger) (*App, error) {
	cfg := configures.Config
	log := configures.Logger.WithEntryName("App")

	a := &App{
		Config: cfg,
		DB:     db,
		log:    log,
	}

	distributed := cfg.Queue.Mode != "memory"
	var limiter ratelimit.Limiter
	if distributed {
		a.RDB = configures.EnableRedis()
		if err := a.RDB.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		if cfg.Queue.Mode == "rocketmq" {
			broker, err := queue.NewRocketMQBroker(queue.RocketMQOptions{
				NameServer:   cfg.RocketMQ.NameServers(),
				GroupPrefix:  cfg.RocketMQ.GroupPrefix,
				TopicPrefix:  cfg.RocketMQ.TopicPrefix,
				AccessKey:    cfg.RocketMQ.AccessKey,
				AccessSecret: cfg.RocketMQ.AccessSecret,
				Retry:        cfg.RocketMQ.Retry,
				Env:          cfg.Env,
				Prefix:       cfg.Queue.Prefix,
				Lease:        cfg.Queue.Lease,
			}, a.RDB, zapLogger.Named("rocketmq"))
			if err != nil {
				return nil, fmt.Errorf("初始化 RocketMQ 失败: %w", err)
			}
			a.broker = broker
		} else {
			a.broker = queue.NewRedisBroker(a.RDB, cfg.Queue.Prefix)
		}
		a.LockManager = lock.NewRedisLockManager(configures.EnableLocker(a.RDB), lockPrefix)
		limiter = ratelimit.NewRedisLimiter(a.RDB, rateLimitPrefix, cfg.RateLimit.Window, cfg.RateLimit.MaxAttempts)
	} else {
		log.Warn("队列使用内存模式，任务不会跨进程共享，重启后丢失")
		a.broker = queue.NewMemoryBroker()
		a.LockManager = lock.NewLocalLockManager()
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxAttempts)
	}

	a.Queue = queue.NewManager(a.broker, queue.Options{
		Concurrency: cfg.Queue.Concurrency,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseBackoff: cfg.Queue.BaseBackoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
		Lease:       cfg.Queue.Lease,
		DedupeTTL:   cfg.Queue.DedupeTTL,
		Timeout:     cfg.Queue.TimeoutFor,
	}, zapLogger)

	a.UserModule = user.NewModule(db, limiter, configures.SessionAuth, configures.Logger)

	var mail mailer.Mailer
	if smtp, ok := mailer.NewSMTPMailer(cfg.Mail, cfg.Proxy); ok {
		mail = smtp
	} else {
		log.Warn("未配置邮件服务，新版本通知只记录日志")
	}

	var releaseCache *cache.Cache
	if cfg.Cache.Enabled {
		releaseCache = configures.EnableCache(a.RDB)
	}

	releaseModule, err := release.NewModule(release.Options{
		DB: db,
		Storage: release.StorageOptions{
			Storage: cfg.Storage,
			Oss:     cfg.Oss,
			S3:      cfg.S3,
			Proxy:   cfg.Proxy,
		},
		Queue:    a.Queue,
		Locker:   a.LockManager,
		Contacts: a.UserModule.Client,
		Mailer:   mail,
		Tokens:   ota.NewTokenIssuer([]byte(cfg.Ota.TokenSecret), cfg.Ota.TokenTTL),
		Origin: ota.OriginConfig{
			BaseURL:      cfg.Ota.BaseURL,
			RequireHTTPS: cfg.Production(),
		},
		Cache:    releaseCache,
		CacheTTL: cfg.Cache.TTL,
		Notify:   cfg.Notify,
		ParseTTL: cfg.Queue.TimeoutFor(queue.KindBinaryParsing),
		Session:  configures.SessionAuth,
	}, configures.Logger)
	if err != nil {
		return nil, err
	}
	a.ReleaseModule = releaseModule

	a.Scheduler = scheduler.NewScheduler(a.LockManager, scheduler.DefaultSchedulerConfig(), configures.Logger)
	if err := a.registerTasks(); err != nil {
		return nil, err
	}
	return a, nil
}

// registerTasks 注册队列维护任务。到期重试的提升与租约回收由 leader 执行
func (a *App) registerTasks() error {
	promote := scheduler.NewIntervalTask(
		"提升到期重试任务",
		time.Now(),
		time.Second,
		scheduler.TaskExecuteModeDistributed,
		10*time.Second,
		a.Queue.PromoteDue,
	)
	if err := a.Scheduler.AddTask(promote); err != nil {
		return fmt.Errorf("添加重试提升任务失败: %w", err)
	}

	reclaim := scheduler.NewIntervalTask(
		"回收租约过期任务",
		time.Now(),
		30*time.Second,
		scheduler.TaskExecuteModeDistributed,
		time.Minute,
		a.Queue.ReclaimExpired,
	)
	if err := a.Scheduler.AddTask(reclaim); err != nil {
		return fmt.Errorf("添加租约回收任务失败: %w", err)
	}

	report, err := scheduler.NewCronTask(
		"死信任务巡检",
		"0 */10 * * * *",
		scheduler.TaskExecuteModeDistributed,
		time.Minute,
		a.ReleaseModule.ReportDeadLetters,
	)
	if err != nil {
		return fmt.Errorf("创建死信巡检任务失败: %w", err)
	}
	if err := a.Scheduler.AddTask(report); err != nil {
		return fmt.Errorf("添加死信巡检任务失败: %w", err)
	}
	return nil
}

// Start 启动调度器与任务 worker
func (a *App) Start() error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("启动调度器失败: %w", err)
	}
	if err := a.Queue.Start(); err != nil {
		return fmt.Errorf("启动任务队列失败: %w", err)
	}
	return nil
}

// Close 按依赖逆序释放资源，执行中的任务会先完成
func (a *App) Close() {
	a.log.Info("正在停止应用...")

	a.Queue.Stop()
	if err := a.broker.Close(); err != nil {
		a.log.WithErr(err).Warn("关闭任务队列失败")
	}
	if err := a.Scheduler.Stop(); err != nil {
		a.log.WithErr(err).Warn("停止调度器失败")
	}
	if err := a.LockManager.Close(); err != nil {
		a.log.WithErr(err).Warn("关闭锁管理器失败")
	}
	if a.RDB != nil {
		if err := a.RDB.Close(); err != nil {
			a.log.WithErr(err).Warn("关闭 Redis 失败")
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	a.log.Info("应用已停止")
}
