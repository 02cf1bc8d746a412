package start

import (
	"fmt"
	"time"

	"deploymate/pkg/core/config"
	"deploymate/pkg/core/consts"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/security"

	"github.com/bsm/redislock"
	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Config struct {
	AppName   string                 `yaml:"app-name"`
	Env       string                 `yaml:"env"`
	Port      int                    `yaml:"port"`
	LogLevel  string                 `yaml:"log-level"`
	Jwt       config.JwtConfig       `yaml:"jwt"`
	Redis     config.RedisConfig     `yaml:"redis"`
	Database  config.Database        `yaml:"db"`
	Oss       config.OssConfig       `yaml:"oss"`
	S3        config.S3Config        `yaml:"s3"`
	Storage   config.StorageConfig   `yaml:"storage"`
	Proxy     config.ProxyConfig     `yaml:"proxy"`
	Ota       config.OtaConfig       `yaml:"ota"`
	Queue     config.QueueConfig     `yaml:"queue"`
	RocketMQ  config.RocketMQConfig  `yaml:"rocketmq"`
	Notify    config.NotifyConfig    `yaml:"notify"`
	Mail      config.MailConfig      `yaml:"mail"`
	RateLimit config.RateLimitConfig `yaml:"rate-limit"`
	Cache     config.CacheConfig     `yaml:"cache"`
}

type Configures struct {
	Config      Config
	Logger      *logger.Log
	SessionAuth *security.SessionAuth
}

// ParseConfig 解析 YAML 配置并补齐默认值，env 非空时覆盖文件中的 env
func ParseConfig(file []byte, env string) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return cfg, fmt.Errorf("读取文件信息失败，因为%v", err)
	}
	if env != "" {
		cfg.Env = env
	}
	cfg.applyDefaults()
	return cfg, nil
}

func NewConfigures(file []byte, env string) *Configures {
	cfg, err := ParseConfig(file, env)
	if err != nil {
		panic(err.Error())
	}

	level := cfg.LogLevel
	if level == "" {
		level = "debug"
	}
	c := &Configures{
		Config: cfg,
		Logger: logger.InitLogger(level, cfg.Env == consts.EnvProd),
	}
	c.SessionAuth = c.EnableSessionAuth()
	return c
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "deploymate"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Jwt.ExpireTime <= 0 {
		c.Jwt.ExpireTime = 7 * 24 * time.Hour
	}
	if c.Storage.Mode == "" {
		c.Storage.Mode = "local"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "./data/artifacts"
	}
	if c.Ota.TokenTTL <= 0 {
		c.Ota.TokenTTL = 24 * time.Hour
	}
	if c.Ota.TokenSecret == "" {
		c.Ota.TokenSecret = c.Jwt.Secret
	}
	if c.Queue.Mode == "" {
		c.Queue.Mode = "redis"
	}
	if c.Queue.Prefix == "" {
		c.Queue.Prefix = "deploymate:queue"
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 2
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 5
	}
	if c.Queue.BaseBackoff <= 0 {
		c.Queue.BaseBackoff = 2 * time.Second
	}
	if c.Queue.MaxBackoff <= 0 {
		c.Queue.MaxBackoff = 5 * time.Minute
	}
	if c.Queue.Lease <= 0 {
		c.Queue.Lease = 10 * time.Minute
	}
	if c.Queue.DedupeTTL <= 0 {
		c.Queue.DedupeTTL = 24 * time.Hour
	}
	if c.Notify.Concurrency <= 0 {
		c.Notify.Concurrency = 8
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = 15 * time.Minute
	}
	if c.RateLimit.MaxAttempts <= 0 {
		c.RateLimit.MaxAttempts = 10
	}
	if c.Cache.LocalSize <= 0 {
		c.Cache.LocalSize = 1000
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Minute
	}
}

// Production 生产模式：env=prod 或显式要求 https
func (c Config) Production() bool {
	return c.Env == consts.EnvProd || c.Ota.RequireHTTPS
}

func (c *Configures) EnableSessionAuth() *security.SessionAuth {
	return security.NewSessionAuth([]byte(c.Config.Jwt.Secret), c.Config.Jwt.ExpireTime)
}

func (c *Configures) EnableRedis() redis.UniversalClient {
	return config.InitRDB(c.Config.Redis, c.Config.Proxy)
}

func (c *Configures) EnableCache(rdb redis.UniversalClient) *cache.Cache {
	return cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(c.Config.Cache.LocalSize, c.Config.Cache.TTL),
	})
}

func (c *Configures) EnableLocker(rdb redis.UniversalClient) *redislock.Client {
	return redislock.New(rdb)
}

func (c *Configures) EnableDB() *gorm.DB {
	db, err := config.InitDB(c.Config.Database, c.Config.Proxy)
	if err != nil {
		c.Logger.WithField("database", c.Config.Database.Host).WithField("err", err).Panic("failed connect database")
	}
	c.Logger.Info("connect database success")
	return db
}
