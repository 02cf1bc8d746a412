package config

import (
	"context"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	// Mode single 为单机，其余按哨兵模式处理
	Mode     string `yaml:"mode"`
	Host     string `yaml:"host"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// MasterName 哨兵模式下的主节点名
	MasterName string `yaml:"master-name"`
}

// InitRDB 创建 Redis 客户端，返回的 UniversalClient 由调用方在退出时 Close
func InitRDB(redisConfig RedisConfig, proxyConfig ProxyConfig) redis.UniversalClient {
	var dialer func(ctx context.Context, network, addr string) (net.Conn, error)
	if proxyConfig.Enabled {
		dialer = proxyConfig.GetContextDialer()
	}

	if redisConfig.Mode == "single" || redisConfig.Mode == "" {
		return redis.NewClient(&redis.Options{
			Addr:     redisConfig.Host,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
			Dialer:   dialer,
		})
	}

	masterName := redisConfig.MasterName
	if masterName == "" {
		masterName = "mymaster"
	}
	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       masterName,
		SentinelAddrs:    strings.Split(redisConfig.Host, ","),
		Password:         redisConfig.Password,
		SentinelPassword: redisConfig.Password,
		DB:               redisConfig.DB,
		Dialer:           dialer,
	})
}
