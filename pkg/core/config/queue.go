package config

import "time"

// QueueConfig 异步任务队列配置
type QueueConfig struct {
	// Mode redis / rocketmq / memory，rocketmq 模式同样需要 redis
	Mode        string        `yaml:"mode"`
	Prefix      string        `yaml:"prefix"`
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max-attempts"`
	BaseBackoff time.Duration `yaml:"base-backoff"`
	MaxBackoff  time.Duration `yaml:"max-backoff"`
	// Lease 任务被取走后的可见性超时，超时未确认的任务会被重新投递
	Lease     time.Duration            `yaml:"lease"`
	DedupeTTL time.Duration            `yaml:"dedupe-ttl"`
	Timeouts  map[string]time.Duration `yaml:"timeouts"`
}

// TimeoutFor 获取指定任务类型的执行超时
func (q QueueConfig) TimeoutFor(kind string) time.Duration {
	if d, ok := q.Timeouts[kind]; ok && d > 0 {
		return d
	}
	return 5 * time.Minute
}
