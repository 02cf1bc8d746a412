package config

import "time"

type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxAttempts int           `yaml:"max-attempts"`
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	LocalSize int           `yaml:"local-size"`
	TTL       time.Duration `yaml:"ttl"`
}
