package config

import "strings"

// RocketMQConfig queue.mode 为 rocketmq 时使用
type RocketMQConfig struct {
	NameServer   string `yaml:"name-server" json:"name-server"`
	GroupPrefix  string `yaml:"group-prefix" json:"group-prefix"`
	TopicPrefix  string `yaml:"topic-prefix" json:"topic-prefix"`
	AccessKey    string `yaml:"access-key" json:"access-key"`
	AccessSecret string `yaml:"access-secret" json:"access-secret"`
	Retry        int    `yaml:"retry" json:"retry"`
}

// NameServers name-server 按逗号分隔
func (c RocketMQConfig) NameServers() []string {
	var out []string
	for _, s := range strings.Split(c.NameServer, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
