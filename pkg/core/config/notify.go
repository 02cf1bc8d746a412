package config

// NotifyConfig 新版本通知配置
type NotifyConfig struct {
	Concurrency int `yaml:"concurrency"`
	// FailureThreshold 失败比例阈值，0 表示不启用
	FailureThreshold       float64 `yaml:"failure-threshold"`
	ThresholdMinRecipients int     `yaml:"threshold-min-recipients"`
}

// MailConfig SMTP 配置，Host 为空视为未配置
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use-tls"`
}

func (m MailConfig) Configured() bool {
	return m.Host != "" && m.From != ""
}
