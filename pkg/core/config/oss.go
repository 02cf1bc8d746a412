package config

// OssConfig OSS配置结构体
type OssConfig struct {
	AccessKeyID     string `yaml:"access-key"`       // 访问密钥ID
	AccessKeySecret string `yaml:"access-secret"`    // 访问密钥Secret
	Bucket          string `yaml:"bucket-name"`      // 存储空间名称
	Domain          string `yaml:"domain"`           // 绑定的自定义域名
	Region          string `yaml:"region,omitempty"` // 区域
}

// S3Config 兼容 S3 协议的对象存储（MinIO 等）
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
	Bucket    string `yaml:"bucket-name"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use-ssl"`
}

// StorageConfig 制品存储配置
type StorageConfig struct {
	// Mode local / oss / s3
	Mode     string `yaml:"mode"`
	LocalDir string `yaml:"local-dir"`
	// Prefix 对象存储中的 key 前缀
	Prefix string `yaml:"prefix"`
}
