package config

import (
	"context"
	"fmt"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Database struct {
	// Driver mysql 或 postgres，默认 mysql
	Driver   string `yaml:"driver" json:"driver,omitempty"`
	Host     string `yaml:"host" json:"host,omitempty"`
	Port     int64  `yaml:"port" json:"port,omitempty"`
	User     string `yaml:"user" json:"user,omitempty"`
	Password string `yaml:"password" json:"password,omitempty"`
	DbName   string `yaml:"db-name" json:"db-name,omitempty"`
	// MaxOpenConns 连接池大小，所有 worker 共享
	MaxOpenConns int  `yaml:"max-open-conns" json:"max-open-conns,omitempty"`
	LogSQL       bool `yaml:"log-sql" json:"log-sql,omitempty"`
}

func gormConfig(database Database) *gorm.Config {
	cfg := &gorm.Config{}
	if !database.LogSQL {
		cfg.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	return cfg
}

func configurePool(db *gorm.DB, database Database) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	maxOpen := database.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

func InitPg(database Database, proxyConfig ProxyConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable password=%s",
		database.Host, database.Port, database.User, database.DbName, database.Password)

	// 注意：PostgreSQL 驱动不支持自定义 dialer，代理需在网络层配置
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(database))
	if err != nil {
		return nil, err
	}
	if err := configurePool(db, database); err != nil {
		return nil, err
	}
	return db, nil
}

func InitMysql(database Database, proxyConfig ProxyConfig) (*gorm.DB, error) {
	network := "tcp"
	if proxyConfig.Enabled {
		// 注册自定义 dialer 到 MySQL 驱动
		network = fmt.Sprintf("proxy_%d", time.Now().UnixNano())
		dial := proxyConfig.GetContextDialer()
		mysqldriver.RegisterDialContext(network, func(ctx context.Context, addr string) (net.Conn, error) {
			return dial(ctx, "tcp", addr)
		})
	}

	dsn := fmt.Sprintf("%s:%s@%s(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		database.User, database.Password, network, database.Host, database.Port, database.DbName)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig(database))
	if err != nil {
		return nil, err
	}
	if err := configurePool(db, database); err != nil {
		return nil, err
	}
	return db, nil
}

// InitDB 按 Driver 选择数据库
func InitDB(database Database, proxyConfig ProxyConfig) (*gorm.DB, error) {
	switch database.Driver {
	case "", "mysql":
		return InitMysql(database, proxyConfig)
	case "postgres", "pg":
		return InitPg(database, proxyConfig)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", database.Driver)
	}
}
