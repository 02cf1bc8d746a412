package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deploymate/app"
	"deploymate/pkg/core/start"
	"deploymate/router"
	"deploymate/system/release"
	"deploymate/system/user"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	env, filename := getBaseInfo()

	file, err := os.ReadFile(filename)
	if err != nil {
		panic(fmt.Sprintf("读取配置文件失败,因为：%v", err))
	}

	configures := start.NewConfigures(file, env)
	log := configures.Logger

	db := configures.EnableDB()

	// 执行数据库迁移
	if err := user.AutoMigrate(db, log); err != nil {
		log.Panic(fmt.Sprintf("用户组件数据库迁移失败: %v", err))
	}
	if err := release.AutoMigrate(db, log); err != nil {
		log.Panic(fmt.Sprintf("发布组件数据库迁移失败: %v", err))
	}

	// 任务队列使用 zap 输出
	zapLogger, err := createZapLogger(configures.Config.Env)
	if err != nil {
		log.Panic(fmt.Sprintf("创建 zap logger 失败: %v", err))
	}
	defer func() { _ = zapLogger.Sync() }()

	// 创建应用组合根
	appRoot, err := app.NewApp(configures, db, zapLogger)
	if err != nil {
		log.Panic(fmt.Sprintf("初始化应用失败: %v", err))
	}

	// 用户表为空时创建默认管理员
	if err := appRoot.UserModule.EnsureBootstrapUser(context.Background()); err != nil {
		log.Panic(fmt.Sprintf("初始化默认管理员失败: %v", err))
	}

	if err := appRoot.Start(); err != nil {
		log.Panic(err.Error())
	}

	// 请求体上限需容纳安装包
	fiberApp := start.GetApp(0, log)
	router.Register(appRoot, fiberApp)

	go func() {
		if err := fiberApp.Listen(fmt.Sprintf(":%d", configures.Config.Port)); err != nil {
			log.WithErr(err).Error("HTTP 服务退出")
		}
	}()
	log.Info(fmt.Sprintf("服务已启动，监听端口: %d", configures.Config.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.WithErr(err).Warn("关闭 HTTP 服务失败")
	}
	appRoot.Close()
}

func getBaseInfo() (string, string) {
	// 定义命令行参数
	env := flag.String("env", "dev", "环境配置 (dev, prod, test等)")
	configFile := flag.String("config", "", "配置文件路径，默认为 ./resources/{env}.yaml")

	flag.Parse()

	// 如果没有指定配置文件路径，则使用默认路径
	var filename string
	if *configFile == "" {
		getwd, err := os.Getwd()
		if err != nil {
			panic(fmt.Sprintf("获取当前文件位置失败,因为：%v", err))
		}
		filename = getwd + "/resources/" + *env + ".yaml"
	} else {
		filename = *configFile
	}
	return *env, filename
}

// createZapLogger 创建任务队列使用的 zap logger
func createZapLogger(env string) (*zap.Logger, error) {
	var config zap.Config

	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}
