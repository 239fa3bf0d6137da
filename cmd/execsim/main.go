package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"execsim/internal/app"
	"execsim/internal/config"
	"execsim/internal/log"
	"execsim/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("服务运行异常", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("服务已安全退出")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	simApp, err := app.New(cfg, logger, sqliteStore)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return simApp.Run(ctx)
}
