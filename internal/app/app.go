package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execsim/internal/analytics"
	"execsim/internal/config"
	"execsim/internal/library"
	"execsim/internal/server"
	"execsim/internal/simulation"
	"execsim/internal/store"
	"execsim/internal/tape"
)

// App 聚合核心依赖并驱动服务生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	server *server.Server
}

// New 组装模拟引擎、行情带库与 HTTP 服务。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	lib, err := library.New(store, logger.Named("library"))
	if err != nil {
		return nil, fmt.Errorf("初始化行情带库失败: %w", err)
	}

	engine := simulation.NewEngine(simulation.Config{
		MaxRows:      cfg.Simulation.MaxRows,
		MaxSlices:    cfg.Simulation.MaxSlices,
		Timeout:      cfg.Simulation.Timeout,
		CurveEpsilon: cfg.Simulation.CurveEpsilon,
	}, logger.Named("simulation"))

	srv, err := server.New(cfg.Server, server.Deps{
		Engine:     engine,
		Normalizer: tape.NewNormalizer(cfg.Simulation.MaxRows),
		Library:    lib,
		Profiler:   analytics.NewProfiler(analytics.DefaultWindow),
	}, logger.Named("http"))
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		server: srv,
	}, nil
}

// Run 启动 HTTP 服务并阻塞，直到 ctx 结束后优雅关闭。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行模拟服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("port", a.cfg.Server.Port),
		zap.Int("max_rows", a.cfg.Simulation.MaxRows),
		zap.Duration("compute_timeout", a.cfg.Simulation.Timeout),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.server.Start()
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("服务异常退出: %w", err)
	}

	a.logger.Info("服务收到退出信号，已停止")
	return nil
}
