package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"execsim/internal/analytics"
	"execsim/internal/config"
	"execsim/internal/library"
	"execsim/internal/metrics"
	"execsim/internal/simulation"
	"execsim/internal/tape"
)

// Deps 为 HTTP 层依赖的服务。
type Deps struct {
	Engine     *simulation.Engine
	Normalizer *tape.Normalizer
	Library    *library.Library
	Profiler   *analytics.Profiler
}

// Server 对外提供模拟与行情带库接口。
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New 注册全部路由并组装中间件链。
func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Engine == nil || deps.Normalizer == nil || deps.Library == nil {
		return nil, errors.New("server: engine/normalizer/library 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Profiler == nil {
		deps.Profiler = analytics.NewProfiler(0)
	}

	h := &handler{
		engine:     deps.Engine,
		normalizer: deps.Normalizer,
		library:    deps.Library,
		profiler:   deps.Profiler,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /execution/simulate", h.simulate)
	mux.HandleFunc("POST /execution/compare", h.compare)
	mux.HandleFunc("POST /execution/profile", h.profile)

	mux.HandleFunc("POST /tapes", h.createTape)
	mux.HandleFunc("GET /tapes", h.listTapes)
	mux.HandleFunc("GET /tapes/{id}", h.getTape)
	mux.HandleFunc("GET /tapes/{id}/export", h.exportTape)
	mux.HandleFunc("DELETE /tapes/{id}", h.deleteTape)

	var chain http.Handler = mux
	chain = BodyLimit(cfg.MaxBodyBytes)(chain)
	chain = Recover(logger)(chain)
	chain = Logging(logger)(chain)
	chain = RequestID(chain)
	chain = CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}, nil
}

// Handler 返回完整中间件链，便于测试。
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 开始监听，阻塞直到出错或被关闭。
func (s *Server) Start() error {
	s.logger.Info("HTTP 服务已启动", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: 监听失败: %w", err)
	}
	return nil
}

// Shutdown 在 ctx 截止前等待进行中的请求完成。
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP 服务正在关闭")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: 关闭失败: %w", err)
	}
	return nil
}
