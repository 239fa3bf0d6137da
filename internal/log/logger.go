package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"execsim/internal/config"
)

// NewLogger 根据配置创建 zap.Logger。
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		return nil, fmt.Errorf("解析日志级别失败: %w", err)
	}

	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
	}

	levelEncoder := zapcore.CapitalLevelEncoder
	if encoding == "console" {
		levelEncoder = zapcore.CapitalColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: cfg.Development,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			TimeKey:        "ts",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    levelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
		InitialFields:    map[string]interface{}{"service": "execsim"},
	}

	logger, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("创建日志实例失败: %w", err)
	}

	return logger, nil
}
