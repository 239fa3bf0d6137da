package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了服务运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 描述 HTTP 接口。
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// SimulationConfig 约束单次模拟的输入规模与计算预算。
type SimulationConfig struct {
	MaxRows      int           `mapstructure:"max_rows"`
	MaxSlices    int           `mapstructure:"max_slices"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CurveEpsilon float64       `mapstructure:"curve_epsilon"`
}

// ExchangeConfig 描述历史行情来源。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DatabaseConfig 管理行情带库的数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.read_timeout/write_timeout 必须为正"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须为正"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		err = multierr.Append(err, errors.New("server.max_body_bytes 必须大于0"))
	}
	if c.Simulation.MaxRows <= 0 {
		err = multierr.Append(err, errors.New("simulation.max_rows 必须大于0"))
	}
	if c.Simulation.MaxSlices <= 0 {
		err = multierr.Append(err, errors.New("simulation.max_slices 必须大于0"))
	}
	if c.Simulation.Timeout <= 0 {
		err = multierr.Append(err, errors.New("simulation.timeout 必须大于0"))
	}
	if c.Simulation.CurveEpsilon <= 0 {
		err = multierr.Append(err, errors.New("simulation.curve_epsilon 必须大于0"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
