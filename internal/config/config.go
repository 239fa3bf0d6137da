package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "execsim"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 配置文件不存在时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	// .env 只用于本地开发，缺失时忽略。
	_ = godotenv.Load()

	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if _, statErr := os.Stat(path); statErr != nil {
		if explicit || !errors.Is(statErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, statErr)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.max_body_bytes", 16<<20)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("simulation.max_rows", 200000)
	v.SetDefault("simulation.max_slices", 10000)
	v.SetDefault("simulation.timeout", "2s")
	v.SetDefault("simulation.curve_epsilon", 1e-12)

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("database.path", "data/execsim.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
