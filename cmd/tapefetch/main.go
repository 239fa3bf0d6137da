// tapefetch 通过 ccxt 拉取历史K线，转换为行情带后写出 CSV 或存入行情带库。
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"execsim/internal/config"
	"execsim/internal/exchange"
	"execsim/internal/library"
	"execsim/internal/log"
	"execsim/internal/store"
	"execsim/internal/tape"
)

type options struct {
	configPath string
	symbols    string
	timeframe  string
	limit      int
	outDir     string
	format     string
	save       bool
	timeout    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&opts.symbols, "symbols", "BTC/USDT", "逗号分隔的交易对列表")
	flag.StringVar(&opts.timeframe, "timeframe", exchange.DefaultTimeframe, "K线周期")
	flag.IntVar(&opts.limit, "limit", exchange.DefaultLimit, "每个交易对拉取的K线根数")
	flag.StringVar(&opts.outDir, "out", "", "输出目录，为空时写到标准输出")
	flag.StringVar(&opts.format, "format", "csv", "输出格式: csv 或 json")
	flag.BoolVar(&opts.save, "store", false, "存入行情带库而不是写文件")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "整体超时")
	flag.Parse()

	cfg, err := config.Load(opts.configPath)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("拉取行情带失败", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) error {
	client, err := exchange.NewClient(cfg.Exchange, logger.Named("exchange"))
	if err != nil {
		return err
	}

	fetched, err := exchange.NewTapeService(client, logger).FetchTapes(ctx, exchange.TapeRequest{
		Symbols:   strings.Split(opts.symbols, ","),
		Timeframe: opts.timeframe,
		Limit:     opts.limit,
	})
	if err != nil {
		return err
	}

	if opts.save {
		return saveToLibrary(ctx, cfg.Database, fetched, logger)
	}
	return writeTapes(fetched, opts, logger)
}

func saveToLibrary(ctx context.Context, dbCfg config.DatabaseConfig, fetched []exchange.FetchedTape, logger *zap.Logger) error {
	sqliteStore, err := store.NewSQLite(dbCfg)
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	lib, err := library.New(sqliteStore, logger.Named("library"))
	if err != nil {
		return err
	}

	for _, f := range fetched {
		entry, err := lib.Save(ctx, fmt.Sprintf("%s %s", f.Symbol, f.Timeframe), f.Tape)
		if err != nil {
			return err
		}
		fmt.Println(entry.ID)
	}
	return nil
}

func writeTapes(fetched []exchange.FetchedTape, opts options, logger *zap.Logger) error {
	write := tape.WriteCSV
	ext := ".csv"
	switch strings.ToLower(opts.format) {
	case "csv":
	case "json":
		write = tape.WriteJSON
		ext = ".json"
	default:
		return fmt.Errorf("不支持的输出格式 %q", opts.format)
	}

	if opts.outDir == "" {
		for _, f := range fetched {
			if err := write(os.Stdout, f.Tape); err != nil {
				return err
			}
		}
		return nil
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	for _, f := range fetched {
		path := filepath.Join(opts.outDir, fileName(f)+ext)
		if err := writeFile(path, f.Tape, write); err != nil {
			return err
		}
		logger.Info("行情带已写出", zap.String("path", path), zap.Int("points", len(f.Tape)))
	}
	return nil
}

func writeFile(path string, tp tape.Tape, write func(io.Writer, tape.Tape) error) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建文件 %q 失败: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("关闭文件 %q 失败: %w", path, closeErr)
		}
	}()
	return write(file, tp)
}

func fileName(f exchange.FetchedTape) string {
	replacer := strings.NewReplacer("/", "-", ":", "-", " ", "")
	return fmt.Sprintf("%s_%s", replacer.Replace(f.Symbol), f.Timeframe)
}
