package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"execsim/internal/config"
)

type (
	fetchOHLCVFunc  func(symbol, timeframe string, limit int64) ([]ccxt.OHLCV, error)
	loadMarketsFunc func() error
)

// Client 负责拉取交易所历史K线并实现重试机制。
type Client struct {
	cfg    config.ExchangeConfig
	logger *zap.Logger

	fetchOHLCV  fetchOHLCVFunc
	loadMarkets loadMarketsFunc

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 按 exchange.name 构造 ccxt 客户端，目前支持 binance 现货与 binanceusdm 合约。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "binance":
		ex := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		c.fetchOHLCV = func(symbol, timeframe string, limit int64) ([]ccxt.OHLCV, error) {
			return ex.FetchOHLCV(symbol, ccxt.WithFetchOHLCVTimeframe(timeframe), ccxt.WithFetchOHLCVLimit(limit))
		}
		c.loadMarkets = func() error {
			_, err := ex.LoadMarkets()
			return err
		}
	case "binanceusdm":
		userConfig["options"].(map[string]interface{})["defaultType"] = "future"
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		c.fetchOHLCV = func(symbol, timeframe string, limit int64) ([]ccxt.OHLCV, error) {
			return ex.FetchOHLCV(symbol, ccxt.WithFetchOHLCVTimeframe(timeframe), ccxt.WithFetchOHLCVLimit(limit))
		}
		c.loadMarkets = func() error {
			_, err := ex.LoadMarkets()
			return err
		}
	default:
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Name)
	}

	return c, nil
}

// FetchCandles 获取指定交易对与周期的K线数据，按时间升序返回。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s_%s", symbol, timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.fetchOHLCV(symbol, timeframe, limit)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", c.loadMarkets)
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if ccxtErr.Type == ccxt.OnMaintenanceErrType {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		}
		return err, IsRetryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
