package exchange

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execsim/internal/tape"
)

// CandleSource 提供历史K线。
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]Candle, error)
}

// TapeRequest 控制一次行情带采集的参数。
type TapeRequest struct {
	Symbols   []string
	Timeframe string
	Limit     int
}

// FetchedTape 为单个交易对的采集结果。
type FetchedTape struct {
	Symbol    string
	Timeframe string
	Tape      tape.Tape
}

// TapeService 并发拉取多个交易对的K线并转换为行情带。
type TapeService struct {
	source CandleSource
	logger *zap.Logger
}

// NewTapeService 创建行情带采集服务。
func NewTapeService(source CandleSource, logger *zap.Logger) *TapeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TapeService{
		source: source,
		logger: logger,
	}
}

// FetchTapes 拉取全部交易对，任一失败则整体失败；结果顺序与 Symbols 一致。
func (s *TapeService) FetchTapes(ctx context.Context, req TapeRequest) ([]FetchedTape, error) {
	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("exchange: 至少需要一个交易对")
	}
	if req.Timeframe == "" {
		req.Timeframe = DefaultTimeframe
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	results := make([]FetchedTape, len(req.Symbols))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, raw := range req.Symbols {
		symbol := strings.TrimSpace(raw)
		group.Go(func() error {
			candles, err := s.source.FetchCandles(groupCtx, symbol, req.Timeframe, int64(req.Limit))
			if err != nil {
				return fmt.Errorf("%s: %w", symbol, err)
			}
			tp := CandlesToTape(candles)
			if len(tp) == 0 {
				return fmt.Errorf("%s: %w", symbol, ErrNoCandles)
			}
			results[i] = FetchedTape{Symbol: symbol, Timeframe: req.Timeframe, Tape: tp}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		s.logger.Debug("行情带采集完成",
			zap.String("symbol", r.Symbol),
			zap.String("timeframe", r.Timeframe),
			zap.Int("points", len(r.Tape)),
			zap.Time("start", r.Tape.Start()),
			zap.Time("end", r.Tape.End()),
		)
	}

	return results, nil
}
