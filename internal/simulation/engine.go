package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execsim/internal/metrics"
	"execsim/internal/tape"
)

// Engine 串联基准计算、切分、撮合、汇总与滑点曲线。
// Engine 本身不持有可变状态，可被并发调用。
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// NewEngine 构建模拟引擎。
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg.normalize(),
		logger: logger,
	}
}

// Simulate 在计算预算内执行完整模拟，失败时不返回部分结果。
func (e *Engine) Simulate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	result, err := e.run(ctx, req)
	metrics.ObserveSimulation(string(req.Method), statusOf(err), time.Since(start))
	if err != nil {
		e.logger.Debug("模拟失败",
			zap.String("method", string(req.Method)),
			zap.String("side", string(req.Side)),
			zap.Int("tape_points", len(req.Tape)),
			zap.Error(err),
		)
		return Result{}, err
	}

	e.logger.Debug("模拟完成",
		zap.String("method", string(req.Method)),
		zap.String("side", string(req.Side)),
		zap.Float64("quantity", req.Quantity),
		zap.Int("slices", len(result.PerSlice)),
		zap.Float64("slippage_bps", result.Summary.SlippageBps),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// Compare 以多种执行方式并发模拟同一订单，结果顺序与 methods 一致。
// methods 为空时比较全部执行方式。
func (e *Engine) Compare(ctx context.Context, req Request, methods []Method) ([]Result, error) {
	if len(methods) == 0 {
		methods = Methods()
	}

	results := make([]Result, len(methods))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, method := range methods {
		group.Go(func() error {
			r := req
			r.Method = method
			res, err := e.Simulate(groupCtx, r)
			if err != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) run(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(e.cfg.MaxSlices); err != nil {
		return Result{}, err
	}
	if e.cfg.MaxRows > 0 && len(req.Tape) > e.cfg.MaxRows {
		return Result{}, fmt.Errorf("%w: 行情带 %d 点超过上限 %d", ErrComputeTimeout, len(req.Tape), e.cfg.MaxRows)
	}

	benchmark, err := Benchmark(req.Tape)
	if err != nil {
		return Result{}, err
	}
	if err := checkpoint(ctx, "benchmark"); err != nil {
		return Result{}, err
	}

	slices, err := Plan(req)
	if err != nil {
		return Result{}, err
	}
	if err := checkpoint(ctx, "plan"); err != nil {
		return Result{}, err
	}

	fills, err := fillSlices(ctx, req.Method, req.Tape, slices)
	if err != nil {
		return Result{}, err
	}
	if err := checkpoint(ctx, "fill"); err != nil {
		return Result{}, err
	}

	summary := Aggregate(req, benchmark, fills)
	curve, err := buildCurve(ctx, req.Side, benchmark, fills, e.cfg.CurveEpsilon)
	if err != nil {
		return Result{}, err
	}
	if err := checkpoint(ctx, "curve"); err != nil {
		return Result{}, err
	}
	if err := ensureFinite(summary, curve); err != nil {
		return Result{}, err
	}

	return Result{
		Method:   req.Method,
		Side:     req.Side,
		Quantity: req.Quantity,
		Summary:  summary,
		PerSlice: fills,
		Curve:    curve,
	}, nil
}

func checkpoint(ctx context.Context, stage string) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: 阶段 %s 超时", ErrComputeTimeout, stage)
	default:
		return fmt.Errorf("simulation: 阶段 %s 被取消: %w", stage, err)
	}
}

// ensureFinite 拒绝数值溢出的结果，数量与价格的乘积超出 float64 范围时触发。
func ensureFinite(summary Summary, curve []SlippagePoint) error {
	values := []float64{summary.AvgPrice, summary.TotalCost, summary.SlippageBps, summary.SlippageUSD}
	for _, p := range curve {
		values = append(values, p.CumulativeSlippageUSD, p.CumulativeSlippagePct)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: 成交金额超出可表示范围，请降低 quantity", ErrInvalidInput)
		}
	}
	return nil
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrComputeTimeout), errors.Is(err, tape.ErrTooManyRows):
		return "timeout"
	case errors.Is(err, tape.ErrEmptyTape):
		return "empty_tape"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
