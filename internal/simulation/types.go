package simulation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"execsim/internal/tape"
)

// Method 表示执行方式。
type Method string

const (
	MethodTWAP   Method = "TWAP"
	MethodVWAP   Method = "VWAP"
	MethodMarket Method = "MARKET"
)

// Methods 返回全部支持的执行方式。
func Methods() []Method {
	return []Method{MethodTWAP, MethodVWAP, MethodMarket}
}

// ParseMethod 不区分大小写地解析执行方式。
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := planners[m]; !ok {
		return "", fmt.Errorf("%w: 未知的执行方式 %q", ErrInvalidInput, s)
	}
	return m, nil
}

// Side 表示买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 不区分大小写地解析买卖方向。
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToLower(strings.TrimSpace(s))); side {
	case SideBuy, SideSell:
		return side, nil
	default:
		return "", fmt.Errorf("%w: 未知的买卖方向 %q", ErrInvalidInput, s)
	}
}

// Sign 买入为 +1，卖出为 -1。正的滑点始终代表对交易者不利。
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Request 为一次模拟的输入。
type Request struct {
	Method     Method
	Side       Side
	Quantity   float64
	SliceCount int // MARKET 忽略
	Tape       tape.Tape
}

// Validate 校验请求，maxSlices <= 0 表示不限制切片数。
func (r Request) Validate(maxSlices int) error {
	if _, ok := planners[r.Method]; !ok {
		return fmt.Errorf("%w: 未知的执行方式 %q", ErrInvalidInput, r.Method)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: 未知的买卖方向 %q", ErrInvalidInput, r.Side)
	}
	if math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) || r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity 必须为正数", ErrInvalidInput)
	}
	if r.Method != MethodMarket {
		if r.SliceCount < 1 {
			return ErrInvalidSliceCount
		}
		if maxSlices > 0 && r.SliceCount > maxSlices {
			return fmt.Errorf("%w: 切片数 %d 超过上限 %d", ErrInvalidInput, r.SliceCount, maxSlices)
		}
	}
	if len(r.Tape) == 0 {
		return tape.ErrEmptyTape
	}
	return nil
}

// Slice 为计划中的一笔子单。
// Lo/Hi 为该子单对应的行情带区间 [Lo,Hi)，VWAP 的空时间桶 Lo == Hi。
type Slice struct {
	Index          int
	AnchorIndex    int
	AnchorTime     time.Time
	Lo             int
	Hi             int
	TargetQuantity float64
}

// Fill 为一笔子单的成交结果。
type Fill struct {
	Index          int
	Time           time.Time
	Quantity       float64
	Price          float64
	Cost           float64
	CumulativeCost float64
}

// Summary 汇总整笔订单的执行质量。
type Summary struct {
	AvgPrice       float64
	BenchmarkPrice float64
	SlippageBps    float64
	SlippageUSD    float64
	TotalCost      float64
	Slices         int
}

// SlippagePoint 为累计滑点曲线上的一点。
type SlippagePoint struct {
	Time                  time.Time
	CumulativeSlippageUSD float64
	CumulativeSlippagePct float64
}

// Result 为一次模拟的完整输出。
type Result struct {
	Method   Method
	Side     Side
	Quantity float64
	Summary  Summary
	PerSlice []Fill
	Curve    []SlippagePoint
}
