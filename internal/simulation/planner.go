package simulation

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/shopspring/decimal"

	"execsim/internal/tape"
)

// quantityPrecision 为切分数量时保留的小数位。
const quantityPrecision = 18

type planFunc func(req Request) ([]Slice, error)

// planners 为执行方式到切分策略的分派表。
var planners = map[Method]planFunc{
	MethodTWAP:   planTWAP,
	MethodVWAP:   planVWAP,
	MethodMarket: planMarket,
}

// Plan 按执行方式把订单数量切分为有序子单。
func Plan(req Request) ([]Slice, error) {
	plan, ok := planners[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: 未知的执行方式 %q", ErrInvalidInput, req.Method)
	}
	if len(req.Tape) == 0 {
		return nil, tape.ErrEmptyTape
	}
	if req.Method != MethodMarket && req.SliceCount < 1 {
		return nil, ErrInvalidSliceCount
	}
	return plan(req)
}

// planTWAP 等量切分，第 i 笔锚定在第 i 个等长时间段中点最近的行情点。
func planTWAP(req Request) ([]Slice, error) {
	n := req.SliceCount
	tp := req.Tape
	parts := splitEqual(req.Quantity, n)

	start := tp.Start()
	span := tp.Span()

	slices := make([]Slice, n)
	for i := 0; i < n; i++ {
		idx := tp.Nearest(start.Add(scaleSpan(span, 2*i+1, 2*n)))
		slices[i] = Slice{
			Index:          i,
			AnchorIndex:    idx,
			AnchorTime:     tp[idx].Timestamp,
			Lo:             idx,
			Hi:             idx + 1,
			TargetQuantity: parts[i],
		}
	}
	return slices, nil
}

// planVWAP 将时间跨度等分为 n 个连续时间桶，按桶内成交量占比分配数量。
func planVWAP(req Request) ([]Slice, error) {
	n := req.SliceCount
	tp := req.Tape
	lo, hi := bucketBounds(tp, n)

	volumes := make([]float64, n)
	for k := 0; k < n; k++ {
		for _, p := range tp[lo[k]:hi[k]] {
			volumes[k] += p.Volume
		}
	}
	parts, err := splitWeighted(req.Quantity, volumes)
	if err != nil {
		return nil, err
	}

	start := tp.Start()
	span := tp.Span()

	slices := make([]Slice, n)
	for k := 0; k < n; k++ {
		bucketStart := start.Add(scaleSpan(span, k, n))
		anchor := lo[k]
		if lo[k] == hi[k] {
			mid := start.Add(scaleSpan(span, 2*k+1, 2*n))
			anchor = tp.Nearest(mid)
		}
		slices[k] = Slice{
			Index:          k,
			AnchorIndex:    anchor,
			AnchorTime:     bucketStart,
			Lo:             lo[k],
			Hi:             hi[k],
			TargetQuantity: parts[k],
		}
	}
	return slices, nil
}

// planMarket 不切分，整笔数量在第一个行情点立即成交。
func planMarket(req Request) ([]Slice, error) {
	return []Slice{{
		Index:          0,
		AnchorIndex:    0,
		AnchorTime:     req.Tape[0].Timestamp,
		Lo:             0,
		Hi:             1,
		TargetQuantity: req.Quantity,
	}}, nil
}

// bucketBounds 返回每个时间桶在行情带中的区间 [lo,hi)。
// 时间桶左闭右开，最后一个桶包含终点；跨度为 0 时全部点落在第一个桶。
func bucketBounds(tp tape.Tape, n int) (lo, hi []int) {
	counts := make([]int, n)
	start := tp.Start()
	span := tp.Span()
	for _, p := range tp {
		k := bucketIndex(p.Timestamp.Sub(start), span, n)
		if k >= n {
			k = n - 1
		}
		counts[k]++
	}

	lo = make([]int, n)
	hi = make([]int, n)
	pos := 0
	for k := 0; k < n; k++ {
		lo[k] = pos
		pos += counts[k]
		hi[k] = pos
	}
	return lo, hi
}

// bucketIndex 返回 floor(offset*n/span)，全程整数运算，恰好落在桶边界的点归入后一个桶。
func bucketIndex(offset, span time.Duration, n int) int {
	if span <= 0 || offset <= 0 {
		return 0
	}
	if offset >= span {
		return n
	}
	hi, lo := bits.Mul64(uint64(offset), uint64(n))
	quo, _ := bits.Div64(hi, lo, uint64(span))
	return int(quo)
}

// scaleSpan 返回 floor(span*num/den)，要求 0 <= num <= den。
func scaleSpan(span time.Duration, num, den int) time.Duration {
	if span <= 0 || num <= 0 || den <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(span), uint64(num))
	quo, _ := bits.Div64(hi, lo, uint64(den))
	return time.Duration(quo)
}

// splitEqual 等分数量，最后一笔吸收舍入误差，保证总量守恒。
func splitEqual(quantity float64, n int) []float64 {
	total := decimal.NewFromFloat(quantity)
	part := total.DivRound(decimal.NewFromInt(int64(n)), quantityPrecision)

	parts := make([]float64, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = part.InexactFloat64()
		allocated = allocated.Add(part)
	}
	parts[n-1] = total.Sub(allocated).InexactFloat64()
	return parts
}

// splitWeighted 按权重分配数量；权重为 0 的桶分配 0，
// 其份额按比例由其余桶承担，最后一个非空桶吸收舍入误差。
func splitWeighted(quantity float64, weights []float64) ([]float64, error) {
	total := decimal.NewFromFloat(quantity)
	sum := decimal.Zero
	last := -1
	ws := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		if w > 0 {
			ws[i] = decimal.NewFromFloat(w)
			sum = sum.Add(ws[i])
			last = i
		}
	}
	if last < 0 {
		return nil, fmt.Errorf("%w: 所有时间桶成交量为 0", tape.ErrEmptyTape)
	}

	parts := make([]float64, len(weights))
	allocated := decimal.Zero
	for i := range weights {
		if weights[i] <= 0 || i == last {
			continue
		}
		alloc := total.Mul(ws[i]).DivRound(sum, quantityPrecision)
		parts[i] = alloc.InexactFloat64()
		allocated = allocated.Add(alloc)
	}
	parts[last] = total.Sub(allocated).InexactFloat64()
	return parts, nil
}
