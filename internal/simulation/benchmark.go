package simulation

import (
	"fmt"
	"math"

	"execsim/internal/tape"
)

// Benchmark 返回整条行情带的成交量加权均价，作为所有执行方式的统一基准。
func Benchmark(tp tape.Tape) (float64, error) {
	price, ok := vwap(tp)
	if !ok {
		return 0, fmt.Errorf("%w: 行情带总成交量为 0", ErrInvalidInput)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: 基准价格超出可表示范围", ErrInvalidInput)
	}
	return price, nil
}

func vwap(points tape.Tape) (float64, bool) {
	var notional, volume float64
	for _, p := range points {
		notional += p.Price * p.Volume
		volume += p.Volume
	}
	if volume <= 0 {
		return 0, false
	}
	return notional / volume, true
}
