package analytics

import (
	"math"
)

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// LogReturns 返回相邻价格的对数收益率序列，长度为 len(prices)-1。
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
