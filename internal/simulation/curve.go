package simulation

import (
	"context"
	"math"
)

// BuildCurve 按成交顺序累计滑点，符号约定与 Aggregate 一致。
// 百分比以累计基准名义金额为分母，分母不小于 epsilon。
func BuildCurve(side Side, benchmark float64, fills []Fill, epsilon float64) []SlippagePoint {
	points, _ := buildCurve(context.Background(), side, benchmark, fills, epsilon)
	return points
}

func buildCurve(ctx context.Context, side Side, benchmark float64, fills []Fill, epsilon float64) ([]SlippagePoint, error) {
	sign := side.Sign()
	points := make([]SlippagePoint, 0, len(fills))

	var cumQty, cumCost, cumBenchCost float64
	for i, f := range fills {
		if i%checkInterval == 0 {
			if err := checkpoint(ctx, "curve"); err != nil {
				return nil, err
			}
		}
		cumQty += f.Quantity
		cumCost += f.Cost
		cumBenchCost += f.Quantity * benchmark

		usd := sign * (cumCost - cumBenchCost)
		points = append(points, SlippagePoint{
			Time:                  f.Time,
			CumulativeSlippageUSD: usd,
			CumulativeSlippagePct: usd / math.Max(epsilon, cumQty*benchmark),
		})
	}
	return points, nil
}
