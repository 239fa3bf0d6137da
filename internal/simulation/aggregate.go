package simulation

// Aggregate 汇总成交序列。正的滑点始终代表交易者付出了比基准更多的成本：
// 买入时均价高于基准为正，卖出时均价低于基准为正。
func Aggregate(req Request, benchmark float64, fills []Fill) Summary {
	summary := Summary{
		BenchmarkPrice: benchmark,
		Slices:         len(fills),
	}
	if len(fills) == 0 || req.Quantity <= 0 {
		return summary
	}

	total := fills[len(fills)-1].CumulativeCost
	summary.TotalCost = total
	summary.AvgPrice = total / req.Quantity

	sign := req.Side.Sign()
	if benchmark > 0 {
		summary.SlippageBps = sign * (summary.AvgPrice - benchmark) / benchmark * 10000
	}
	summary.SlippageUSD = sign * (total - req.Quantity*benchmark)
	return summary
}
