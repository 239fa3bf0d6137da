package simulation

import (
	"context"

	"execsim/internal/tape"
)

// checkInterval 为顺序循环中检查计算预算的步长。
const checkInterval = 1024

// Ledger 按顺序累计子单成交，每笔的累计成本依赖前一笔。
type Ledger struct {
	cumulativeCost float64
	fills          []Fill
}

// NewLedger 创建空账本。
func NewLedger(capacity int) *Ledger {
	return &Ledger{fills: make([]Fill, 0, capacity)}
}

// Record 以给定价格成交一笔子单并返回成交记录。
func (l *Ledger) Record(slice Slice, price float64) Fill {
	cost := slice.TargetQuantity * price
	l.cumulativeCost += cost
	fill := Fill{
		Index:          slice.Index,
		Time:           slice.AnchorTime,
		Quantity:       slice.TargetQuantity,
		Price:          price,
		Cost:           cost,
		CumulativeCost: l.cumulativeCost,
	}
	l.fills = append(l.fills, fill)
	return fill
}

func (l *Ledger) CumulativeCost() float64 {
	return l.cumulativeCost
}

func (l *Ledger) Fills() []Fill {
	return append([]Fill(nil), l.fills...)
}

// FillSlices 依次撮合计划子单，不可并行。
func FillSlices(method Method, tp tape.Tape, slices []Slice) []Fill {
	fills, _ := fillSlices(context.Background(), method, tp, slices)
	return fills
}

func fillSlices(ctx context.Context, method Method, tp tape.Tape, slices []Slice) ([]Fill, error) {
	ledger := NewLedger(len(slices))
	for i, s := range slices {
		if i%checkInterval == 0 {
			if err := checkpoint(ctx, "fill"); err != nil {
				return nil, err
			}
		}
		ledger.Record(s, executionPrice(method, tp, s))
	}
	return ledger.Fills(), nil
}

// executionPrice TWAP/MARKET 取锚点价格，VWAP 取桶内成交量加权均价。
func executionPrice(method Method, tp tape.Tape, s Slice) float64 {
	if method == MethodVWAP && s.Hi > s.Lo {
		if price, ok := vwap(tp[s.Lo:s.Hi]); ok {
			return price
		}
	}
	return tp[s.AnchorIndex].Price
}
