package exchange

import (
	"time"

	"execsim/internal/tape"
)

const (
	// DefaultTimeframe 为拉取历史行情的默认K线周期。
	DefaultTimeframe = "1m"
	// DefaultLimit 为单次拉取的默认K线根数。
	DefaultLimit = 500
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CandlesToTape 以收盘价与成交量把K线转换为行情带。
// 收盘价非正的K线被丢弃，非正成交量按 1 处理，与文本行情带的规范化规则一致。
func CandlesToTape(candles []Candle) tape.Tape {
	tp := make(tape.Tape, 0, len(candles))
	for _, c := range candles {
		if !(c.Close > 0) {
			continue
		}
		volume := c.Volume
		if !(volume > 0) {
			volume = 1
		}
		tp = append(tp, tape.Point{Timestamp: c.Timestamp.UTC(), Price: c.Close, Volume: volume})
	}
	return tp
}
