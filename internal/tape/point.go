package tape

import (
	"sort"
	"time"
)

// Point 为行情带中的单个观测点。
type Point struct {
	Timestamp time.Time `json:"t"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}

// Tape 是按时间升序排列的行情序列。
type Tape []Point

// Len 返回点数。
func (t Tape) Len() int {
	return len(t)
}

// Start 返回首个时间戳，空序列返回零值。
func (t Tape) Start() time.Time {
	if len(t) == 0 {
		return time.Time{}
	}
	return t[0].Timestamp
}

// End 返回最后一个时间戳，空序列返回零值。
func (t Tape) End() time.Time {
	if len(t) == 0 {
		return time.Time{}
	}
	return t[len(t)-1].Timestamp
}

// Span 返回首尾时间跨度。
func (t Tape) Span() time.Duration {
	if len(t) < 2 {
		return 0
	}
	return t.End().Sub(t.Start())
}

// Nearest 返回与 target 时间距离最近的点下标，距离相同时取较早的点。
// 空序列返回 -1。
func (t Tape) Nearest(target time.Time) int {
	if len(t) == 0 {
		return -1
	}
	idx := sort.Search(len(t), func(i int) bool {
		return !t[i].Timestamp.Before(target)
	})
	if idx == 0 {
		return 0
	}
	if idx == len(t) {
		return len(t) - 1
	}
	// idx 可能落在一串相同时间戳的开头，向前取到同一时间戳的第一个点。
	before := idx - 1
	for before > 0 && t[before-1].Timestamp.Equal(t[before].Timestamp) {
		before--
	}
	if target.Sub(t[before].Timestamp) <= t[idx].Timestamp.Sub(target) {
		return before
	}
	return idx
}

// Prices 返回价格列。
func (t Tape) Prices() []float64 {
	out := make([]float64, len(t))
	for i, p := range t {
		out[i] = p.Price
	}
	return out
}

// Volumes 返回成交量列。
func (t Tape) Volumes() []float64 {
	out := make([]float64, len(t))
	for i, p := range t {
		out[i] = p.Volume
	}
	return out
}
