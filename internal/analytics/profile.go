package analytics

import (
	"fmt"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"

	"execsim/internal/tape"
)

// DefaultWindow 为滚动均价的默认窗口点数。
const DefaultWindow = 20

// Profile 为一条行情带的统计概览，供调用方挑选模拟参数。
type Profile struct {
	Points           int       `json:"points"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	SpanSeconds      float64   `json:"spanSeconds"`
	VWAP             float64   `json:"vwap"`
	MeanPrice        float64   `json:"meanPrice"`
	MinPrice         float64   `json:"minPrice"`
	MaxPrice         float64   `json:"maxPrice"`
	LastPrice        float64   `json:"lastPrice"`
	PriceStdDev      float64   `json:"priceStdDev"`
	ReturnVolatility float64   `json:"returnVolatility"`
	RollingMean      float64   `json:"rollingMean"`
	Window           int       `json:"window"`
	TotalVolume      float64   `json:"totalVolume"`
	MeanVolume       float64   `json:"meanVolume"`
}

type cacheEntry struct {
	key     string
	profile Profile
}

// Profiler 计算行情带概览，并按行情带 id 缓存最近一次结果。
type Profiler struct {
	window int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewProfiler 创建 Profiler，window<=0 时使用默认窗口。
func NewProfiler(window int) *Profiler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Profiler{
		window: window,
		cache:  make(map[string]cacheEntry),
	}
}

// Compute 计算行情带概览。id 非空时结果会被缓存，
// 点数与末尾时间戳未变则直接返回缓存。
func (p *Profiler) Compute(id string, tp tape.Tape) (Profile, error) {
	if len(tp) == 0 {
		return Profile{}, fmt.Errorf("计算行情概览失败: %w", tape.ErrEmptyTape)
	}
	if id == "" {
		return p.calculate(tp), nil
	}

	cacheKey := fmt.Sprintf("%d:%d", len(tp), tp.End().UnixNano())
	p.mu.Lock()
	if entry, ok := p.cache[id]; ok && entry.key == cacheKey {
		p.mu.Unlock()
		return entry.profile, nil
	}
	p.mu.Unlock()

	profile := p.calculate(tp)

	p.mu.Lock()
	p.cache[id] = cacheEntry{key: cacheKey, profile: profile}
	p.mu.Unlock()

	return profile, nil
}

func (p *Profiler) calculate(tp tape.Tape) Profile {
	prices := tp.Prices()
	volumes := tp.Volumes()
	n := len(prices)

	totalVolume := sum(volumes)
	notional := 0.0
	for i := range prices {
		notional += prices[i] * volumes[i]
	}

	window := p.window
	if window > n {
		window = n
	}

	profile := Profile{
		Points:      n,
		Start:       tp.Start(),
		End:         tp.End(),
		SpanSeconds: tp.Span().Seconds(),
		VWAP:        SafeDivide(notional, totalVolume),
		MeanPrice:   sum(prices) / float64(n),
		MinPrice:    prices[0],
		MaxPrice:    prices[0],
		LastPrice:   Last(prices),
		RollingMean: Last(talib.Sma(prices, window)),
		Window:      window,
		TotalVolume: totalVolume,
		MeanVolume:  totalVolume / float64(n),
	}

	// talib 的滚动统计要求窗口至少为 2。
	if n >= 2 {
		profile.MinPrice = Last(talib.Min(prices, n))
		profile.MaxPrice = Last(talib.Max(prices, n))
		profile.PriceStdDev = Last(talib.StdDev(prices, n, 1))
	}
	if returns := LogReturns(prices); len(returns) >= 2 {
		profile.ReturnVolatility = Last(talib.StdDev(returns, len(returns), 1))
	}

	return profile
}
