package simulation

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execsim/internal/tape"
)

var base = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

func scenarioTape() tape.Tape {
	return tape.Tape{
		{Timestamp: base, Price: 100, Volume: 10},
		{Timestamp: base.Add(time.Second), Price: 102, Volume: 10},
		{Timestamp: base.Add(2 * time.Second), Price: 101, Volume: 10},
	}
}

func newTestEngine() *Engine {
	return NewEngine(Config{MaxRows: 1000, MaxSlices: 1000, Timeout: time.Second}, nil)
}

func TestSimulate_TWAPNoSlippage(t *testing.T) {
	res, err := newTestEngine().Simulate(context.Background(), Request{
		Method: MethodTWAP, Side: SideBuy, Quantity: 30, SliceCount: 3, Tape: scenarioTape(),
	})
	require.NoError(t, err)
	require.Len(t, res.PerSlice, 3)

	for i, want := range []float64{100, 102, 101} {
		assert.InDelta(t, 10, res.PerSlice[i].Quantity, 1e-12)
		assert.Equal(t, want, res.PerSlice[i].Price)
	}
	assert.InDelta(t, 101, res.Summary.AvgPrice, 1e-9)
	assert.InDelta(t, 101, res.Summary.BenchmarkPrice, 1e-9)
	assert.InDelta(t, 0, res.Summary.SlippageBps, 1e-9)
}

func TestSimulate_MarketSingleFill(t *testing.T) {
	res, err := newTestEngine().Simulate(context.Background(), Request{
		Method: MethodMarket, Side: SideBuy, Quantity: 30, SliceCount: 7, Tape: scenarioTape(),
	})
	require.NoError(t, err)
	require.Len(t, res.PerSlice, 1)

	fill := res.PerSlice[0]
	assert.Equal(t, 30.0, fill.Quantity)
	assert.Equal(t, 100.0, fill.Price)
	assert.Equal(t, base, fill.Time)
	assert.InDelta(t, 100, res.Summary.AvgPrice, 1e-9)
	assert.InDelta(t, (100.0-101.0)/101.0*10000, res.Summary.SlippageBps, 1e-9)
	assert.Less(t, res.Summary.SlippageBps, 0.0)
}

func TestSimulate_SlippageSignSymmetry(t *testing.T) {
	engine := newTestEngine()
	req := Request{Method: MethodMarket, Side: SideBuy, Quantity: 30, Tape: scenarioTape()}

	buy, err := engine.Simulate(context.Background(), req)
	require.NoError(t, err)

	req.Side = SideSell
	sell, err := engine.Simulate(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, -buy.Summary.SlippageBps, sell.Summary.SlippageBps, 1e-9)
	assert.InDelta(t, -buy.Summary.SlippageUSD, sell.Summary.SlippageUSD, 1e-9)

	// 价格偏离关于基准镜像：单独翻转偏离方向使符号反转，同时翻转方向与偏离则保持不变。
	mirrored := scenarioTape()
	for i := range mirrored {
		mirrored[i].Price = 2*101 - mirrored[i].Price
	}
	req.Tape = mirrored
	req.Side = SideBuy
	mirroredBuy, err := engine.Simulate(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 101, mirroredBuy.Summary.BenchmarkPrice, 1e-9)
	assert.InDelta(t, -buy.Summary.SlippageBps, mirroredBuy.Summary.SlippageBps, 1e-9)
	assert.Greater(t, mirroredBuy.Summary.SlippageBps, 0.0)

	req.Side = SideSell
	mirroredSell, err := engine.Simulate(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, buy.Summary.SlippageBps, mirroredSell.Summary.SlippageBps, 1e-9)
}

func TestSimulate_AveragePriceConsistency(t *testing.T) {
	engine := newTestEngine()
	tp := randomTape(rand.New(rand.NewSource(7)), 120)
	for _, method := range Methods() {
		res, err := engine.Simulate(context.Background(), Request{
			Method: method, Side: SideSell, Quantity: 1234.5, SliceCount: 13, Tape: tp,
		})
		require.NoError(t, err, method)
		last := res.PerSlice[len(res.PerSlice)-1]
		assert.InDelta(t, last.CumulativeCost/1234.5, res.Summary.AvgPrice, 1e-9, method)
		assert.Equal(t, last.CumulativeCost, res.Summary.TotalCost, method)
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	engine := newTestEngine()
	tp := randomTape(rand.New(rand.NewSource(11)), 200)
	req := Request{Method: MethodVWAP, Side: SideBuy, Quantity: 500, SliceCount: 17, Tape: tp}

	first, err := engine.Simulate(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Simulate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSimulate_InvalidInput(t *testing.T) {
	engine := newTestEngine()
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"zero quantity", Request{Method: MethodTWAP, Side: SideBuy, Quantity: 0, SliceCount: 1, Tape: scenarioTape()}, ErrInvalidInput},
		{"negative quantity", Request{Method: MethodMarket, Side: SideBuy, Quantity: -1, Tape: scenarioTape()}, ErrInvalidInput},
		{"nan quantity", Request{Method: MethodMarket, Side: SideBuy, Quantity: math.NaN(), Tape: scenarioTape()}, ErrInvalidInput},
		{"twap zero slices", Request{Method: MethodTWAP, Side: SideBuy, Quantity: 1, SliceCount: 0, Tape: scenarioTape()}, ErrInvalidSliceCount},
		{"vwap zero slices", Request{Method: MethodVWAP, Side: SideBuy, Quantity: 1, SliceCount: 0, Tape: scenarioTape()}, ErrInvalidInput},
		{"too many slices", Request{Method: MethodVWAP, Side: SideBuy, Quantity: 1, SliceCount: 1001, Tape: scenarioTape()}, ErrInvalidInput},
		{"unknown method", Request{Method: "POV", Side: SideBuy, Quantity: 1, SliceCount: 1, Tape: scenarioTape()}, ErrInvalidInput},
		{"unknown side", Request{Method: MethodTWAP, Side: "short", Quantity: 1, SliceCount: 1, Tape: scenarioTape()}, ErrInvalidInput},
		{"empty tape", Request{Method: MethodTWAP, Side: SideBuy, Quantity: 1, SliceCount: 1}, tape.ErrEmptyTape},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.Simulate(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, res.PerSlice)
		})
	}
}

func TestSimulate_ComputeBudget(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res, err := newTestEngine().Simulate(ctx, Request{
		Method: MethodTWAP, Side: SideBuy, Quantity: 30, SliceCount: 3, Tape: scenarioTape(),
	})
	require.ErrorIs(t, err, ErrComputeTimeout)
	assert.Empty(t, res.PerSlice)

	small := NewEngine(Config{MaxRows: 2}, nil)
	_, err = small.Simulate(context.Background(), Request{
		Method: MethodMarket, Side: SideBuy, Quantity: 30, Tape: scenarioTape(),
	})
	require.ErrorIs(t, err, ErrComputeTimeout)
}

func TestSimulate_RejectsOverflowingNotional(t *testing.T) {
	engine := newTestEngine()
	for _, method := range Methods() {
		res, err := engine.Simulate(context.Background(), Request{
			Method: method, Side: SideBuy, Quantity: 1e307, SliceCount: 3, Tape: scenarioTape(),
		})
		require.ErrorIs(t, err, ErrInvalidInput, "method=%s", method)
		assert.Empty(t, res.PerSlice)
	}

	huge := scenarioTape()
	for i := range huge {
		huge[i].Volume = math.MaxFloat64
	}
	_, err := engine.Simulate(context.Background(), Request{
		Method: MethodMarket, Side: SideBuy, Quantity: 1, Tape: huge,
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestFillAndCurve_StopWhenBudgetExpires(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	tp := scenarioTape()
	slices, err := Plan(Request{Method: MethodTWAP, Quantity: 30, SliceCount: 3, Tape: tp})
	require.NoError(t, err)

	fills, err := fillSlices(ctx, MethodTWAP, tp, slices)
	require.ErrorIs(t, err, ErrComputeTimeout)
	assert.Nil(t, fills)

	curve, err := buildCurve(ctx, SideBuy, 101, FillSlices(MethodTWAP, tp, slices), 1e-12)
	require.ErrorIs(t, err, ErrComputeTimeout)
	assert.Nil(t, curve)
}

func TestSimulate_MarketIgnoresSliceCount(t *testing.T) {
	res, err := newTestEngine().Simulate(context.Background(), Request{
		Method: MethodMarket, Side: SideBuy, Quantity: 5, SliceCount: 0, Tape: scenarioTape(),
	})
	require.NoError(t, err)
	assert.Len(t, res.PerSlice, 1)
}

func TestCompare_ReturnsResultsInRequestOrder(t *testing.T) {
	results, err := newTestEngine().Compare(context.Background(), Request{
		Side: SideBuy, Quantity: 30, SliceCount: 3, Tape: scenarioTape(),
	}, []Method{MethodMarket, MethodTWAP})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, MethodMarket, results[0].Method)
	assert.Equal(t, MethodTWAP, results[1].Method)
	assert.InDelta(t, (100.0-101.0)/101.0*10000, results[0].Summary.SlippageBps, 1e-9)
	assert.InDelta(t, 0, results[1].Summary.SlippageBps, 1e-9)

	all, err := newTestEngine().Compare(context.Background(), Request{
		Side: SideSell, Quantity: 30, SliceCount: 3, Tape: scenarioTape(),
	}, nil)
	require.NoError(t, err)
	assert.Len(t, all, len(Methods()))
}

func TestCompare_FailsWhenAnyMethodFails(t *testing.T) {
	_, err := newTestEngine().Compare(context.Background(), Request{
		Side: SideBuy, Quantity: 30, SliceCount: 0, Tape: scenarioTape(),
	}, []Method{MethodMarket, MethodVWAP})
	require.ErrorIs(t, err, ErrInvalidSliceCount)
}

func TestParseMethodAndSide(t *testing.T) {
	m, err := ParseMethod(" vwap ")
	require.NoError(t, err)
	assert.Equal(t, MethodVWAP, m)
	_, err = ParseMethod("iceberg")
	require.ErrorIs(t, err, ErrInvalidInput)

	s, err := ParseSide("SELL")
	require.NoError(t, err)
	assert.Equal(t, SideSell, s)
	_, err = ParseSide("hold")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func randomTape(rng *rand.Rand, n int) tape.Tape {
	tp := make(tape.Tape, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.01
		tp[i] = tape.Point{
			Timestamp: base.Add(time.Duration(i) * time.Second).Add(time.Duration(rng.Intn(900)) * time.Millisecond),
			Price:     price,
			Volume:    0.1 + rng.Float64()*50,
		}
	}
	return tp
}
