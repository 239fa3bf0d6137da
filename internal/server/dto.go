package server

import (
	"encoding/json"
	"time"

	"execsim/internal/analytics"
	"execsim/internal/library"
	"execsim/internal/simulation"
	"execsim/internal/tape"
)

// TapeSource 指定行情带来源：请求内联的 orderBook 或行情带库中的 tapeId。
// orderBook 可以是 JSON 数组、{data:[...]}/{rows:[...]} 对象，或包含分隔文本的 JSON 字符串。
type TapeSource struct {
	OrderBook json.RawMessage `json:"orderBook" validate:"required_without=TapeID"`
	TapeID    string          `json:"tapeId" validate:"omitempty,uuid"`
}

// OrderSpec 为订单参数，method/side 在校验前已统一大小写。
type OrderSpec struct {
	TapeSource
	Side     string  `json:"side" validate:"required,oneof=buy sell"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
	Slices   int     `json:"slices"`
}

// SimulateRequest 为 POST /execution/simulate 的请求体。
type SimulateRequest struct {
	OrderSpec
	Method string `json:"method" validate:"required,oneof=TWAP VWAP MARKET"`
}

// CompareRequest 为 POST /execution/compare 的请求体，methods 为空时比较全部执行方式。
type CompareRequest struct {
	OrderSpec
	Methods []string `json:"methods" validate:"omitempty,max=3,dive,oneof=TWAP VWAP MARKET"`
}

// ProfileRequest 为 POST /execution/profile 的请求体。
type ProfileRequest struct {
	TapeSource
}

type summaryDTO struct {
	AvgPrice       float64 `json:"avgPrice"`
	BenchmarkPrice float64 `json:"benchmarkPrice"`
	SlippageBps    float64 `json:"slippageBps"`
	SlippageUSD    float64 `json:"slippageUsd"`
	TotalCost      float64 `json:"totalCost"`
	Slices         int     `json:"slices"`
}

type fillDTO struct {
	T       time.Time `json:"t"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	Cost    float64   `json:"cost"`
	CumCost float64   `json:"cumCost"`
}

type curvePointDTO struct {
	T                     time.Time `json:"t"`
	CumulativeSlippageUSD float64   `json:"cumulativeSlippageUsd"`
	CumulativeSlippagePct float64   `json:"cumulativeSlippagePct"`
}

type simulateResponse struct {
	Method        simulation.Method `json:"method"`
	Side          simulation.Side   `json:"side"`
	Quantity      float64           `json:"quantity"`
	Summary       summaryDTO        `json:"summary"`
	PerSlice      []fillDTO         `json:"perSlice"`
	SlippageCurve []curvePointDTO   `json:"slippageCurve"`
}

type compareResponse struct {
	Results []simulateResponse `json:"results"`
}

type profileResponse struct {
	TapeID  string            `json:"tapeId,omitempty"`
	Profile analytics.Profile `json:"profile"`
}

type reportDTO struct {
	Format         tape.Format `json:"format"`
	Header         []string    `json:"header"`
	Rows           int         `json:"rows"`
	Kept           int         `json:"kept"`
	DroppedPrice   int         `json:"droppedPrice"`
	DroppedTime    int         `json:"droppedTime"`
	VolumeRepaired int         `json:"volumeRepaired"`
}

type tapeCreatedResponse struct {
	Tape   library.Entry `json:"tape"`
	Report reportDTO     `json:"report"`
}

type tapeListResponse struct {
	Tapes []library.Entry `json:"tapes"`
}

type tapeDetailResponse struct {
	Tape   library.Entry `json:"tape"`
	Points tape.Tape     `json:"points"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newSimulateResponse(res simulation.Result) simulateResponse {
	fills := make([]fillDTO, len(res.PerSlice))
	for i, f := range res.PerSlice {
		fills[i] = fillDTO{
			T:       f.Time,
			Qty:     f.Quantity,
			Price:   f.Price,
			Cost:    f.Cost,
			CumCost: f.CumulativeCost,
		}
	}

	curve := make([]curvePointDTO, len(res.Curve))
	for i, p := range res.Curve {
		curve[i] = curvePointDTO{
			T:                     p.Time,
			CumulativeSlippageUSD: p.CumulativeSlippageUSD,
			CumulativeSlippagePct: p.CumulativeSlippagePct,
		}
	}

	return simulateResponse{
		Method:   res.Method,
		Side:     res.Side,
		Quantity: res.Quantity,
		Summary: summaryDTO{
			AvgPrice:       res.Summary.AvgPrice,
			BenchmarkPrice: res.Summary.BenchmarkPrice,
			SlippageBps:    res.Summary.SlippageBps,
			SlippageUSD:    res.Summary.SlippageUSD,
			TotalCost:      res.Summary.TotalCost,
			Slices:         res.Summary.Slices,
		},
		PerSlice:      fills,
		SlippageCurve: curve,
	}
}

func newReportDTO(r tape.Report) reportDTO {
	return reportDTO{
		Format:         r.Format,
		Header:         r.Header,
		Rows:           r.Rows,
		Kept:           r.Kept,
		DroppedPrice:   r.DroppedPrice,
		DroppedTime:    r.DroppedTime,
		VolumeRepaired: r.VolumeRepaired,
	}
}
