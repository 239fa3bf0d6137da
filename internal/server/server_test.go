package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execsim/internal/analytics"
	"execsim/internal/config"
	"execsim/internal/library"
	"execsim/internal/simulation"
	"execsim/internal/store"
	"execsim/internal/tape"
)

const scenarioBook = `[
	{"t": "2024-01-02T14:30:00Z", "price": 100, "volume": 10},
	{"t": "2024-01-02T14:30:01Z", "price": 102, "volume": 10},
	{"t": "2024-01-02T14:30:02Z", "price": 101, "volume": 10}
]`

const scenarioCSV = "timestamp,price,volume\n" +
	"2024-01-02T14:30:02Z,101,10\n" +
	"2024-01-02T14:30:00Z,100,10\n" +
	"2024-01-02T14:30:01Z,102,10\n"

type testOptions struct {
	maxBody    int64
	maxRows    int
	engineRows int
}

func newTestHandler(t *testing.T, opts testOptions) http.Handler {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lib, err := library.New(st, nil)
	require.NoError(t, err)

	if opts.maxBody == 0 {
		opts.maxBody = 1 << 20
	}
	srv, err := New(config.ServerConfig{
		Port:         0,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaxBodyBytes: opts.maxBody,
	}, Deps{
		Engine:     simulation.NewEngine(simulation.Config{MaxRows: opts.engineRows, MaxSlices: 1000, Timeout: time.Second}, nil),
		Normalizer: tape.NewNormalizer(opts.maxRows),
		Library:    lib,
		Profiler:   analytics.NewProfiler(0),
	}, nil)
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func simulateBody(method, side string, qty float64, slices int, book string) string {
	return fmt.Sprintf(`{"method":%q,"side":%q,"quantity":%v,"slices":%d,"orderBook":%s}`, method, side, qty, slices, book)
}

func TestSimulate_TWAPScenario(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	rec := do(t, h, http.MethodPost, "/execution/simulate", simulateBody("TWAP", "buy", 30, 3, scenarioBook))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[simulateResponse](t, rec)
	assert.InDelta(t, 101, resp.Summary.AvgPrice, 1e-9)
	assert.InDelta(t, 101, resp.Summary.BenchmarkPrice, 1e-9)
	assert.InDelta(t, 0, resp.Summary.SlippageBps, 1e-9)
	require.Len(t, resp.PerSlice, 3)
	for i, price := range []float64{100, 102, 101} {
		assert.InDelta(t, 10, resp.PerSlice[i].Qty, 1e-12)
		assert.Equal(t, price, resp.PerSlice[i].Price)
	}
	assert.InDelta(t, 3030, resp.PerSlice[2].CumCost, 1e-9)
	require.Len(t, resp.SlippageCurve, 3)
	assert.InDelta(t, -10, resp.SlippageCurve[0].CumulativeSlippageUSD, 1e-9)
}

func TestSimulate_MarketScenarioFromCSVString(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	book, err := json.Marshal(scenarioCSV)
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/execution/simulate", simulateBody("market", "BUY", 30, 0, string(book)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[simulateResponse](t, rec)
	require.Len(t, resp.PerSlice, 1)
	assert.Equal(t, 30.0, resp.PerSlice[0].Qty)
	assert.Equal(t, 100.0, resp.PerSlice[0].Price)
	assert.InDelta(t, 100, resp.Summary.AvgPrice, 1e-9)
	assert.InDelta(t, -99.0099, resp.Summary.SlippageBps, 1e-4)
	assert.Equal(t, simulation.MethodMarket, resp.Method)
	assert.Equal(t, simulation.SideBuy, resp.Side)
}

func TestSimulate_EmptyTape(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	rec := do(t, h, http.MethodPost, "/execution/simulate", simulateBody("TWAP", "buy", 30, 3, `[]`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "empty_tape", body["error"])
	assert.NotContains(t, body, "summary")
	assert.NotContains(t, body, "perSlice")
}

func TestSimulate_RejectsInvalidInput(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"zero quantity", simulateBody("TWAP", "buy", 0, 3, scenarioBook), http.StatusBadRequest, "invalid_input"},
		{"negative quantity", simulateBody("MARKET", "sell", -5, 1, scenarioBook), http.StatusBadRequest, "invalid_input"},
		{"unknown method", simulateBody("POV", "buy", 1, 3, scenarioBook), http.StatusBadRequest, "invalid_input"},
		{"unknown side", simulateBody("TWAP", "hold", 1, 3, scenarioBook), http.StatusBadRequest, "invalid_input"},
		{"zero slices", simulateBody("VWAP", "buy", 1, 0, scenarioBook), http.StatusBadRequest, "invalid_input"},
		{"negative slices", simulateBody("TWAP", "buy", 1, -2, scenarioBook), http.StatusBadRequest, "invalid_input"},
		{"missing order book", `{"method":"TWAP","side":"buy","quantity":1,"slices":1}`, http.StatusBadRequest, "invalid_input"},
		{"null order book", `{"method":"TWAP","side":"buy","quantity":1,"slices":1,"orderBook":null}`, http.StatusBadRequest, "invalid_input"},
		{"malformed body", `{"method":`, http.StatusBadRequest, "invalid_input"},
		{"unparseable book", simulateBody("TWAP", "buy", 1, 1, `"just some words"`), http.StatusBadRequest, "parse_error"},
		{"book of numbers", simulateBody("TWAP", "buy", 1, 1, `[1,2,3]`), http.StatusBadRequest, "parse_error"},
		{"bad tape id", `{"method":"TWAP","side":"buy","quantity":1,"slices":1,"tapeId":"nope"}`, http.StatusBadRequest, "invalid_input"},
		{"notional overflows", simulateBody("MARKET", "buy", 1e307, 1, scenarioBook), http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/execution/simulate", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			body := decode[errorResponse](t, rec)
			assert.Equal(t, tc.code, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestSimulate_MarketAcceptsAnySliceCount(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	for _, slices := range []int{-1, 0, 5} {
		rec := do(t, h, http.MethodPost, "/execution/simulate", simulateBody("MARKET", "sell", 30, slices, scenarioBook))
		require.Equal(t, http.StatusOK, rec.Code, "slices=%d: %s", slices, rec.Body.String())
		assert.Len(t, decode[simulateResponse](t, rec).PerSlice, 1)
	}
}

func TestSimulate_DeterministicBytes(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	body := simulateBody("VWAP", "sell", 12.5, 4, scenarioBook)

	first := do(t, h, http.MethodPost, "/execution/simulate", body)
	second := do(t, h, http.MethodPost, "/execution/simulate", body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestSimulate_ComputeBudget(t *testing.T) {
	rec := do(t, newTestHandler(t, testOptions{maxRows: 2}), http.MethodPost, "/execution/simulate",
		simulateBody("TWAP", "buy", 30, 3, scenarioBook))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "compute_timeout", decode[errorResponse](t, rec).Error)

	rec = do(t, newTestHandler(t, testOptions{engineRows: 2}), http.MethodPost, "/execution/simulate",
		simulateBody("MARKET", "buy", 30, 1, scenarioBook))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "compute_timeout", decode[errorResponse](t, rec).Error)
}

func TestSimulate_BodyTooLarge(t *testing.T) {
	h := newTestHandler(t, testOptions{maxBody: 64})
	rec := do(t, h, http.MethodPost, "/execution/simulate", simulateBody("TWAP", "buy", 30, 3, scenarioBook))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decode[errorResponse](t, rec).Error)
}

func TestCompare(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	body := `{"side":"buy","quantity":30,"slices":3,"methods":["market","twap"],"orderBook":` + scenarioBook + `}`

	rec := do(t, h, http.MethodPost, "/execution/compare", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[compareResponse](t, rec)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, simulation.MethodMarket, resp.Results[0].Method)
	assert.Equal(t, simulation.MethodTWAP, resp.Results[1].Method)
	assert.InDelta(t, 0, resp.Results[1].Summary.SlippageBps, 1e-9)

	all := do(t, h, http.MethodPost, "/execution/compare", `{"side":"sell","quantity":30,"slices":3,"orderBook":`+scenarioBook+`}`)
	require.Equal(t, http.StatusOK, all.Code)
	assert.Len(t, decode[compareResponse](t, all).Results, 3)

	bad := do(t, h, http.MethodPost, "/execution/compare", `{"side":"sell","quantity":30,"slices":3,"methods":["ICEBERG"],"orderBook":`+scenarioBook+`}`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestTapeLibraryFlow(t *testing.T) {
	h := newTestHandler(t, testOptions{})

	created := do(t, h, http.MethodPost, "/tapes?name=scenario", scenarioCSV)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	createdResp := decode[tapeCreatedResponse](t, created)
	id := createdResp.Tape.ID
	assert.Equal(t, "scenario", createdResp.Tape.Name)
	assert.Equal(t, 3, createdResp.Tape.Points)
	assert.Equal(t, tape.FormatDelimited, createdResp.Report.Format)

	sim := do(t, h, http.MethodPost, "/execution/simulate",
		fmt.Sprintf(`{"method":"TWAP","side":"buy","quantity":30,"slices":3,"tapeId":%q}`, id))
	require.Equal(t, http.StatusOK, sim.Code, sim.Body.String())
	assert.InDelta(t, 0, decode[simulateResponse](t, sim).Summary.SlippageBps, 1e-9)

	list := do(t, h, http.MethodGet, "/tapes", "")
	require.Equal(t, http.StatusOK, list.Code)
	entries := decode[tapeListResponse](t, list).Tapes
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	detail := do(t, h, http.MethodGet, "/tapes/"+id, "")
	require.Equal(t, http.StatusOK, detail.Code)
	assert.Equal(t, []float64{100, 102, 101}, decode[tapeDetailResponse](t, detail).Points.Prices())

	exported := do(t, h, http.MethodGet, "/tapes/"+id+"/export?format=json", "")
	require.Equal(t, http.StatusOK, exported.Code)
	roundTrip, _, err := tape.NewNormalizer(0).Normalize(exported.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 102, 101}, roundTrip.Prices())

	csvExport := do(t, h, http.MethodGet, "/tapes/"+id+"/export", "")
	require.Equal(t, http.StatusOK, csvExport.Code)
	assert.True(t, strings.HasPrefix(csvExport.Body.String(), "timestamp,price,volume"))

	profile := do(t, h, http.MethodPost, "/execution/profile", fmt.Sprintf(`{"tapeId":%q}`, id))
	require.Equal(t, http.StatusOK, profile.Code, profile.Body.String())
	prof := decode[profileResponse](t, profile)
	assert.Equal(t, id, prof.TapeID)
	assert.InDelta(t, 101, prof.Profile.VWAP, 1e-9)

	missing := do(t, h, http.MethodPost, "/execution/simulate",
		`{"method":"TWAP","side":"buy","quantity":30,"slices":3,"tapeId":"00000000-0000-4000-8000-000000000000"}`)
	require.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "tape_not_found", decode[errorResponse](t, missing).Error)

	deleted := do(t, h, http.MethodDelete, "/tapes/"+id, "")
	require.Equal(t, http.StatusNoContent, deleted.Code)
	gone := do(t, h, http.MethodGet, "/tapes/"+id, "")
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestCreateTape_Errors(t *testing.T) {
	h := newTestHandler(t, testOptions{})

	rec := do(t, h, http.MethodPost, "/tapes", "time,volume\n1,2\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/tapes", `[]`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProfile_InlineOrderBook(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	rec := do(t, h, http.MethodPost, "/execution/profile", `{"orderBook":`+scenarioBook+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	prof := decode[profileResponse](t, rec)
	assert.Empty(t, prof.TapeID)
	assert.Equal(t, 3, prof.Profile.Points)
	assert.Equal(t, 100.0, prof.Profile.MinPrice)
	assert.Equal(t, 102.0, prof.Profile.MaxPrice)
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	h := newTestHandler(t, testOptions{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))

	generated := do(t, h, http.MethodGet, "/healthz", "")
	assert.Len(t, generated.Header().Get(HeaderRequestID), 36)

	preflight := httptest.NewRequest(http.MethodOptions, "/execution/simulate", nil)
	preflight.Header.Set("Origin", "http://dashboard.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, testOptions{})
	do(t, h, http.MethodPost, "/execution/simulate", simulateBody("TWAP", "buy", 30, 3, scenarioBook))

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "execsim_simulation_requests_total")
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(config.ServerConfig{}, Deps{}, nil)
	require.Error(t, err)
}
