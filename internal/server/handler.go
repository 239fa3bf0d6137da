package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"execsim/internal/analytics"
	"execsim/internal/library"
	"execsim/internal/metrics"
	"execsim/internal/simulation"
	"execsim/internal/tape"
)

type handler struct {
	engine     *simulation.Engine
	normalizer *tape.Normalizer
	library    *library.Library
	profiler   *analytics.Profiler
	logger     *zap.Logger
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) simulate(w http.ResponseWriter, r *http.Request) {
	var body SimulateRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	body.Method = strings.ToUpper(strings.TrimSpace(body.Method))
	normalizeOrder(&body.OrderSpec)
	if err := validateRequest(&body); err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := h.buildRequest(r.Context(), body.OrderSpec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req.Method = simulation.Method(body.Method)

	res, err := h.engine.Simulate(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newSimulateResponse(res))
}

func (h *handler) compare(w http.ResponseWriter, r *http.Request) {
	var body CompareRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	for i := range body.Methods {
		body.Methods[i] = strings.ToUpper(strings.TrimSpace(body.Methods[i]))
	}
	normalizeOrder(&body.OrderSpec)
	if err := validateRequest(&body); err != nil {
		h.fail(w, r, err)
		return
	}

	methods := make([]simulation.Method, 0, len(body.Methods))
	for _, raw := range body.Methods {
		m, err := simulation.ParseMethod(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		methods = append(methods, m)
	}

	req, err := h.buildRequest(r.Context(), body.OrderSpec)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	results, err := h.engine.Compare(r.Context(), req, methods)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := compareResponse{Results: make([]simulateResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = newSimulateResponse(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	var body ProfileRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	body.TapeID = strings.TrimSpace(body.TapeID)
	if err := validateRequest(&body); err != nil {
		h.fail(w, r, err)
		return
	}

	tp, err := h.resolveTape(r.Context(), body.TapeSource)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	profile, err := h.profiler.Compute(body.TapeID, tp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{TapeID: body.TapeID, Profile: profile})
}

func (h *handler) createTape(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	tp, report, err := h.normalizer.Normalize(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	metrics.ObserveTape(len(tp))

	entry, err := h.library.Save(r.Context(), r.URL.Query().Get("name"), tp)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tapeCreatedResponse{Tape: entry, Report: newReportDTO(report)})
}

func (h *handler) listTapes(w http.ResponseWriter, r *http.Request) {
	entries, err := h.library.List(r.Context(), queryLimit(r, 100, 1000))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tapeListResponse{Tapes: entries})
}

func (h *handler) getTape(w http.ResponseWriter, r *http.Request) {
	tp, entry, err := h.library.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tapeDetailResponse{Tape: entry, Points: tp})
}

// exportTape 以 csv 或 json 导出行情带，导出结果可直接作为 orderBook 或 POST /tapes 的输入。
func (h *handler) exportTape(w http.ResponseWriter, r *http.Request) {
	tp, entry, err := h.library.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "csv":
		contentType = "text/csv; charset=utf-8"
		err = tape.WriteCSV(&buf, tp)
	case "json":
		contentType = "application/json; charset=utf-8"
		err = tape.WriteJSON(&buf, tp)
	default:
		h.fail(w, r, fmt.Errorf("%w: 不支持的导出格式 %q", simulation.ErrInvalidInput, format))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) deleteTape(w http.ResponseWriter, r *http.Request) {
	if err := h.library.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func normalizeOrder(o *OrderSpec) {
	o.Side = strings.ToLower(strings.TrimSpace(o.Side))
	o.TapeID = strings.TrimSpace(o.TapeID)
}

func (h *handler) buildRequest(ctx context.Context, o OrderSpec) (simulation.Request, error) {
	tp, err := h.resolveTape(ctx, o.TapeSource)
	if err != nil {
		return simulation.Request{}, err
	}
	return simulation.Request{
		Side:       simulation.Side(o.Side),
		Quantity:   o.Quantity,
		SliceCount: o.Slices,
		Tape:       tp,
	}, nil
}

// resolveTape 优先使用 tapeId 从行情带库读取，否则规范化内联的 orderBook。
func (h *handler) resolveTape(ctx context.Context, src TapeSource) (tape.Tape, error) {
	if src.TapeID != "" {
		tp, _, err := h.library.Load(ctx, src.TapeID)
		return tp, err
	}

	raw, err := orderBookBytes(src.OrderBook)
	if err != nil {
		return nil, err
	}

	tp, report, err := h.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}
	metrics.ObserveTape(len(tp))

	if report.DroppedPrice > 0 || report.DroppedTime > 0 {
		h.logger.Debug("行情带存在被丢弃的行",
			zap.String("request_id", RequestIDFrom(ctx)),
			zap.Int("rows", report.Rows),
			zap.Int("dropped_price", report.DroppedPrice),
			zap.Int("dropped_time", report.DroppedTime),
		)
	}
	return tp, nil
}

// orderBookBytes 返回待规范化的原始输入，JSON 字符串会被解开为其中的分隔文本。
func orderBookBytes(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: orderBook 与 tapeId 必须提供其一", simulation.ErrInvalidInput)
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: orderBook 字符串非法: %v", tape.ErrParse, err)
		}
		return []byte(text), nil
	}
	return trimmed, nil
}
