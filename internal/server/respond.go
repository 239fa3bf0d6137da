package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"execsim/internal/library"
	"execsim/internal/simulation"
	"execsim/internal/tape"
)

// errBadRequest 表示请求体本身无法解码。
var errBadRequest = errors.New("server: 请求体非法")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest 执行结构体校验，失败时包装为 ErrInvalidInput。
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", simulation.ErrInvalidInput, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s 不满足 %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s 不满足 %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", simulation.ErrInvalidInput, strings.Join(msgs, "; "))
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// writeJSON 序列化 v 并写出，序列化失败时回退为 500。
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal","message":"响应序列化失败"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// errorStatus 将领域错误映射为 HTTP 状态码与错误码。
func errorStatus(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, simulation.ErrComputeTimeout), errors.Is(err, tape.ErrTooManyRows):
		return http.StatusServiceUnavailable, "compute_timeout"
	case errors.Is(err, library.ErrTapeNotFound):
		return http.StatusNotFound, "tape_not_found"
	case errors.Is(err, tape.ErrEmptyTape):
		return http.StatusUnprocessableEntity, "empty_tape"
	case errors.Is(err, tape.ErrParse):
		return http.StatusBadRequest, "parse_error"
	case errors.Is(err, simulation.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_input"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()

	fields := []zap.Field{
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError && code == "internal" {
		h.logger.Error("请求处理失败", fields...)
		message = "内部错误"
	} else {
		h.logger.Debug("请求被拒绝", fields...)
	}

	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if qs := r.URL.Query().Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
