package tape

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// parseNumber 将单元格转换为有限浮点数。
func parseNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case json.Number:
		v = val.String()
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseTimestamp 支持 ISO8601 字符串与秒/毫秒/微秒/纳秒级的纪元时间。
func parseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil, bool:
		return time.Time{}, false
	case json.Number:
		return parseEpochString(val.String())
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if ts, ok := parseEpochString(s); ok {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), true
		}
		ts, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	default:
		f, ok := parseNumber(v)
		if !ok {
			return time.Time{}, false
		}
		return epochFromFloat(f), true
	}
}

func parseEpochString(s string) (time.Time, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epochFromInt(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	return epochFromFloat(f), true
}

func epochFromInt(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e17:
		return time.Unix(0, n).UTC()
	case abs >= 1e14:
		return time.UnixMicro(n).UTC()
	case abs >= 1e11:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

func epochFromFloat(f float64) time.Time {
	abs := math.Abs(f)
	switch {
	case abs >= 1e17:
		return time.Unix(0, int64(f)).UTC()
	case abs >= 1e14:
		return time.Unix(0, int64(math.Round(f*1e3))).UTC()
	case abs >= 1e11:
		return time.Unix(0, int64(math.Round(f*1e6))).UTC()
	default:
		sec := math.Floor(f)
		nsec := math.Round((f - sec) * 1e9)
		return time.Unix(int64(sec), int64(nsec)).UTC()
	}
}
