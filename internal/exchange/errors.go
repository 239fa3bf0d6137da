package exchange

import (
	"errors"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，本次拉取应放弃。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrNoCandles 表示交易所未返回任何可用K线。
	ErrNoCandles = errors.New("exchange: 未返回有效K线")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
