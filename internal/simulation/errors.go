package simulation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput 表示请求参数非法，在任何计算之前拒绝。
	ErrInvalidInput = errors.New("simulation: 请求参数非法")
	// ErrInvalidSliceCount 表示 TWAP/VWAP 的切片数小于 1。
	ErrInvalidSliceCount = fmt.Errorf("%w: 切片数必须大于等于 1", ErrInvalidInput)
	// ErrComputeTimeout 表示输入规模或耗时超出预算，不返回部分结果。
	ErrComputeTimeout = errors.New("simulation: 超出计算预算")
)
