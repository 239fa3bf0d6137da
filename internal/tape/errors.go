package tape

import "errors"

var (
	// ErrParse 表示输入既不是合法的分隔文本也不是合法的 JSON。
	ErrParse = errors.New("tape: 无法解析输入")
	// ErrEmptyTape 表示规范化后没有任何有效行。
	ErrEmptyTape = errors.New("tape: 没有有效的行情数据")
	// ErrTooManyRows 表示输入行数超过上限。
	ErrTooManyRows = errors.New("tape: 输入行数超过上限")
)
