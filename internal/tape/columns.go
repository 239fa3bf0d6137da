package tape

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	timePattern   = regexp.MustCompile(`(?i)^(t|ts|dt)$|time|date`)
	pricePattern  = regexp.MustCompile(`(?i)^(p|px)$|price|close|last|mid|rate`)
	volumePattern = regexp.MustCompile(`(?i)^(v|q|sz)$|vol|size|qty|quantity|amount`)
)

// Columns 记录规范列在原始表头中的位置，-1 表示缺失。
type Columns struct {
	Time   int `json:"time"`
	Price  int `json:"price"`
	Volume int `json:"volume"`
}

// ResolveColumns 按表头顺序为时间、价格、成交量各取第一个匹配的列。
// 价格列缺失时返回 ErrParse。
func ResolveColumns(header []string) (Columns, error) {
	cols := Columns{Time: -1, Price: -1, Volume: -1}
	cols.Time = firstMatch(header, timePattern)
	cols.Price = firstMatch(header, pricePattern, cols.Time)
	cols.Volume = firstMatch(header, volumePattern, cols.Time, cols.Price)

	if cols.Price < 0 {
		return cols, fmt.Errorf("%w: 表头 %v 中没有价格列", ErrParse, header)
	}
	return cols, nil
}

func firstMatch(header []string, pattern *regexp.Regexp, taken ...int) int {
	for i, name := range header {
		if isTaken(i, taken) {
			continue
		}
		if pattern.MatchString(strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

func isTaken(i int, taken []int) bool {
	for _, t := range taken {
		if t == i {
			return true
		}
	}
	return false
}
