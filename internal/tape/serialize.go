package tape

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WriteCSV 以 timestamp,price,volume 表头输出逗号分隔文本。
func WriteCSV(w io.Writer, t Tape) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "price", "volume"}); err != nil {
		return fmt.Errorf("tape: 写入表头失败: %w", err)
	}
	for _, p := range t {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(p.Price, 'g', -1, 64),
			strconv.FormatFloat(p.Volume, 'g', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("tape: 写入数据行失败: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("tape: 刷新输出失败: %w", err)
	}
	return nil
}

// WriteJSON 以 [{"t","price","volume"}] 数组输出。
func WriteJSON(w io.Writer, t Tape) error {
	if t == nil {
		t = Tape{}
	}
	if err := json.NewEncoder(w).Encode(t); err != nil {
		return fmt.Errorf("tape: 序列化 JSON 失败: %w", err)
	}
	return nil
}
