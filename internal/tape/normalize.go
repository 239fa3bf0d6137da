package tape

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Format 标识输入格式。
type Format string

const (
	FormatDelimited Format = "delimited"
	FormatJSON      Format = "json"
)

// Report 描述一次规范化过程中各类行的去向。
type Report struct {
	Format         Format   `json:"format"`
	Header         []string `json:"header"`
	Columns        Columns  `json:"columns"`
	Rows           int      `json:"rows"`
	Kept           int      `json:"kept"`
	DroppedPrice   int      `json:"droppedPrice"`
	DroppedTime    int      `json:"droppedTime"`
	VolumeRepaired int      `json:"volumeRepaired"`
}

// Normalizer 将异构输入转换为规范行情带。
type Normalizer struct {
	maxRows int
}

// NewNormalizer 创建 Normalizer，maxRows <= 0 表示不限制行数。
func NewNormalizer(maxRows int) *Normalizer {
	return &Normalizer{maxRows: maxRows}
}

type table struct {
	format Format
	header []string
	rows   [][]any
}

func (t *table) cell(row []any, col int) any {
	if col < 0 || col >= len(row) {
		return nil
	}
	return row[col]
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalize 解析分隔文本或 JSON，返回按时间升序排列的行情带。
func (n *Normalizer) Normalize(raw []byte) (Tape, Report, error) {
	data := bytes.TrimSpace(bytes.TrimPrefix(raw, utf8BOM))
	if len(data) == 0 {
		return nil, Report{}, fmt.Errorf("%w: 输入为空", ErrParse)
	}

	var (
		tbl *table
		err error
	)
	switch data[0] {
	case '[', '{':
		tbl, err = n.readJSON(data)
	default:
		tbl, err = n.readDelimited(data)
	}
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{Format: tbl.format, Header: tbl.header, Rows: len(tbl.rows)}
	// JSON 空数组没有可供识别的键名。
	if len(tbl.rows) == 0 && tbl.format == FormatJSON {
		return nil, report, ErrEmptyTape
	}

	cols, err := ResolveColumns(tbl.header)
	if err != nil {
		return nil, report, err
	}
	report.Columns = cols
	if len(tbl.rows) == 0 {
		return nil, report, ErrEmptyTape
	}

	points := make(Tape, 0, len(tbl.rows))
	for i, row := range tbl.rows {
		price, ok := parseNumber(tbl.cell(row, cols.Price))
		if !ok || price <= 0 {
			report.DroppedPrice++
			continue
		}

		var ts time.Time
		if cols.Time < 0 {
			ts = time.Unix(int64(i), 0).UTC()
		} else if ts, ok = parseTimestamp(tbl.cell(row, cols.Time)); !ok {
			report.DroppedTime++
			continue
		}

		volume := 1.0
		if cols.Volume >= 0 {
			v, ok := parseNumber(tbl.cell(row, cols.Volume))
			if ok && v > 0 {
				volume = v
			} else {
				report.VolumeRepaired++
			}
		}

		points = append(points, Point{Timestamp: ts, Price: price, Volume: volume})
	}

	report.Kept = len(points)
	if len(points) == 0 {
		return nil, report, ErrEmptyTape
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	return points, report, nil
}

func (n *Normalizer) checkRows(count int) error {
	if n.maxRows > 0 && count > n.maxRows {
		return fmt.Errorf("%w: 上限 %d 行", ErrTooManyRows, n.maxRows)
	}
	return nil
}

func (n *Normalizer) readDelimited(data []byte) (*table, error) {
	firstLine := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	comma := ','
	if bytes.IndexByte(firstLine, '\t') >= 0 {
		comma = '\t'
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: 读取表头失败: %v", ErrParse, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	tbl := &table{format: FormatDelimited, header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: 读取第 %d 行失败: %v", ErrParse, len(tbl.rows)+2, err)
		}
		if err := n.checkRows(len(tbl.rows) + 1); err != nil {
			return nil, err
		}
		row := make([]any, len(record))
		for i, field := range record {
			row[i] = field
		}
		tbl.rows = append(tbl.rows, row)
	}

	return tbl, nil
}

func (n *Normalizer) readJSON(data []byte) (*table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tbl := &table{format: FormatJSON}
	index := make(map[string]int)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch tok {
	case json.Delim('['):
		if err := n.readJSONRows(dec, tbl, index); err != nil {
			return nil, err
		}
	case json.Delim('{'):
		found := false
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			key, _ := keyTok.(string)
			if !found && (strings.EqualFold(key, "data") || strings.EqualFold(key, "rows")) {
				open, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrParse, err)
				}
				if open != json.Delim('[') {
					return nil, fmt.Errorf("%w: %q 字段必须为数组", ErrParse, key)
				}
				if err := n.readJSONRows(dec, tbl, index); err != nil {
					return nil, err
				}
				found = true
				continue
			}
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if !found {
			return nil, fmt.Errorf("%w: JSON 对象缺少 data/rows 数组", ErrParse)
		}
	default:
		return nil, fmt.Errorf("%w: JSON 顶层必须是数组或对象", ErrParse)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: JSON 末尾存在多余内容", ErrParse)
	}

	return tbl, nil
}

// readJSONRows 在已读取 '[' 之后逐个读取对象，按出现顺序收集键名。
func (n *Normalizer) readJSONRows(dec *json.Decoder, tbl *table, index map[string]int) error {
	for dec.More() {
		open, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		if open != json.Delim('{') {
			return fmt.Errorf("%w: 第 %d 行不是对象", ErrParse, len(tbl.rows)+1)
		}
		if err := n.checkRows(len(tbl.rows) + 1); err != nil {
			return err
		}

		row := make([]any, len(tbl.header))
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrParse, err)
			}
			key, _ := keyTok.(string)
			var value any
			if err := dec.Decode(&value); err != nil {
				return fmt.Errorf("%w: %v", ErrParse, err)
			}

			col, ok := index[key]
			if !ok {
				col = len(tbl.header)
				index[key] = col
				tbl.header = append(tbl.header, key)
			}
			for len(row) <= col {
				row = append(row, nil)
			}
			row[col] = value
		}
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		tbl.rows = append(tbl.rows, row)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}
