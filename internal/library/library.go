package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"execsim/internal/store"
	"execsim/internal/tape"
)

// ErrTapeNotFound 表示行情带 id 不存在。
var ErrTapeNotFound = errors.New("library: 行情带不存在")

const defaultListLimit = 100

// Entry 为行情带元数据。
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Points    int       `json:"points"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CreatedAt time.Time `json:"createdAt"`
}

// Library 将规范化后的行情带持久化到 SQLite，便于重复模拟。
type Library struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 初始化行情带库，创建所需表结构。
func New(store *store.Store, logger *zap.Logger) (*Library, error) {
	if store == nil {
		return nil, fmt.Errorf("library: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Library{
		db:     store.DB(),
		logger: logger,
	}

	if err := l.initSchema(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Library) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS tapes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	points INTEGER NOT NULL,
	start_ns INTEGER NOT NULL,
	end_ns INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tape_points (
	tape_id TEXT NOT NULL REFERENCES tapes(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	ts_ns INTEGER NOT NULL,
	price REAL NOT NULL,
	volume REAL NOT NULL,
	PRIMARY KEY (tape_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_tapes_created ON tapes(created_at);
`
	if _, err := l.db.Exec(stmt); err != nil {
		return fmt.Errorf("library: 初始化表失败: %w", err)
	}
	return nil
}

// Save 在单个事务中写入行情带及其全部点，返回新分配的 id。
func (l *Library) Save(ctx context.Context, name string, tp tape.Tape) (Entry, error) {
	if len(tp) == 0 {
		return Entry{}, fmt.Errorf("library: %w", tape.ErrEmptyTape)
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Points:    len(tp),
		Start:     tp.Start(),
		End:       tp.End(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if entry.Name == "" {
		entry.Name = entry.ID
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("library: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tapes (id, name, points, start_ns, end_ns, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Name, entry.Points, entry.Start.UnixNano(), entry.End.UnixNano(), entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("library: 写入行情带失败: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tape_points (tape_id, seq, ts_ns, price, volume) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return Entry{}, fmt.Errorf("library: 准备写入语句失败: %w", err)
	}
	defer stmt.Close()

	for i, p := range tp {
		if _, err := stmt.ExecContext(ctx, entry.ID, i, p.Timestamp.UnixNano(), p.Price, p.Volume); err != nil {
			return Entry{}, fmt.Errorf("library: 写入第 %d 个点失败: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("library: 提交事务失败: %w", err)
	}

	l.logger.Info("行情带已保存",
		zap.String("id", entry.ID),
		zap.String("name", entry.Name),
		zap.Int("points", entry.Points),
	)
	return entry, nil
}

// Get 返回行情带元数据。
func (l *Library) Get(ctx context.Context, id string) (Entry, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, name, points, start_ns, end_ns, created_at FROM tapes WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrTapeNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("library: 查询行情带失败: %w", err)
	}
	return entry, nil
}

// Load 按写入顺序读取行情带全部点。
func (l *Library) Load(ctx context.Context, id string) (tape.Tape, Entry, error) {
	entry, err := l.Get(ctx, id)
	if err != nil {
		return nil, Entry{}, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT ts_ns, price, volume FROM tape_points WHERE tape_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("library: 查询行情点失败: %w", err)
	}
	defer rows.Close()

	tp := make(tape.Tape, 0, entry.Points)
	for rows.Next() {
		var (
			ts     int64
			price  float64
			volume float64
		)
		if scanErr := rows.Scan(&ts, &price, &volume); scanErr != nil {
			return nil, Entry{}, fmt.Errorf("library: 解析行情点失败: %w", scanErr)
		}
		tp = append(tp, tape.Point{Timestamp: time.Unix(0, ts).UTC(), Price: price, Volume: volume})
	}
	if err := rows.Err(); err != nil {
		return nil, Entry{}, fmt.Errorf("library: 读取行情点失败: %w", err)
	}

	return tp, entry, nil
}

// List 按创建时间倒序返回最近的行情带。
func (l *Library) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, points, start_ns, end_ns, created_at FROM tapes ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("library: 查询行情带列表失败: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("library: 解析行情带失败: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("library: 读取行情带列表失败: %w", err)
	}

	return entries, nil
}

// Delete 删除行情带及其全部点。
func (l *Library) Delete(ctx context.Context, id string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("library: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tape_points WHERE tape_id = ?`, id); err != nil {
		return fmt.Errorf("library: 删除行情点失败: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tapes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("library: 删除行情带失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTapeNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("library: 提交事务失败: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		entry   Entry
		startNs int64
		endNs   int64
		created string
	)
	if err := s.Scan(&entry.ID, &entry.Name, &entry.Points, &startNs, &endNs, &created); err != nil {
		return Entry{}, err
	}
	entry.Start = time.Unix(0, startNs).UTC()
	entry.End = time.Unix(0, endNs).UTC()

	ts, err := time.Parse(time.RFC3339, created)
	if err != nil {
		ts = time.Time{}
	}
	entry.CreatedAt = ts.UTC()
	return entry, nil
}
