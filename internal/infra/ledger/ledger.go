// Package ledger 用 sqlite 记录每次落盘写入了哪些行，供续跑（resume）时跳过已写条目。
//
// CSV 本身只追加、不回读；台账是“哪些 key 已经在某个输出文件里”的唯一依据。
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// 定长格式：字符串比较与时间先后一致。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Ledger struct {
	db *sql.DB
}

// Open 打开（必要时创建）台账数据库。path 为 ":memory:" 时使用内存库。
func Open(ctx context.Context, path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ledger 路径不能为空")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 单写者；内存库下多个连接会各自拥有独立的数据库。
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "pragma foreign_keys = on"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化 ledger 表结构失败：%w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Run 是一次运行的台账摘要。
type Run struct {
	ID          string
	Kind        string
	Output      string
	StartedAt   time.Time
	FinishedAt  time.Time // 零值表示运行未正常结束
	RowsWritten int
}

func (l *Ledger) StartRun(ctx context.Context, runID, kind, output string, startedAt time.Time) error {
	if runID == "" {
		return errors.New("run id 不能为空")
	}
	_, err := l.db.ExecContext(ctx,
		"insert into run (id, kind, output, started_at) values (?, ?, ?, ?)",
		runID, kind, OutputKey(output), startedAt.UTC().Format(timeLayout),
	)
	return err
}

// RecordFlush 在一个事务里记录一次落盘及其写入的 key。
// 同一输出文件里已存在的 key 保持首次写入的记录。
func (l *Ledger) RecordFlush(ctx context.Context, runID string, seq int, header bool, keys []string) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var output string
	if err = tx.QueryRowContext(ctx, "select output from run where id = ?", runID).Scan(&output); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("未知 run：%s", runID)
		}
		return err
	}

	if _, err = tx.ExecContext(ctx,
		"insert into flush (run_id, seq, header, rows, flushed_at) values (?, ?, ?, ?, ?)",
		runID, seq, boolInt(header), len(keys), time.Now().UTC().Format(timeLayout),
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"insert into written (output, key, run_id, seq) values (?, ?, ?, ?) on conflict (output, key) do nothing")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err = stmt.ExecContext(ctx, output, k, runID, seq); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		"update run set rows_written = rows_written + ? where id = ?", len(keys), runID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *Ledger) FinishRun(ctx context.Context, runID string, finishedAt time.Time) error {
	res, err := l.db.ExecContext(ctx,
		"update run set finished_at = ? where id = ?", finishedAt.UTC().Format(timeLayout), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("未知 run：%s", runID)
	}
	return nil
}

// Seen 返回已写入 output 的全部 key。
func (l *Ledger) Seen(ctx context.Context, output string) (map[string]struct{}, error) {
	rows, err := l.db.QueryContext(ctx, "select key from written where output = ?", OutputKey(output))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

// Runs 按开始时间倒序列出写过 output 的运行。
func (l *Ledger) Runs(ctx context.Context, output string) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		"select id, kind, output, started_at, finished_at, rows_written from run where output = ? order by started_at desc",
		OutputKey(output))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Output, &started, &finished, &r.RowsWritten); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, err
		}
		if finished.Valid {
			if r.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutputKey 把输出路径规整为台账里的索引键（绝对路径）。
func OutputKey(output string) string {
	output = filepath.Clean(strings.TrimSpace(output))
	if abs, err := filepath.Abs(output); err == nil {
		return abs
	}
	return output
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
