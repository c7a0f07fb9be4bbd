// Package batch 把逐行到达的记录攒批后写入下游（CSV 文件等）。
//
// 表头规则（整个运行期只写一次）：
//   - 计数达到批大小的整数倍时落盘；第一次整批落盘（counter == size）带表头
//   - Close 时若缓冲区非空则落盘剩余行；只有从未凑满过一批（counter < size）时带表头
//
// Writer 不是并发安全的：单个 goroutine 顺序调用 Append/Close。
package batch

import (
	"errors"
	"fmt"
)

// Row 是可落盘的一行。
type Row interface {
	// Record 按表头顺序返回字段值。
	Record() ([]string, error)
	// Key 是该行的稳定标识（用于落盘台账去重）。
	Key() string
}

// Batch 是一次落盘的内容。
type Batch struct {
	Seq     int // 从 1 开始
	Header  bool
	Records [][]string
	Keys    []string
}

// Sink 消费一批记录。返回错误时 Writer 保留这批行，不会静默丢弃。
type Sink interface {
	Flush(b Batch) error
}

// SinkFunc 允许用普通函数实现 Sink。
type SinkFunc func(b Batch) error

func (f SinkFunc) Flush(b Batch) error { return f(b) }

type Options struct {
	// OnFlush 在每次成功落盘后回调（进度/报告）；可为空。
	OnFlush func(b Batch)
}

type Writer[T Row] struct {
	size int
	sink Sink
	opts Options

	counter int
	flushes int
	buf     []T
	closed  bool
}

var ErrClosed = errors.New("batch writer 已关闭")

// NewWriter 创建批大小为 size 的 Writer；size < 1 直接拒绝。
func NewWriter[T Row](size int, sink Sink, opts Options) (*Writer[T], error) {
	if size < 1 {
		return nil, fmt.Errorf("批大小必须 >= 1，实际 %d", size)
	}
	if sink == nil {
		return nil, errors.New("sink 不能为空")
	}
	return &Writer[T]{
		size: size,
		sink: sink,
		opts: opts,
		buf:  make([]T, 0, size),
	}, nil
}

// Append 缓冲一行；计数达到批大小的整数倍时落盘。
// 落盘失败时返回错误，已缓冲的行（含本行）保留在缓冲区中。
func (w *Writer[T]) Append(row T) error {
	if w.closed {
		return ErrClosed
	}
	w.counter++
	w.buf = append(w.buf, row)
	if w.counter%w.size == 0 {
		return w.flush(w.counter == w.size)
	}
	return nil
}

// Close 落盘剩余行。重复调用是安全的；缓冲区为空时不会产生任何写入。
func (w *Writer[T]) Close() error {
	if w.closed {
		return nil
	}
	if len(w.buf) > 0 {
		if err := w.flush(w.counter < w.size); err != nil {
			return err
		}
	}
	w.closed = true
	return nil
}

// Count 是累计 Append 的行数。
func (w *Writer[T]) Count() int { return w.counter }

// Flushes 是成功落盘的次数。
func (w *Writer[T]) Flushes() int { return w.flushes }

// Pending 返回尚未落盘的行（副本）。
func (w *Writer[T]) Pending() []T { return append([]T(nil), w.buf...) }

func (w *Writer[T]) flush(header bool) error {
	// 没有失败时两者等价；首批落盘失败后重试时，靠 flushes 保证表头仍出现一次。
	header = header || w.flushes == 0

	b := Batch{
		Seq:     w.flushes + 1,
		Header:  header,
		Records: make([][]string, 0, len(w.buf)),
		Keys:    make([]string, 0, len(w.buf)),
	}
	for _, r := range w.buf {
		rec, err := r.Record()
		if err != nil {
			return fmt.Errorf("编码第 %d 批失败（key=%s）：%w", b.Seq, r.Key(), err)
		}
		b.Records = append(b.Records, rec)
		b.Keys = append(b.Keys, r.Key())
	}
	if err := w.sink.Flush(b); err != nil {
		return fmt.Errorf("写入第 %d 批失败（%d 行）：%w", b.Seq, len(b.Records), err)
	}

	w.flushes++
	w.buf = w.buf[:0]
	if w.opts.OnFlush != nil {
		w.opts.OnFlush(b)
	}
	return nil
}
