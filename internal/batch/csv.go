package batch

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/John-Robertt/harvest/internal/infra/fsx"
)

var _ Sink = (*CSVSink)(nil)

// CSVSink 以追加模式写 CSV：每批打开一次文件，写完即关闭，
// 已落盘的行在进程中断后仍然保留。
type CSVSink struct {
	Path   string
	Header []string
	// Resume=true 时，若文件打开前已有内容则不再写表头（续跑同一个输出文件）。
	Resume bool
}

func NewCSVSink(path string, header []string, resume bool) (*CSVSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("输出文件路径不能为空")
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("表头不能为空")
	}
	return &CSVSink{Path: path, Header: header, Resume: resume}, nil
}

func (s *CSVSink) Flush(b Batch) (err error) {
	for i, rec := range b.Records {
		if len(rec) != len(s.Header) {
			return fmt.Errorf("第 %d 行列数不匹配：期望 %d，实际 %d", i+1, len(s.Header), len(rec))
		}
	}

	f, size, err := fsx.OpenAppend(s.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if b.Header && !(s.Resume && size > 0) {
		if err := w.Write(s.Header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(b.Records); err != nil {
		return err
	}
	return f.Sync()
}
