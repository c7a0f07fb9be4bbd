package batch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type testRow string

func (r testRow) Record() ([]string, error) { return []string{string(r)}, nil }
func (r testRow) Key() string               { return string(r) }

type recordingSink struct {
	batches []Batch
	failN   int // 前 failN 次 Flush 返回错误
}

func (s *recordingSink) Flush(b Batch) error {
	if s.failN > 0 {
		s.failN--
		return errors.New("disk full")
	}
	s.batches = append(s.batches, b)
	return nil
}

func rows(n int) []testRow {
	out := make([]testRow, n)
	for i := range out {
		out[i] = testRow(fmt.Sprintf("R%d", i+1))
	}
	return out
}

func TestNewWriter_RejectsInvalidSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		_, err := NewWriter[testRow](size, &recordingSink{}, Options{})
		require.Error(t, err)
	}
	_, err := NewWriter[testRow](1, nil, Options{})
	require.Error(t, err)
}

func TestWriter_ScenarioB2R3(t *testing.T) {
	sink := &recordingSink{}
	w, err := NewWriter[testRow](2, sink, Options{})
	require.NoError(t, err)

	for _, r := range rows(3) {
		require.NoError(t, w.Append(r))
	}
	require.Len(t, sink.batches, 1)
	require.Len(t, w.Pending(), 1)

	require.NoError(t, w.Close())
	require.Len(t, sink.batches, 2)

	require.True(t, sink.batches[0].Header)
	require.Equal(t, [][]string{{"R1"}, {"R2"}}, sink.batches[0].Records)
	require.False(t, sink.batches[1].Header)
	require.Equal(t, [][]string{{"R3"}}, sink.batches[1].Records)
	require.Equal(t, []int{1, 2}, []int{sink.batches[0].Seq, sink.batches[1].Seq})
}

func TestWriter_FlushProperties(t *testing.T) {
	for b := 1; b <= 7; b++ {
		for n := 0; n <= 23; n++ {
			sink := &recordingSink{}
			w, err := NewWriter[testRow](b, sink, Options{})
			require.NoError(t, err)

			in := rows(n)
			for _, r := range in {
				require.NoError(t, w.Append(r))
				// 落盘之后缓冲区为空；任何时刻缓冲区都小于批大小。
				require.Less(t, len(w.Pending()), b)
			}
			require.NoError(t, w.Close())
			require.Empty(t, w.Pending())

			wantFlushes := (n + b - 1) / b
			require.Len(t, sink.batches, wantFlushes, "B=%d N=%d", b, n)
			require.Equal(t, wantFlushes, w.Flushes())

			headers := 0
			for i, bt := range sink.batches {
				if bt.Header {
					headers++
					if n >= b {
						require.Equal(t, 0, i, "B=%d N=%d：表头应在第一次落盘", b, n)
					} else {
						require.Equal(t, len(sink.batches)-1, i, "B=%d N=%d：表头应在最后一次落盘", b, n)
					}
				}
			}
			if n > 0 {
				require.Equal(t, 1, headers, "B=%d N=%d", b, n)
			} else {
				require.Equal(t, 0, headers)
			}

			var got []string
			for _, bt := range sink.batches {
				require.Equal(t, len(bt.Records), len(bt.Keys))
				for _, rec := range bt.Records {
					got = append(got, rec[0])
				}
			}
			var want []string
			for _, r := range in {
				want = append(want, string(r))
			}
			require.Equal(t, want, got, "B=%d N=%d：每行恰好一次且保持顺序", b, n)
		}
	}
}

func TestWriter_FailedFlushKeepsRows(t *testing.T) {
	sink := &recordingSink{failN: 1}
	var flushed []int
	w, err := NewWriter[testRow](2, sink, Options{OnFlush: func(b Batch) { flushed = append(flushed, b.Seq) }})
	require.NoError(t, err)

	require.NoError(t, w.Append("R1"))
	require.Error(t, w.Append("R2"))
	require.Equal(t, []testRow{"R1", "R2"}, w.Pending())
	require.Empty(t, flushed)

	require.NoError(t, w.Append("R3"))
	require.NoError(t, w.Close())

	require.Len(t, sink.batches, 1)
	require.True(t, sink.batches[0].Header)
	require.Equal(t, [][]string{{"R1"}, {"R2"}, {"R3"}}, sink.batches[0].Records)
	require.Equal(t, []int{1}, flushed)
}

func TestWriter_AppendAfterClose(t *testing.T) {
	w, err := NewWriter[testRow](3, &recordingSink{}, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Append("R1"), ErrClosed)
	require.Equal(t, 0, w.Count())
}

type badRow struct{}

func (badRow) Record() ([]string, error) { return nil, errors.New("bad") }
func (badRow) Key() string               { return "bad" }

func TestWriter_RecordErrorKeepsRows(t *testing.T) {
	sink := &recordingSink{}
	w, err := NewWriter[badRow](1, sink, Options{})
	require.NoError(t, err)
	require.Error(t, w.Append(badRow{}))
	require.Len(t, w.Pending(), 1)
	require.Empty(t, sink.batches)
}

func TestSinkFunc(t *testing.T) {
	var got Batch
	var s Sink = SinkFunc(func(b Batch) error { got = b; return nil })
	require.NoError(t, s.Flush(Batch{Seq: 7}))
	require.Equal(t, 7, got.Seq)
}
