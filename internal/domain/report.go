package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

const (
	ErrCodeListingFailed  = "listing_failed"
	ErrCodeLayoutChanged  = "layout_changed"
	ErrCodeDetailsFailed  = "details_failed"
	ErrCodeReviewsFailed  = "reviews_failed"
	ErrCodeFlushFailed    = "flush_failed"
	ErrCodeConfigNotFound = "config_not_found"
	ErrCodeConfigInvalid  = "config_invalid"
	ErrCodeAborted        = "aborted"
)

const (
	KindMovies = "movies"
	KindMarket = "market"
)

// RunReport 是对外稳定输出（<output>.report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Kind   string `json:"kind"`
	Output string `json:"output"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Flushes []FlushResult `json:"flushes"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Processed   int `json:"processed"`
	Degraded    int `json:"degraded"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Flushes     int `json:"flushes"`
	RowsWritten int `json:"rows_written"`
}

// ItemResult 描述一个列表条目（或一次列表读取）的处理结果。
// ID=="" 表示合成条目（例如某一年的列表整体读取失败）。
type ItemResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year,omitempty"`
	Reviews int    `json:"reviews"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// FlushResult 记录一次批量落盘。
type FlushResult struct {
	Seq    int  `json:"seq"`
	Rows   int  `json:"rows"`
	Header bool `json:"header"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) 合成条目（ID==""）稳定地排到最后；其余保持到达顺序
// 3) summary 由 items/flushes 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Items == nil {
		r.Items = []ItemResult{}
	}
	if r.Flushes == nil {
		r.Flushes = []FlushResult{}
	}

	sort.SliceStable(r.Items, func(i, j int) bool {
		return r.Items[i].ID != "" && r.Items[j].ID == ""
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusProcessed:
			s.Processed++
		case StatusDegraded:
			s.Degraded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	for _, f := range r.Flushes {
		s.Flushes++
		s.RowsWritten += f.Rows
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性；当前透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
