package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/John-Robertt/harvest/internal/app/run"
	"github.com/John-Robertt/harvest/internal/config"
	"github.com/John-Robertt/harvest/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：加载更多的点击可能持续数分钟，长时间无事件时定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	phase    string
	clicks   int
	done     int
	ok       int
	degraded int
	fail     int
	skip     int
	rows     int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 10 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig, runID string) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] harvest %s (run %s)\n", now.Format("15:04:05"), eff.Kind, runID)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.Source != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.Source)
	}
	if eff.Kind == config.KindMovies {
		years := fmt.Sprint(eff.Year)
		if eff.EndYear != eff.Year {
			years = fmt.Sprintf("%d-%d", eff.Year, eff.EndYear)
		}
		fmt.Fprintf(p.w, "  years: %s\n", years)
		fmt.Fprintf(p.w, "  min_rating: %g  min_votes: %d  max_reviews: %d\n", eff.MinRating, eff.MinVotes, eff.MaxReviews)
		fmt.Fprintf(p.w, "  load_more: wait=%s settle=%s max=%d\n", eff.LoadMoreWait, eff.SettleDelay, eff.MaxLoadMore)
	}
	fmt.Fprintf(p.w, "  driver: %s (headless=%s)\n", eff.Driver, onOff(eff.Headless))
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  batch_size: %d\n", eff.BatchSize)
	if eff.CacheDir != "" && eff.CacheReadOnly {
		fmt.Fprintf(p.w, "  cache: %s (readonly)\n", eff.CacheDir)
	} else {
		fmt.Fprintf(p.w, "  cache: %s\n", orOff(eff.CacheDir))
	}
	fmt.Fprintf(p.w, "  ledger: %s (resume=%s)\n", orOff(eff.Ledger), onOff(eff.Resume))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  csv: %s\n", eff.Output)
	fmt.Fprintf(p.w, "  report: %s.report.json\n", eff.Output)
	fmt.Fprintln(p.w)

	p.phase = "listing"
	if eff.Kind == config.KindMarket {
		p.phase = "market"
	}
	p.lastPrinted = time.Now()
	if !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "load_more":
		// 点击可能上百次：只打印第一次与每 10 次，其余交给 keepalive。
		p.phase = "listing"
		p.clicks = intField(fields, "clicks")
		if p.clicks != 1 && p.clicks%10 != 0 {
			return
		}
		fmt.Fprintf(p.w, "加载更多 %d: clicks=%d (%s)\n", intField(fields, "year"), p.clicks, formatShortDuration(dur))
	case "listing":
		fmt.Fprintf(p.w, "列表 %d: items=%d clicks=%d (%s)\n",
			intField(fields, "year"), intField(fields, "items"), intField(fields, "clicks"), formatShortDuration(dur),
		)
		p.phase = "details"
		p.clicks = 0
	case "market":
		fmt.Fprintf(p.w, "行情: rows=%d (%s)\n", intField(fields, "rows"), formatShortDuration(dur))
	case "close":
		fmt.Fprintf(p.w, "收尾: rows=%d flushes=%d pending=%d (%s)\n\n",
			intField(fields, "rows"), intField(fields, "flushes"), intField(fields, "pending"), formatShortDuration(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	status := strings.ToUpper(res.Status)
	switch res.Status {
	case domain.StatusProcessed:
		p.ok++
		status = "OK"
	case domain.StatusDegraded:
		p.degraded++
		status = "PART"
	case domain.StatusFailed:
		p.fail++
		status = "FAIL"
	case domain.StatusSkipped:
		p.skip++
		status = "SKIP"
	}

	switch res.Status {
	case domain.StatusDegraded, domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] %s %s %s: %s (%s)\n",
			idx, total, res.ID, status, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.StatusSkipped:
		fmt.Fprintf(p.w, "[%d/%d] %s %s (已写入过，续跑跳过)\n", idx, total, res.ID, status)
	default:
		title := truncate(res.Title, 60)
		if res.Reviews > 0 {
			fmt.Fprintf(p.w, "[%d/%d] %s %s %s reviews=%d (%s)\n",
				idx, total, res.ID, status, title, res.Reviews, formatShortDuration(dur),
			)
		} else {
			fmt.Fprintf(p.w, "[%d/%d] %s %s %s (%s)\n",
				idx, total, res.ID, status, title, formatShortDuration(dur),
			)
		}
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnFlush(f domain.FlushResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rows += f.Rows
	header := ""
	if f.Header {
		header = " +header"
	}
	fmt.Fprintf(p.w, "落盘 #%d: rows=%d%s total=%d\n", f.Seq, f.Rows, header, p.rows)
	p.lastPrinted = time.Now()
}

// Stop 停止 keepalive；可重复调用。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, p.keepaliveLineLocked())
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) keepaliveLineLocked() string {
	if p.phase == "listing" {
		return fmt.Sprintf("进度: phase=listing clicks=%d done=%d rows=%d elapsed=%s",
			p.clicks, p.done, p.rows, formatElapsed(time.Since(p.startedAt)),
		)
	}
	return fmt.Sprintf("进度: phase=%s done=%d ok=%d part=%d fail=%d skip=%d rows=%d elapsed=%s",
		p.phase, p.done, p.ok, p.degraded, p.fail, p.skip, p.rows, formatElapsed(time.Since(p.startedAt)),
	)
}

// renderSummary 在交互终端打印结束汇总表；失败/降级条目单独列出（最多 20 条）。
func renderSummary(w io.Writer, rr domain.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"processed", "degraded", "skipped", "failed", "flushes", "rows"})
	t.AppendRow(table.Row{
		rr.Summary.Processed, rr.Summary.Degraded, rr.Summary.Skipped,
		rr.Summary.Failed, rr.Summary.Flushes, rr.Summary.RowsWritten,
	})
	t.Render()

	const maxRows = 20
	var problems []domain.ItemResult
	for _, it := range rr.Items {
		if it.Status == domain.StatusFailed || it.Status == domain.StatusDegraded {
			problems = append(problems, it)
		}
	}
	if len(problems) == 0 {
		return
	}

	pt := table.NewWriter()
	pt.SetOutputMirror(w)
	pt.SetStyle(table.StyleRounded)
	pt.AppendHeader(table.Row{"item", "status", "error_code", "error_msg"})
	for i, it := range problems {
		if i == maxRows {
			pt.AppendFooter(table.Row{fmt.Sprintf("... +%d", len(problems)-maxRows), "", "", ""})
			break
		}
		pt.AppendRow(table.Row{itemKey(it), it.Status, it.ErrorCode, truncate(it.ErrorMsg, 80)})
	}
	pt.Render()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func orOff(s string) string {
	if strings.TrimSpace(s) == "" {
		return "off"
	}
	return s
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
