package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/harvest/internal/batch"
	"github.com/John-Robertt/harvest/internal/config"
	"github.com/John-Robertt/harvest/internal/domain"
	"github.com/John-Robertt/harvest/internal/infra/ledger"
	"github.com/John-Robertt/harvest/internal/paginate"
	"github.com/John-Robertt/harvest/internal/provider/cnbc"
	"github.com/John-Robertt/harvest/internal/provider/imdb"
)

// ErrFlush 表示落盘失败导致运行中止（已落盘的行保留，未落盘的行数见 report）。
var ErrFlush = errors.New("落盘失败")

// ExecuteMovies 逐年展开 IMDb 列表，逐条补全详情与评论，攒批写入 CSV。
//
// 失败分级：
// - 字段缺失：sentinel，条目仍为 processed
// - 详情/评论页不可用：条目为 degraded，照常写入
// - 某一年列表不可读：记一条合成 failed 条目，继续下一年
// - 落盘失败 / ctx 取消：停止抓取，尽力落盘剩余行，返回 error
func ExecuteMovies(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) (domain.RunReport, error) {
	r, err := start(ctx, eff, deps, obs, domain.KindMovies)
	if err != nil {
		return r.report, err
	}

	w, err := newWriter[domain.MovieRow](r, domain.MovieHeader)
	if err != nil {
		return r.fail(domain.ErrCodeConfigInvalid, err)
	}

	client := &imdb.Client{
		Driver:      deps.Driver,
		Cache:       deps.Cache,
		ListTimeout: eff.PageTimeout,
		Paginate: paginate.Options{
			Wait:      eff.LoadMoreWait,
			Settle:    eff.SettleDelay,
			MaxClicks: eff.MaxLoadMore,
		},
	}

	var runErr error
years:
	for _, year := range eff.Years() {
		if ctx.Err() != nil {
			break
		}

		t0 := time.Now()
		client.Paginate.OnClick = func(clicks int) {
			r.obs.OnPhaseDone("load_more", map[string]any{"year": year, "clicks": clicks}, time.Since(t0))
		}
		q := imdb.Query{Year: year, MinRating: eff.MinRating, MinVotes: eff.MinVotes}
		res, err := client.FetchListing(ctx, q)
		r.obs.OnPhaseDone("listing", map[string]any{
			"year":   year,
			"items":  len(res.Items),
			"clicks": res.Clicks,
		}, time.Since(t0))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			code := domain.ErrCodeListingFailed
			if errors.Is(err, paginate.ErrLayoutChanged) {
				code = domain.ErrCodeLayoutChanged
			}
			slog.WarnContext(ctx, "列表读取失败", "year", year, "url", res.URL, "err", err)
			r.report.Items = append(r.report.Items, domain.ItemResult{
				Year:      year,
				Status:    domain.StatusFailed,
				ErrorCode: code,
				ErrorMsg:  err.Error(),
			})
			if len(res.Items) == 0 {
				continue
			}
		}

		for i, it := range res.Items {
			if ctx.Err() != nil {
				break years
			}
			t1 := time.Now()
			item := domain.ItemResult{ID: it.ID, Title: it.Title, Year: year}

			if r.seen(it.ID) {
				item.Status = domain.StatusSkipped
				r.report.Items = append(r.report.Items, item)
				r.obs.OnItemDone(i+1, len(res.Items), item, time.Since(t1))
				continue
			}

			detail, derr := client.FetchDetails(ctx, it.ID)
			reviews, rerr := client.FetchReviews(ctx, it.ID, eff.MaxReviews)
			if ctx.Err() != nil {
				// 中断时拿到的是降级结果，不写入，留给续跑。
				break years
			}
			item.Reviews = len(reviews)
			item.Status = domain.StatusProcessed
			degrade(&item, derr, domain.ErrCodeDetailsFailed)
			degrade(&item, rerr, domain.ErrCodeReviewsFailed)

			r.mark(it.ID)
			r.report.Items = append(r.report.Items, item)
			r.obs.OnItemDone(i+1, len(res.Items), item, time.Since(t1))

			if err := w.Append(domain.MovieRow{Item: it, Detail: detail, Reviews: reviews}); err != nil {
				runErr = fmt.Errorf("%w：%v", ErrFlush, err)
				break years
			}
		}
	}

	return finish(ctx, r, w, runErr)
}

// ExecuteMarket 抓取一次道指成分股快照并写入 CSV。
func ExecuteMarket(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) (domain.RunReport, error) {
	r, err := start(ctx, eff, deps, obs, domain.KindMarket)
	if err != nil {
		return r.report, err
	}

	w, err := newWriter[domain.QuoteRow](r, domain.QuoteHeader)
	if err != nil {
		return r.fail(domain.ErrCodeConfigInvalid, err)
	}

	client := &cnbc.Client{
		Driver:  deps.Driver,
		Settle:  eff.MarketSettle,
		Timeout: eff.PageTimeout,
		Now:     deps.now,
	}

	t0 := time.Now()
	rows, err := client.Fetch(ctx)
	r.obs.OnPhaseDone("market", map[string]any{"rows": len(rows)}, time.Since(t0))
	if err != nil {
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "行情表格读取失败", "url", cnbc.URL, "err", err)
			r.report.Items = append(r.report.Items, domain.ItemResult{
				Status:    domain.StatusFailed,
				ErrorCode: domain.ErrCodeListingFailed,
				ErrorMsg:  err.Error(),
			})
		}
		return finish(ctx, r, w, nil)
	}

	var runErr error
	for i, q := range rows {
		item := domain.ItemResult{ID: q.Symbol, Title: q.Name, Status: domain.StatusProcessed}
		if r.seen(q.Key()) {
			item.Status = domain.StatusSkipped
			r.report.Items = append(r.report.Items, item)
			r.obs.OnItemDone(i+1, len(rows), item, 0)
			continue
		}
		r.mark(q.Key())
		r.report.Items = append(r.report.Items, item)
		r.obs.OnItemDone(i+1, len(rows), item, 0)
		if err := w.Append(q); err != nil {
			runErr = fmt.Errorf("%w：%v", ErrFlush, err)
			break
		}
	}
	return finish(ctx, r, w, runErr)
}

// runState 是一次运行的共享状态（单 goroutine 使用）。
type runState struct {
	eff    config.EffectiveConfig
	deps   Deps
	obs    Observer
	report domain.RunReport
	done   map[string]struct{}
}

func start(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer, kind string) (*runState, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	r := &runState{
		eff:  eff,
		deps: deps,
		obs:  obs,
		report: domain.RunReport{
			RunID:     uuid.NewString(),
			Kind:      kind,
			Output:    eff.Output,
			StartedAt: time.Now().UTC(),
			Items:     make([]domain.ItemResult, 0, 64),
		},
		done: make(map[string]struct{}),
	}
	obs.OnStart(eff, r.report.RunID)

	if deps.Driver == nil {
		_, err := r.fail(domain.ErrCodeConfigInvalid, errors.New("driver 不能为空"))
		return r, err
	}

	if deps.Ledger != nil {
		if err := deps.Ledger.StartRun(ctx, r.report.RunID, kind, eff.Output, r.report.StartedAt); err != nil {
			_, err = r.fail(domain.ErrCodeConfigInvalid, fmt.Errorf("写入 ledger 失败：%w", err))
			return r, err
		}
		if eff.Resume {
			seen, err := deps.Ledger.Seen(ctx, eff.Output)
			if err != nil {
				_, err = r.fail(domain.ErrCodeConfigInvalid, fmt.Errorf("读取 ledger 失败：%w", err))
				return r, err
			}
			r.done = seen
			slog.InfoContext(ctx, "续跑：跳过已写入的条目", "output", eff.Output, "written", len(seen))
		}
	}
	return r, nil
}

func (r *runState) seen(key string) bool {
	_, ok := r.done[key]
	return ok
}

func (r *runState) mark(key string) { r.done[key] = struct{}{} }

// fail 以一条合成条目结束运行（用于运行尚未开始抓取时的错误）。
func (r *runState) fail(code string, err error) (domain.RunReport, error) {
	r.report.Items = append(r.report.Items, domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	})
	r.report.FinishedAt = time.Now().UTC()
	r.report.Finalize()
	return r.report, err
}

// newWriter 组装 CSV sink + 台账记录 + 报告/进度回调。
func newWriter[T batch.Row](r *runState, header []string) (*batch.Writer[T], error) {
	csvSink, err := batch.NewCSVSink(r.eff.Output, header, r.eff.Resume)
	if err != nil {
		return nil, err
	}
	var sink batch.Sink = csvSink
	if r.deps.Ledger != nil {
		sink = ledgerSink{next: csvSink, ledger: r.deps.Ledger, runID: r.report.RunID}
	}
	return batch.NewWriter[T](r.eff.BatchSize, sink, batch.Options{
		OnFlush: func(b batch.Batch) {
			f := domain.FlushResult{Seq: b.Seq, Rows: len(b.Records), Header: b.Header}
			r.report.Flushes = append(r.report.Flushes, f)
			r.obs.OnFlush(f)
		},
	})
}

// finish 落盘剩余行，补齐中断/失败的合成条目，写台账结束时间并生成最终报告。
// 剩余行的落盘不受 ctx 取消影响。
func finish[T batch.Row](ctx context.Context, r *runState, w *batch.Writer[T], runErr error) (domain.RunReport, error) {
	aborted := ctx.Err() != nil && runErr == nil
	if aborted {
		runErr = ctx.Err()
		r.report.Items = append(r.report.Items, domain.ItemResult{
			Status:    domain.StatusFailed,
			ErrorCode: domain.ErrCodeAborted,
			ErrorMsg:  "运行被中断；已处理的条目会尽力落盘",
		})
	}

	t0 := time.Now()
	closeErr := w.Close()
	r.obs.OnPhaseDone("close", map[string]any{
		"rows":    w.Count(),
		"flushes": w.Flushes(),
		"pending": len(w.Pending()),
	}, time.Since(t0))

	flushErr := runErr != nil && errors.Is(runErr, ErrFlush)
	if flushErr || closeErr != nil {
		msg := ""
		if flushErr {
			msg = runErr.Error()
		}
		if closeErr != nil {
			if msg != "" {
				msg += "；"
			}
			msg += closeErr.Error()
		}
		if n := len(w.Pending()); n > 0 {
			keys := make([]string, 0, n)
			for _, p := range w.Pending() {
				keys = append(keys, p.Key())
			}
			msg += fmt.Sprintf("；未落盘 %d 行：%s", n, truncateKeys(keys, 10))
		}
		r.report.Items = append(r.report.Items, domain.ItemResult{
			Status:    domain.StatusFailed,
			ErrorCode: domain.ErrCodeFlushFailed,
			ErrorMsg:  msg,
		})
		if runErr == nil {
			runErr = fmt.Errorf("%w：%v", ErrFlush, closeErr)
		}
	}

	r.report.FinishedAt = time.Now().UTC()
	if r.deps.Ledger != nil {
		// 中断后 ctx 已取消，台账收尾仍要写入。
		if err := r.deps.Ledger.FinishRun(context.WithoutCancel(ctx), r.report.RunID, r.report.FinishedAt); err != nil {
			slog.WarnContext(ctx, "写入 ledger 结束时间失败", "run_id", r.report.RunID, "err", err)
		}
	}
	r.report.Finalize()
	return r.report, runErr
}

func degrade(item *domain.ItemResult, err error, code string) {
	if err == nil {
		return
	}
	item.Status = domain.StatusDegraded
	if item.ErrorCode == "" {
		item.ErrorCode = code
		item.ErrorMsg = err.Error()
		return
	}
	item.ErrorMsg += "；" + err.Error()
}

func truncateKeys(keys []string, max int) string {
	if len(keys) <= max {
		return strings.Join(keys, ",")
	}
	return strings.Join(keys[:max], ",") + ",...(+" + strconv.Itoa(len(keys)-max) + ")"
}

// ledgerSink 在 CSV 成功写入之后记录台账。
// CSV 是结果本身，台账只是续跑索引：台账写失败只告警，不让这一批算作失败。
type ledgerSink struct {
	next   batch.Sink
	ledger *ledger.Ledger
	runID  string
}

func (s ledgerSink) Flush(b batch.Batch) error {
	if err := s.next.Flush(b); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ledger.RecordFlush(ctx, s.runID, b.Seq, b.Header, b.Keys); err != nil {
		slog.Warn("写入 ledger 失败；续跑时这批条目可能重复", "run_id", s.runID, "seq", b.Seq, "err", err)
	}
	return nil
}
