package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/harvest/internal/app/run"
	"github.com/John-Robertt/harvest/internal/config"
	"github.com/John-Robertt/harvest/internal/domain"
	"github.com/John-Robertt/harvest/internal/infra/fsx"
)

func main() {
	// .env 可选；已存在的环境变量优先。
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], newStdio())
	stop()
	if code != 0 {
		os.Exit(code)
	}
}

// stdio 把终端相关的判断集中起来，测试里替换为 buffer。
type stdio struct {
	stdout    io.Writer
	stderr    io.Writer
	stdoutTTY bool
	// progress 为 nil 表示非交互环境，不输出进度。
	progress io.Writer
}

func newStdio() stdio {
	s := stdio{stdout: os.Stdout, stderr: os.Stderr, stdoutTTY: isTTY(os.Stdout)}
	s.progress, _ = pickProgressWriter()
	return s
}

// exitError 携带退出码：0 成功，1 运行/配置失败，2 参数错误。
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func execute(ctx context.Context, args []string, std stdio) int {
	root := newRootCmd(std)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(std.stderr, "参数错误：%v\n\n使用 \"harvest --help\" 查看详细说明。\n", err)
		return 2
	}
	return 0
}

// cliFlags 绑定全部 flag；是否显式指定由 cmd.Flags().Changed 判断。
type cliFlags struct {
	configPath string
	verbose    bool

	output    string
	batchSize int
	driver    string
	headless  bool
	proxy     string
	cacheDir  string
	cacheRO   bool
	ledger    string
	resume    bool

	minRating  float64
	year       int
	endYear    int
	minVotes   int
	maxReviews int
}

func newRootCmd(std stdio) *cobra.Command {
	return buildRootCmd(std, &cliFlags{})
}

func buildRootCmd(std stdio, f *cliFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "harvest",
		Short:         "harvest 抓取 IMDb 电影列表与 CNBC 道指成分股行情，批量写入 CSV。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(std.stderr, f.verbose)
		},
	}
	root.SetOut(std.stdout)
	root.SetErr(std.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "配置文件路径（默认读取当前目录的 "+config.FileName+"，不存在则忽略）")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "输出 debug 日志")
	pf.StringVarP(&f.output, "output", "o", "", "输出 CSV 路径（追加写入）")
	pf.IntVar(&f.batchSize, "batch-size", config.DefaultBatchSize, "每批落盘的行数")
	pf.StringVar(&f.driver, "driver", config.DriverChrome, "页面驱动：chrome|http")
	pf.BoolVar(&f.headless, "headless", true, "无界面运行浏览器；--headless=false 可观察页面")
	pf.StringVar(&f.proxy, "proxy", "", "代理 URL（也可用环境变量 "+config.EnvProxy+"）")
	pf.StringVar(&f.cacheDir, "cache-dir", "", "详情/评论页 HTML 缓存目录（默认不缓存）")
	pf.BoolVar(&f.cacheRO, "cache-readonly", false, "只重放缓存：命中直接使用，未命中照常抓取但不写回（需要 --cache-dir）")
	pf.StringVar(&f.ledger, "ledger", config.DefaultLedger, "落盘台账路径；off 表示关闭")
	pf.BoolVar(&f.resume, "resume", false, "续跑：跳过台账中已写入当前输出文件的条目")

	movies := &cobra.Command{
		Use:   "movies --year <Y> [--end-year <Y>] [--min-rating <R>] [--min-votes <N>]",
		Short: "按年份检索 IMDb 电影，补全详情与评论后写入 CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKind(cmd, std, config.KindMovies, f)
		},
	}
	mf := movies.Flags()
	mf.Float64Var(&f.minRating, "min-rating", 0, "最低评分（0-10）")
	mf.IntVar(&f.year, "year", 0, "检索年份（必填）")
	mf.IntVar(&f.endYear, "end-year", 0, "结束年份（含）；默认与 --year 相同")
	mf.IntVar(&f.minVotes, "min-votes", 0, "最少投票数")
	mf.IntVar(&f.maxReviews, "max-reviews", config.DefaultMaxReviews, "每部电影最多读取的评论数")

	market := &cobra.Command{
		Use:   "market",
		Short: "抓取一次 CNBC 道指 30 成分股快照并写入 CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKind(cmd, std, config.KindMarket, f)
		},
	}

	root.AddCommand(movies, market, newRunsCmd(std, f))
	return root
}

func setupLogger(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isTTY(f)
	}
	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	})))
}

// cliArgs 把 flag 映射为 config.CLIArgs；未显式指定的 flag 不覆盖配置文件。
func cliArgs(cmd *cobra.Command, kind string, f *cliFlags) config.CLIArgs {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	return config.CLIArgs{
		Kind:          kind,
		ConfigPath:    f.configPath,
		Output:        f.output,
		OutputSet:     changed("output"),
		BatchSize:     f.batchSize,
		BatchSizeSet:  changed("batch-size"),
		MinRating:     f.minRating,
		MinRatingSet:  changed("min-rating"),
		Year:          f.year,
		YearSet:       changed("year"),
		EndYear:       f.endYear,
		EndYearSet:    changed("end-year"),
		MinVotes:      f.minVotes,
		MinVotesSet:   changed("min-votes"),
		MaxReviews:    f.maxReviews,
		MaxReviewsSet: changed("max-reviews"),
		Driver:        f.driver,
		DriverSet:     changed("driver"),
		Headless:      f.headless,
		HeadlessSet:   changed("headless"),
		Proxy:         f.proxy,
		ProxySet:      changed("proxy"),
		CacheDir:      f.cacheDir,
		CacheDirSet:   changed("cache-dir"),

		CacheReadOnly:    f.cacheRO,
		CacheReadOnlySet: changed("cache-readonly"),

		Ledger:        f.ledger,
		LedgerSet:     changed("ledger"),
		Resume:        f.resume,
		ResumeSet:     changed("resume"),
	}
}

func runKind(cmd *cobra.Command, std stdio, kind string, f *cliFlags) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(std.stderr, "读取当前目录失败：%v\n", err)
		return &exitError{code: 1}
	}

	eff, err := config.LoadEffective(cwd, cliArgs(cmd, kind, f))
	if err != nil {
		emitReport(std, reportForConfigError(kind, err))
		return &exitError{code: 1}
	}
	slog.DebugContext(ctx, "生效配置", "kind", eff.Kind, "source", eff.Source, "output", eff.Output, "driver", eff.Driver)

	deps, cleanup, err := run.Prepare(ctx, eff)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(std.stderr, "初始化失败：%v\n", err)
		return &exitError{code: 1}
	}

	var (
		obs run.Observer
		ui  *progressUI
	)
	if std.progress != nil {
		ui = newProgressUI(std.progress)
		obs = ui
	}

	var (
		rr     domain.RunReport
		runErr error
	)
	switch kind {
	case config.KindMarket:
		rr, runErr = run.ExecuteMarket(ctx, eff, deps, obs)
	default:
		rr, runErr = run.ExecuteMovies(ctx, eff, deps, obs)
	}
	if ui != nil {
		ui.Stop()
	}
	if runErr != nil {
		slog.Error("运行未完整结束", "err", runErr)
	}

	reportPath := eff.Output + ".report.json"
	if err := writeReportFile(reportPath, rr); err != nil {
		fmt.Fprintf(std.stderr, "写入 %s 失败：%v\n", filepath.Base(reportPath), err)
		emitReport(std, rr)
		return &exitError{code: 1}
	}

	emitReport(std, rr)
	if std.progress != nil {
		renderSummary(std.progress, rr)
		fmt.Fprintf(std.progress, "csv: %s\nreport: %s\n", eff.Output, reportPath)
	}
	if runErr != nil || rr.Summary.Failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func emitReport(std stdio, rr domain.RunReport) {
	summary := fmt.Sprintf("完成：processed=%d degraded=%d skipped=%d failed=%d rows=%d\n",
		rr.Summary.Processed, rr.Summary.Degraded, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.RowsWritten,
	)
	if std.stdoutTTY {
		fmt.Fprint(std.stdout, summary)
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			fmt.Fprintf(std.stderr, "%s %s: %s\n", itemKey(it), it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	_ = json.NewEncoder(std.stdout).Encode(rr)
	fmt.Fprint(std.stderr, summary)
}

// itemKey 给合成条目一个可读的定位锚点。
func itemKey(it domain.ItemResult) string {
	switch {
	case it.ID != "":
		return it.ID
	case it.Year != 0:
		return fmt.Sprintf("year=%d", it.Year)
	default:
		return "<run>"
	}
}

func reportForConfigError(kind string, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Kind:       kind,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), b)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
