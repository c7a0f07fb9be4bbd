package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是 cwd 下自动发现的配置文件；同目录的 harvest.local.json5 覆盖其中的字段。
	FileName = "harvest.json5"

	EnvChromePath = "HARVEST_CHROME_PATH"
	EnvProxy      = "HARVEST_PROXY"
)

const (
	KindMovies = "movies"
	KindMarket = "market"
)

const (
	DriverChrome = "chrome"
	DriverHTTP   = "http"
)

// 内置默认值（CLI 与配置文件都未指定时）。
const (
	DefaultMoviesOutput = "imdb_movies.csv"
	DefaultMarketOutput = "dow30.csv"
	DefaultBatchSize    = 10
	DefaultMaxReviews   = 10
	DefaultRatePerSec   = 1.0
	DefaultLoadMoreWait = 3 * time.Second
	DefaultSettleDelay  = 2 * time.Second
	DefaultPageTimeout  = 10 * time.Second
	DefaultNavTimeout   = 60 * time.Second
	DefaultMarketSettle = 5 * time.Second
	DefaultMaxLoadMore  = 500
	DefaultLedger       = ".harvest/ledger.db"

	// LedgerOff 关闭落盘台账（同时无法使用 resume）。
	LedgerOff = "off"

	minYear = 1874
	maxYear = 2100
)

// CLIArgs 是 CLI 暴露的参数，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --headless=false 必须能覆盖 config.headless=true。
type CLIArgs struct {
	Kind string
	// ConfigPath 非空时必须存在（不再做 cwd 自动发现）。
	ConfigPath string

	Output    string
	OutputSet bool

	BatchSize    int
	BatchSizeSet bool

	MinRating    float64
	MinRatingSet bool

	Year    int
	YearSet bool

	EndYear    int
	EndYearSet bool

	MinVotes    int
	MinVotesSet bool

	MaxReviews    int
	MaxReviewsSet bool

	Driver    string
	DriverSet bool

	Headless    bool
	HeadlessSet bool

	Proxy    string
	ProxySet bool

	CacheDir    string
	CacheDirSet bool

	CacheReadOnly    bool
	CacheReadOnlySet bool

	Ledger    string
	LedgerSet bool

	Resume    bool
	ResumeSet bool
}

// FileConfig 对应 harvest.json5 的解析结构。
// 全部用指针：区分“未填写”和“填了零值”，local 覆盖文件才能把 true 改成 false。
// 时长字段用 Go duration 字符串（"3s"、"1m30s"）。
type FileConfig struct {
	Output       *string  `json:"output"`
	MarketOutput *string  `json:"market_output"`
	BatchSize    *int     `json:"batch_size"`
	MinRating    *float64 `json:"min_rating"`
	Year         *int     `json:"year"`
	EndYear      *int     `json:"end_year"`
	MinVotes     *int     `json:"min_votes"`
	MaxReviews   *int     `json:"max_reviews"`

	Driver     *string  `json:"driver"`
	Headless   *bool    `json:"headless"`
	Proxy      *string  `json:"proxy"`
	ChromePath *string  `json:"chrome_path"`
	RatePerSec *float64 `json:"rate_per_sec"`

	LoadMoreWait *string `json:"load_more_wait"`
	SettleDelay  *string `json:"settle_delay"`
	PageTimeout  *string `json:"page_timeout"`
	NavTimeout   *string `json:"navigate_timeout"`
	MarketSettle *string `json:"market_settle"`
	MaxLoadMore  *int    `json:"max_load_more"`

	CacheDir      *string `json:"cache_dir"`
	CacheReadOnly *bool   `json:"cache_readonly"`
	Ledger        *string `json:"ledger"`
	Resume        *bool   `json:"resume"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Kind string
	// Source 是实际读取的配置文件；未读取任何文件时为空。
	Source string

	Output     string // 绝对路径
	BatchSize  int
	MinRating  float64
	Year       int
	EndYear    int
	MinVotes   int
	MaxReviews int

	Driver     string
	Headless   bool
	ProxyURL   string
	ChromePath string
	RatePerSec float64

	LoadMoreWait time.Duration
	SettleDelay  time.Duration
	PageTimeout  time.Duration
	// NavTimeout 约束一次页面加载；0 表示不限。
	NavTimeout   time.Duration
	MarketSettle time.Duration
	MaxLoadMore  int

	// CacheDir 为空表示不缓存页面。
	CacheDir string
	// CacheReadOnly 只重放缓存：命中直接返回，未命中照常抓取但不写回。
	CacheReadOnly bool
	// Ledger 为空表示不记录台账。
	Ledger string
	Resume bool
}

// Years 返回需要逐年检索的年份（含首尾）。
func (c EffectiveConfig) Years() []int {
	out := make([]int, 0, c.EndYear-c.Year+1)
	for y := c.Year; y <= c.EndYear; y++ {
		out = append(out, y)
	}
	return out
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			if e.Path == "" {
				return fmt.Sprintf("%s：%v", e.Code, e.Err)
			}
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置文件与环境变量，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 提供 --config：读取该文件（必选）及其 .local 覆盖文件
// 2) 否则：读取 <cwd>/harvest.json5 与 <cwd>/harvest.local.json5（都可选）
//
// 覆盖优先级：CLI（显式指定）> 环境变量（仅 proxy/chrome_path）> 配置文件 > 内置默认。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	return LoadEffectiveEnv(cwd, cli, os.Getenv)
}

// LoadEffectiveEnv 与 LoadEffective 相同，但环境变量从 getenv 读取（测试用）。
func LoadEffectiveEnv(cwd string, cli CLIArgs, getenv func(string) string) (EffectiveConfig, error) {
	cwdAbs, fc, source, err := discover(cwd, cli)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	return merge(cwdAbs, cli, fc, getenv, source)
}

// LedgerTarget 是查询台账所需的最小配置。
type LedgerTarget struct {
	Source string
	Output string // 绝对路径
	// Ledger 为空表示台账已关闭。
	Ledger string
}

// LoadLedgerTarget 按与 LoadEffective 相同的发现规则与优先级，只解析 output 与 ledger。
// 不校验检索条件，查询历史运行时不必提供 year。
func LoadLedgerTarget(cwd string, cli CLIArgs) (LedgerTarget, error) {
	cwdAbs, fc, source, err := discover(cwd, cli)
	if err != nil {
		return LedgerTarget{}, err
	}
	kind := strings.TrimSpace(cli.Kind)
	if kind == "" {
		kind = KindMovies
	}
	if kind != KindMovies && kind != KindMarket {
		return LedgerTarget{}, &Error{Code: ErrCodeInvalid, Path: source, Err: fmt.Errorf("未知的抓取类型：%q", kind)}
	}
	output := pickOutput(kind, fc, cli)
	if strings.TrimSpace(output) == "" {
		return LedgerTarget{}, &Error{Code: ErrCodeInvalid, Path: source, Err: errors.New("output 不能为空")}
	}
	return LedgerTarget{
		Source: source,
		Output: absCleanFrom(cwdAbs, output),
		Ledger: pickLedger(cwdAbs, fc, cli),
	}, nil
}

// discover 定位并读取配置文件；source 为实际读取的文件，未读取时为空。
func discover(cwd string, cli CLIArgs) (cwdAbs string, fc FileConfig, source string, err error) {
	cwdAbs, err = filepath.Abs(cwd)
	if err != nil {
		return "", FileConfig{}, "", &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath  string
		required bool
	)
	if p := strings.TrimSpace(cli.ConfigPath); p != "" {
		cfgPath = absCleanFrom(cwdAbs, p)
		required = true
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return "", FileConfig{}, "", &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if required && !exists {
		return "", FileConfig{}, "", &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if exists {
		source = cfgPath
	}
	return cwdAbs, fc, source, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, getenv func(string) string, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	kind := strings.TrimSpace(cli.Kind)
	if kind == "" {
		kind = KindMovies
	}
	if kind != KindMovies && kind != KindMarket {
		return invalid("未知的抓取类型：%q", kind)
	}

	output := pickOutput(kind, fc, cli)
	if strings.TrimSpace(output) == "" {
		return invalid("output 不能为空")
	}

	batchSize := pickInt(DefaultBatchSize, fc.BatchSize, cli.BatchSize, cli.BatchSizeSet)
	if batchSize < 1 {
		return invalid("batch_size 必须 >= 1，实际 %d", batchSize)
	}

	minRating := pickFloat(0, fc.MinRating, cli.MinRating, cli.MinRatingSet)
	if minRating < 0 || minRating > 10 {
		return invalid("min_rating 必须在 [0, 10] 内，实际 %v", minRating)
	}

	year := pickInt(0, fc.Year, cli.Year, cli.YearSet)
	endYear := pickInt(0, fc.EndYear, cli.EndYear, cli.EndYearSet)
	if kind == KindMovies {
		if year == 0 {
			return invalid("year 必须指定")
		}
		if year < minYear || year > maxYear {
			return invalid("year 超出范围 [%d, %d]：%d", minYear, maxYear, year)
		}
		if endYear == 0 {
			endYear = year
		}
		if endYear < year || endYear > maxYear {
			return invalid("end_year 必须在 [year, %d] 内，实际 %d", maxYear, endYear)
		}
	}

	minVotes := pickInt(0, fc.MinVotes, cli.MinVotes, cli.MinVotesSet)
	if minVotes < 0 {
		return invalid("min_votes 不能为负数：%d", minVotes)
	}

	// max_reviews：0 表示使用默认上限。
	maxReviews := pickInt(DefaultMaxReviews, fc.MaxReviews, cli.MaxReviews, cli.MaxReviewsSet)
	if maxReviews < 0 {
		return invalid("max_reviews 不能为负数：%d", maxReviews)
	}
	if maxReviews == 0 {
		maxReviews = DefaultMaxReviews
	}

	driver := strings.ToLower(strings.TrimSpace(pickString(DriverChrome, fc.Driver, cli.Driver, cli.DriverSet)))
	if driver != DriverChrome && driver != DriverHTTP {
		return invalid("driver 只能是 chrome 或 http，实际是 %q", driver)
	}

	headless := true
	if cli.HeadlessSet {
		headless = cli.Headless
	} else if fc.Headless != nil {
		headless = *fc.Headless
	}

	// proxy：CLI > env > config
	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = *fc.Proxy
	}
	if v := strings.TrimSpace(getenv(EnvProxy)); v != "" {
		proxyURL = v
	}
	if cli.ProxySet {
		proxyURL = cli.Proxy
	}
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("proxy 无效：%q", proxyURL)
		}
	}

	chromePath := ""
	if fc.ChromePath != nil {
		chromePath = strings.TrimSpace(*fc.ChromePath)
	}
	if v := strings.TrimSpace(getenv(EnvChromePath)); v != "" {
		chromePath = v
	}

	rate := DefaultRatePerSec
	if fc.RatePerSec != nil {
		rate = *fc.RatePerSec
	}
	if rate < 0 {
		return invalid("rate_per_sec 不能为负数：%v", rate)
	}

	var durs [5]time.Duration
	for i, d := range []struct {
		name string
		def  time.Duration
		v    *string
	}{
		{"load_more_wait", DefaultLoadMoreWait, fc.LoadMoreWait},
		{"settle_delay", DefaultSettleDelay, fc.SettleDelay},
		{"page_timeout", DefaultPageTimeout, fc.PageTimeout},
		{"market_settle", DefaultMarketSettle, fc.MarketSettle},
		{"navigate_timeout", DefaultNavTimeout, fc.NavTimeout},
	} {
		v, err := parseDuration(d.v, d.def)
		if err != nil {
			return invalid("%s 无效：%v", d.name, err)
		}
		durs[i] = v
	}

	maxLoadMore := DefaultMaxLoadMore
	if fc.MaxLoadMore != nil {
		maxLoadMore = *fc.MaxLoadMore
	}
	if maxLoadMore < 1 {
		return invalid("max_load_more 必须 >= 1，实际 %d", maxLoadMore)
	}

	cacheDir := strings.TrimSpace(pickString("", fc.CacheDir, cli.CacheDir, cli.CacheDirSet))
	if cacheDir != "" {
		cacheDir = absCleanFrom(cwdAbs, cacheDir)
	}

	cacheReadOnly := false
	if cli.CacheReadOnlySet {
		cacheReadOnly = cli.CacheReadOnly
	} else if fc.CacheReadOnly != nil {
		cacheReadOnly = *fc.CacheReadOnly
	}
	if cacheReadOnly && cacheDir == "" {
		return invalid("cache_readonly 需要设置 cache_dir")
	}

	ledger := pickLedger(cwdAbs, fc, cli)

	resume := false
	if cli.ResumeSet {
		resume = cli.Resume
	} else if fc.Resume != nil {
		resume = *fc.Resume
	}
	if resume && ledger == "" {
		return invalid("resume 需要启用 ledger")
	}

	return EffectiveConfig{
		Kind:         kind,
		Source:       cfgPath,
		Output:       absCleanFrom(cwdAbs, output),
		BatchSize:    batchSize,
		MinRating:    minRating,
		Year:         year,
		EndYear:      endYear,
		MinVotes:     minVotes,
		MaxReviews:   maxReviews,
		Driver:       driver,
		Headless:     headless,
		ProxyURL:     proxyURL,
		ChromePath:   chromePath,
		RatePerSec:   rate,
		LoadMoreWait: durs[0],
		SettleDelay:  durs[1],
		PageTimeout:  durs[2],
		MarketSettle: durs[3],
		NavTimeout:   durs[4],
		MaxLoadMore:  maxLoadMore,

		CacheDir:      cacheDir,
		CacheReadOnly: cacheReadOnly,
		Ledger:        ledger,
		Resume:        resume,
	}, nil
}

// pickOutput：CLI > config（按类型区分）> 默认。
func pickOutput(kind string, fc FileConfig, cli CLIArgs) string {
	output := DefaultMoviesOutput
	fileOutput := fc.Output
	if kind == KindMarket {
		output = DefaultMarketOutput
		fileOutput = fc.MarketOutput
	}
	return pickString(output, fileOutput, cli.Output, cli.OutputSet)
}

// pickLedger 返回台账路径；"off" 或空串表示关闭，返回 ""。
func pickLedger(cwdAbs string, fc FileConfig, cli CLIArgs) string {
	ledger := strings.TrimSpace(pickString(DefaultLedger, fc.Ledger, cli.Ledger, cli.LedgerSet))
	switch {
	case ledger == "" || strings.EqualFold(ledger, LedgerOff):
		return ""
	case ledger == ":memory:":
		return ledger
	default:
		return absCleanFrom(cwdAbs, ledger)
	}
}

func pickString(def string, file *string, cli string, cliSet bool) string {
	if cliSet {
		return cli
	}
	if file != nil {
		return *file
	}
	return def
}

func pickInt(def int, file *int, cli int, cliSet bool) int {
	if cliSet {
		return cli
	}
	if file != nil {
		return *file
	}
	return def
}

func pickFloat(def float64, file *float64, cli float64, cliSet bool) float64 {
	if cliSet {
		return cli
	}
	if file != nil {
		return *file
	}
	return def
}

func parseDuration(v *string, def time.Duration) (time.Duration, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("不能为负数：%s", d)
	}
	return d, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// LocalPath 返回 path 对应的本地覆盖文件：harvest.json5 -> harvest.local.json5。
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// readFileConfig 读取 path 与其 .local 覆盖文件（JSON5），后者字段覆盖前者。
// 返回值 exists 表示两者中至少有一个存在（都不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	base, ok, err := readJSON5(path)
	if err != nil {
		return FileConfig{}, false, err
	}
	exists = ok
	fc = base

	localPath := LocalPath(path)
	local, ok, err := readJSON5(localPath)
	if err != nil {
		return FileConfig{}, exists, fmt.Errorf("%s：%w", filepath.Base(localPath), err)
	}
	if ok {
		if err := mergo.Merge(&fc, local, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return FileConfig{}, true, err
		}
		slog.Debug("合并本地覆盖配置", "local", localPath)
		exists = true
	}
	return fc, exists, nil
}

func readJSON5(path string) (FileConfig, bool, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return FileConfig{}, true, nil
	}
	if err := json5.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
