package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) string { return "" }

func TestLoadEffective_DefaultsWithoutFile(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMovies, Year: 2020, YearSet: true}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Source != "" {
		t.Fatalf("期望未读取配置文件，实际 %q", eff.Source)
	}
	if want := filepath.Join(cwd, DefaultMoviesOutput); eff.Output != want {
		t.Fatalf("期望 output=%q，实际=%q", want, eff.Output)
	}
	if eff.BatchSize != DefaultBatchSize || eff.MaxReviews != DefaultMaxReviews {
		t.Fatalf("默认值不符：batch=%d reviews=%d", eff.BatchSize, eff.MaxReviews)
	}
	if eff.EndYear != 2020 {
		t.Fatalf("期望 end_year 默认等于 year，实际 %d", eff.EndYear)
	}
	if eff.Driver != DriverChrome || !eff.Headless {
		t.Fatalf("期望 chrome + headless，实际 %q %v", eff.Driver, eff.Headless)
	}
	if eff.LoadMoreWait != DefaultLoadMoreWait || eff.SettleDelay != DefaultSettleDelay || eff.MaxLoadMore != DefaultMaxLoadMore {
		t.Fatalf("分页默认值不符：%v %v %d", eff.LoadMoreWait, eff.SettleDelay, eff.MaxLoadMore)
	}
	if want := filepath.Join(cwd, DefaultLedger); eff.Ledger != want {
		t.Fatalf("期望 ledger=%q，实际=%q", want, eff.Ledger)
	}
	if eff.CacheDir != "" || eff.CacheReadOnly {
		t.Fatalf("期望默认不缓存，实际 %q readonly=%v", eff.CacheDir, eff.CacheReadOnly)
	}
	if eff.NavTimeout != DefaultNavTimeout {
		t.Fatalf("期望 navigate_timeout=%v，实际 %v", DefaultNavTimeout, eff.NavTimeout)
	}
}

func TestLoadEffective_MoviesRequireYear(t *testing.T) {
	_, err := LoadEffectiveEnv(t.TempDir(), CLIArgs{Kind: KindMovies}, noEnv)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}

	// market 不需要年份。
	eff, err := LoadEffectiveEnv(t.TempDir(), CLIArgs{Kind: KindMarket}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if filepath.Base(eff.Output) != DefaultMarketOutput {
		t.Fatalf("期望默认 market 输出，实际 %q", eff.Output)
	}
}

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMarket, ConfigPath: "nope.json5"}, noEnv)
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_FileAndLocalOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{
		// 注释与尾逗号都允许
		"output": "out/movies.csv",
		"year": 1994,
		"batch_size": 5,
		"headless": true,
		"load_more_wait": "1s",
	}`))
	writeFile(t, filepath.Join(cwd, "harvest.local.json5"), []byte(`{"headless": false, "batch_size": 7}`))

	eff, err := LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMovies}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Source != filepath.Join(cwd, FileName) {
		t.Fatalf("Source 不符：%q", eff.Source)
	}
	if eff.Headless {
		t.Fatalf("期望 local 覆盖为 headless=false")
	}
	if eff.BatchSize != 7 {
		t.Fatalf("期望 batch_size=7，实际=%d", eff.BatchSize)
	}
	if eff.Year != 1994 {
		t.Fatalf("期望 year=1994，实际=%d", eff.Year)
	}
	if eff.LoadMoreWait != time.Second {
		t.Fatalf("期望 load_more_wait=1s，实际=%v", eff.LoadMoreWait)
	}
	if want := filepath.Join(cwd, "out", "movies.csv"); eff.Output != want {
		t.Fatalf("期望 output=%q，实际=%q", want, eff.Output)
	}
}

func TestLoadEffective_CLIOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"year": 1994, "headless": true, "resume": true, "driver": "http"}`))

	eff, err := LoadEffectiveEnv(cwd, CLIArgs{
		Kind:        KindMovies,
		Headless:    false,
		HeadlessSet: true, // --headless=false
		Resume:      false,
		ResumeSet:   true,
		Year:        2001,
		YearSet:     true,
		EndYear:     2003,
		EndYearSet:  true,
	}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Headless || eff.Resume {
		t.Fatalf("期望 CLI 覆盖：headless=%v resume=%v", eff.Headless, eff.Resume)
	}
	if eff.Driver != DriverHTTP {
		t.Fatalf("期望 driver=http，实际=%q", eff.Driver)
	}
	if got := eff.Years(); len(got) != 3 || got[0] != 2001 || got[2] != 2003 {
		t.Fatalf("年份展开不符：%v", got)
	}
}

func TestLoadEffective_EnvPrecedence(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"proxy": "http://file:1", "chrome_path": "/file/chrome"}`))

	env := map[string]string{
		EnvProxy:      "http://env:2",
		EnvChromePath: "/env/chrome",
	}
	getenv := func(k string) string { return env[k] }

	eff, err := LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMarket}, getenv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ProxyURL != "http://env:2" || eff.ChromePath != "/env/chrome" {
		t.Fatalf("期望环境变量优先于文件：%q %q", eff.ProxyURL, eff.ChromePath)
	}

	eff, err = LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMarket, Proxy: "socks5://cli:3", ProxySet: true}, getenv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ProxyURL != "socks5://cli:3" {
		t.Fatalf("期望 CLI 优先：%q", eff.ProxyURL)
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad json":      `{`,
		"batch":         `{"batch_size": 0}`,
		"rating":        `{"min_rating": 11}`,
		"driver":        `{"driver": "firefox"}`,
		"proxy":         `{"proxy": "not a url"}`,
		"duration":      `{"settle_delay": "soon"}`,
		"neg duration":  `{"page_timeout": "-1s"}`,
		"max load more": `{"max_load_more": 0}`,
		"end year":      `{"end_year": 1990}`,
		"resume":        `{"ledger": "off", "resume": true}`,
		"reviews":       `{"max_reviews": -1}`,
		"nav timeout":   `{"navigate_timeout": "forever"}`,
		"readonly":      `{"cache_readonly": true}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, FileName), []byte(body))
			_, err := LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMovies, Year: 1994, YearSet: true}, noEnv)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoadEffective_LedgerOffAndCache(t *testing.T) {
	cwd := t.TempDir()
	eff, err := LoadEffectiveEnv(cwd, CLIArgs{
		Kind:        KindMarket,
		Ledger:      "off",
		LedgerSet:   true,
		CacheDir:    "cache",
		CacheDirSet: true,
	}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Ledger != "" {
		t.Fatalf("期望 ledger 关闭，实际 %q", eff.Ledger)
	}
	if want := filepath.Join(cwd, "cache"); eff.CacheDir != want {
		t.Fatalf("期望 cache=%q，实际=%q", want, eff.CacheDir)
	}
}

func TestLoadEffective_CacheReadOnly(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"cache_dir": "cache", "cache_readonly": true, "navigate_timeout": "0s"}`))

	eff, err := LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMarket}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !eff.CacheReadOnly {
		t.Fatalf("期望 cache_readonly 生效")
	}
	if eff.NavTimeout != 0 {
		t.Fatalf("期望 navigate_timeout=0（不限），实际 %v", eff.NavTimeout)
	}

	// CLI 显式 false 覆盖文件里的 true。
	eff, err = LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMarket, CacheReadOnly: false, CacheReadOnlySet: true}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.CacheReadOnly {
		t.Fatalf("期望 --cache-readonly=false 覆盖配置文件")
	}

	// 关闭缓存目录后只读模式不再成立。
	_, err = LoadEffectiveEnv(cwd, CLIArgs{Kind: KindMarket, CacheDir: "", CacheDirSet: true}, noEnv)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeInvalid, err)
	}
}

func TestLoadLedgerTarget(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"output": "m.csv", "market_output": "d.csv", "ledger": "state/l.db"}`))

	// 不需要 year。
	got, err := LoadLedgerTarget(cwd, CLIArgs{Kind: KindMovies})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got.Output != filepath.Join(cwd, "m.csv") || got.Ledger != filepath.Join(cwd, "state", "l.db") {
		t.Fatalf("解析结果不符：%+v", got)
	}
	if got.Source != filepath.Join(cwd, FileName) {
		t.Fatalf("期望 source=%q，实际 %q", filepath.Join(cwd, FileName), got.Source)
	}

	got, err = LoadLedgerTarget(cwd, CLIArgs{Kind: KindMarket, Ledger: "off", LedgerSet: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got.Output != filepath.Join(cwd, "d.csv") || got.Ledger != "" {
		t.Fatalf("解析结果不符：%+v", got)
	}

	if _, err := LoadLedgerTarget(cwd, CLIArgs{Kind: "tv"}); Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeInvalid, err)
	}
}

func TestLocalPath(t *testing.T) {
	if got := LocalPath("/a/harvest.json5"); got != "/a/harvest.local.json5" {
		t.Fatalf("实际 %q", got)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写文件失败：%v", err)
	}
}
