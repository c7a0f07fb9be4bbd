package run

import (
	"context"
	"fmt"
	"time"

	"github.com/John-Robertt/harvest/internal/browser"
	"github.com/John-Robertt/harvest/internal/config"
	"github.com/John-Robertt/harvest/internal/infra/cache"
	"github.com/John-Robertt/harvest/internal/infra/httpx"
	"github.com/John-Robertt/harvest/internal/infra/ledger"
)

// Deps 是一次运行依赖的外部资源。CLI 用 Prepare 组装；测试直接注入 fake driver。
type Deps struct {
	Driver browser.Driver
	// Ledger 为 nil 时不记录台账，也不支持续跑去重。
	Ledger *ledger.Ledger
	// Cache 为 nil 时不缓存详情/评论页。
	Cache *cache.Store
	// Now 为空时使用 time.Now。
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// BrowserOptions 把生效配置映射为驱动参数。
func BrowserOptions(eff config.EffectiveConfig) browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = eff.Headless
	opts.ProxyURL = eff.ProxyURL
	opts.ExecPath = eff.ChromePath
	opts.RatePerSec = eff.RatePerSec
	opts.UserAgent = httpx.RandomUserAgent()
	if eff.PageTimeout > 0 {
		opts.RequestTimeout = eff.PageTimeout
	}
	opts.NavigateTimeout = eff.NavTimeout
	return opts
}

// NewDriver 按配置选择驱动。
func NewDriver(eff config.EffectiveConfig) (browser.Driver, error) {
	opts := BrowserOptions(eff)
	switch eff.Driver {
	case config.DriverHTTP:
		return browser.NewStatic(opts)
	case config.DriverChrome, "":
		return browser.NewChrome(opts), nil
	default:
		return nil, fmt.Errorf("未知 driver：%q", eff.Driver)
	}
}

// Prepare 打开驱动、台账与缓存。返回的 cleanup 必须调用（即使运行失败）。
func Prepare(ctx context.Context, eff config.EffectiveConfig) (Deps, func(), error) {
	d, err := NewDriver(eff)
	if err != nil {
		return Deps{}, func() {}, err
	}
	deps := Deps{Driver: d}

	if eff.CacheDir != "" {
		s := cache.New(eff.CacheDir, eff.CacheReadOnly)
		deps.Cache = &s
	}

	cleanup := func() {}
	if eff.Ledger != "" {
		l, err := ledger.Open(ctx, eff.Ledger)
		if err != nil {
			return Deps{}, func() {}, fmt.Errorf("打开 ledger 失败（%s）：%w", eff.Ledger, err)
		}
		deps.Ledger = l
		cleanup = func() { _ = l.Close() }
	}
	return deps, cleanup, nil
}
