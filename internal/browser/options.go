package browser

import (
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	DefaultWindowWidth  = 1366
	DefaultWindowHeight = 900

	DefaultNavigateTimeout = 60 * time.Second
)

// Options 是两种驱动共用的启动参数。
type Options struct {
	// Headless=false 时会弹出可见的浏览器窗口（便于观察分页是否生效）。
	Headless bool
	ProxyURL string
	// ExecPath 为空时由 chromedp 自行查找 Chrome/Chromium。
	ExecPath  string
	UserAgent string

	WindowWidth  int
	WindowHeight int

	// RatePerSec 限制导航频率；<=0 表示不限速。
	RatePerSec float64
	// NavigateTimeout 约束浏览器驱动的一次页面加载（不含等待标记元素）；<=0 表示不限。
	NavigateTimeout time.Duration
	// RequestTimeout 仅静态驱动使用。
	RequestTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Headless:        true,
		WindowWidth:     DefaultWindowWidth,
		WindowHeight:    DefaultWindowHeight,
		RatePerSec:      1,
		NavigateTimeout: DefaultNavigateTimeout,
		RequestTimeout:  30 * time.Second,
	}
}

// allocatorOptions 在 chromedp 默认参数上叠加稳定性相关的开关。
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("lang", "en-US"),
	)

	w, h := opts.WindowWidth, opts.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = DefaultWindowWidth, DefaultWindowHeight
	}
	out = append(out, chromedp.WindowSize(w, h))

	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		out = append(out, chromedp.UserAgent(ua))
	}
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		out = append(out, chromedp.ProxyServer(p))
	}
	if p := strings.TrimSpace(opts.ExecPath); p != "" {
		out = append(out, chromedp.ExecPath(p))
	}
	return out
}
