package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"
)

var _ Driver = (*Chrome)(nil)

// Chrome 用 chromedp 驱动本地 Chrome/Chromium。每个 Session 是一个独立的浏览器进程，
// Close 时整体退出（页面之间不共享 cookie/缓存，和逐页启动浏览器的行为一致）。
type Chrome struct {
	opts    Options
	limiter *rate.Limiter
}

func NewChrome(opts Options) *Chrome {
	return &Chrome{opts: opts, limiter: newLimiter(opts.RatePerSec)}
}

func (*Chrome) Name() string { return "chrome" }

func (c *Chrome) Open(ctx context.Context) (Session, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(c.opts)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// 第一次 Run 会真正启动浏览器；这里不能带超时，否则超时后浏览器会被一并关闭。
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}
	return &chromeSession{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		limiter:    c.limiter,
		navTimeout: c.opts.NavigateTimeout,
		run:        chromedp.Run,
	}, nil
}

// clickTimeout 是按钮出现之后执行点击脚本的时限，与等待按钮的时间分开计算。
const clickTimeout = 5 * time.Second

type chromeSession struct {
	ctx     context.Context
	cancel  func()
	limiter *rate.Limiter
	url     string

	// navTimeout 约束页面加载本身；<=0 表示只受调用方 ctx 约束。
	navTimeout time.Duration
	run        func(ctx context.Context, actions ...chromedp.Action) error
}

// scoped 派生一个同时受 call ctx 与 timeout 约束的 chromedp 上下文。
// 只取消派生上下文不会关闭标签页。
func (s *chromeSession) scoped(call context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(call, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Navigate(ctx context.Context, url, ready string, timeout time.Duration) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	s.url = url

	// 页面加载与等待标记元素分开计时：timeout 只约束标记元素的出现。
	navCtx, cancelNav := s.scoped(ctx, s.navTimeout)
	err := s.run(navCtx, chromedp.Navigate(url))
	cancelNav()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("打开页面失败（%s）：%w", url, err)
	}

	sel := ready
	if sel == "" {
		sel = "body"
	}
	waitCtx, cancelWait := s.scoped(ctx, timeout)
	defer cancelWait()
	if err := s.run(waitCtx, chromedp.WaitReady(sel, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NotReadyError{URL: url, Selector: sel, Err: err}
	}
	return nil
}

func (s *chromeSession) ClickIfPresent(ctx context.Context, selector string, wait time.Duration) (bool, error) {
	waitCtx, cancelWait := s.scoped(ctx, wait)
	defer cancelWait()

	// 等价于“可点击”：可见且未禁用。
	err := s.run(waitCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.WaitEnabled(selector, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}

	lit, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	// 用 JS 触发点击：按钮常被悬浮层遮挡，原生鼠标点击会落到遮挡元素上。
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el) return false; el.scrollIntoView({block: "center"}); el.click(); return true; })()`, lit)
	clickCtx, cancelClick := s.scoped(ctx, clickTimeout)
	defer cancelClick()
	var clicked bool
	if err := s.run(clickCtx, chromedp.Evaluate(script, &clicked)); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	if !clicked {
		slog.DebugContext(ctx, "按钮在点击前消失", "selector", selector, "url", s.url)
	}
	return clicked, nil
}

func (s *chromeSession) HTML(ctx context.Context) ([]byte, error) {
	runCtx, cancel := s.scoped(ctx, 0)
	defer cancel()

	var html string
	if err := s.run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return []byte(html), nil
}

func (s *chromeSession) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
