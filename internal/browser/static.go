package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/harvest/internal/extract"
	"github.com/John-Robertt/harvest/internal/infra/httpx"
)

var _ Driver = (*Static)(nil)

// Static 直接用 HTTP 拉取页面，不执行 JS。
//
// 适用于服务端渲染足够的页面（或离线回放）；“加载更多”一类的交互在该驱动下
// 永远找不到可点击元素，分页会在第一次检查时结束。
type Static struct {
	client  *resty.Client
	limiter *rate.Limiter
}

func NewStatic(opts Options) (*Static, error) {
	hc, err := httpx.NewClient(opts.ProxyURL, opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	rc := resty.NewWithClient(hc)
	rc.SetHeader("Accept", "text/html,application/xhtml+xml")
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		rc.SetHeader("User-Agent", ua)
	}
	return &Static{client: rc, limiter: newLimiter(opts.RatePerSec)}, nil
}

func (*Static) Name() string { return "http" }

func (d *Static) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticSession{client: d.client, limiter: d.limiter}, nil
}

type staticSession struct {
	client  *resty.Client
	limiter *rate.Limiter

	url  string
	html []byte
}

func (s *staticSession) Navigate(ctx context.Context, url, ready string, timeout time.Duration) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.url, s.html = url, nil
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("打开页面失败（%s）：%w", url, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &HTTPStatusError{URL: url, StatusCode: resp.StatusCode(), Location: resp.Header().Get("Location")}
	}
	body := resp.Body()

	if ready != "" {
		doc, err := extract.Parse(body)
		if err != nil {
			return &NotReadyError{URL: url, Selector: ready, Err: err}
		}
		if _, ok := extract.Find(doc.Selection, extract.CSS(ready)); !ok {
			return &NotReadyError{URL: url, Selector: ready}
		}
	}
	s.html = body
	return nil
}

func (s *staticSession) ClickIfPresent(ctx context.Context, selector string, wait time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(s.html) > 0 {
		if doc, err := extract.Parse(s.html); err == nil {
			if _, ok := extract.Find(doc.Selection, extract.CSS(selector)); ok {
				slog.DebugContext(ctx, "静态驱动不执行点击，按未找到处理", "selector", selector, "url", s.url)
			}
		}
	}
	return false, nil
}

func (s *staticSession) HTML(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.html == nil {
		return nil, fmt.Errorf("尚未打开任何页面")
	}
	return append([]byte(nil), s.html...), nil
}

func (s *staticSession) Close() error {
	s.html = nil
	return nil
}
