// Package browser 把“页面渲染/交互”收敛成 Driver/Session 两个接口。
//
// 约束：
// - 一个 Session 对应一次页面操作（一个标签页或一个 HTTP 会话），用完必须 Close
// - Session 只负责导航、等待、点击与取快照；字段解析在 extract/provider 层完成
// - 所有阻塞调用都接收 ctx，ctx 取消后应尽快返回
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Driver 创建会话。实现必须可以被多次 Open（每次详情/评论抓取都是独立会话）。
type Driver interface {
	Name() string
	Open(ctx context.Context) (Session, error)
}

type Session interface {
	// Navigate 打开 url，并在 timeout 内等待 ready 选择器出现（ready 为空则只等文档就绪）。
	// ready 超时返回 *NotReadyError。
	Navigate(ctx context.Context, url, ready string, timeout time.Duration) error
	// ClickIfPresent 在 wait 内等待 selector 可点击；命中则滚动到可见位置并点击，返回 true。
	// wait 内未出现返回 (false, nil)。
	ClickIfPresent(ctx context.Context, selector string, wait time.Duration) (bool, error)
	// HTML 返回当前页面的渲染后 HTML 快照。
	HTML(ctx context.Context) ([]byte, error)
	Close() error
}

// WithSession 打开一个会话并保证在任何退出路径（成功/失败/panic）上释放。
func WithSession(ctx context.Context, d Driver, fn func(s Session) error) (err error) {
	if d == nil {
		return errors.New("driver 不能为空")
	}
	s, err := d.Open(ctx)
	if err != nil {
		return fmt.Errorf("%s 打开会话失败：%w", d.Name(), err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%s 关闭会话失败：%w", d.Name(), cerr)
		}
	}()
	return fn(s)
}

// Pause 是可被 ctx 打断的固定时长等待（用于给动态内容留出渲染时间）。
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NotReadyError 表示页面打开了，但标记元素在等待时间内没有出现
// （页面结构变化、被拦截页替换、或内容加载过慢）。
type NotReadyError struct {
	URL      string
	Selector string
	Err      error
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("等待元素 %q 超时（%s）：%v", e.Selector, e.URL, e.Err)
	}
	return fmt.Sprintf("等待元素 %q 超时（%s）", e.Selector, e.URL)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码（仅静态驱动可观测）。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}
