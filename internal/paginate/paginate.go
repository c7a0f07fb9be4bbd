// Package paginate 负责把“加载更多”式的动态列表展开到底。
//
// 状态机只有两个状态：
//
//	EXPANDING --(按钮出现，点击并等待渲染)--> EXPANDING
//	EXPANDING --(等待期内按钮未出现)--------> DONE
//
// 与“直到按钮消失为止”的朴素循环不同，这里有显式的点击上限：超过上限说明按钮一直存在
// 却不再带来新内容，极可能是页面结构变了，此时返回 ErrLayoutChanged。
package paginate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/John-Robertt/harvest/internal/browser"
	"github.com/John-Robertt/harvest/internal/extract"
)

const (
	DefaultWait      = 3 * time.Second
	DefaultSettle    = 2 * time.Second
	DefaultMaxClicks = 500
)

// ErrLayoutChanged 表示点击次数达到上限仍未进入 DONE。
var ErrLayoutChanged = errors.New("加载更多按钮始终存在，页面结构可能已变化")

type State int

const (
	Expanding State = iota
	Done
)

func (s State) String() string {
	switch s {
	case Expanding:
		return "EXPANDING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	// Selector 是“加载更多”控件的 CSS 选择器。
	Selector string
	// Wait 是每轮等待控件变为可点击的时长。
	Wait time.Duration
	// Settle 是每次点击后的固定等待（给新内容留出渲染时间）。
	Settle time.Duration
	// MaxClicks<=0 时使用 DefaultMaxClicks。
	MaxClicks int

	// OnClick 在每次成功点击后回调（用于进度展示）；可为空。
	OnClick func(clicks int)
}

func (o Options) normalized() Options {
	if o.Wait <= 0 {
		o.Wait = DefaultWait
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.MaxClicks <= 0 {
		o.MaxClicks = DefaultMaxClicks
	}
	return o
}

// Expand 在已打开的页面上反复点击加载更多，返回实际点击次数。
//
// - 首次检查即未找到控件：返回 (0, nil)，页面保持初始内容
// - 点击次数达到 MaxClicks 后控件仍可点击：返回 (MaxClicks, ErrLayoutChanged)
// - 点击出错（ctx 未取消）：记录告警后进入 DONE，返回 (已点击次数, nil)
// - ctx 取消：返回已完成的点击数与 ctx.Err()
func Expand(ctx context.Context, s browser.Session, opts Options) (int, error) {
	if s == nil {
		return 0, errors.New("session 不能为空")
	}
	if opts.Selector == "" {
		return 0, errors.New("加载更多选择器不能为空")
	}
	opts = opts.normalized()

	clicks := 0
	state := Expanding
	for state == Expanding {
		if err := ctx.Err(); err != nil {
			return clicks, err
		}
		if clicks >= opts.MaxClicks {
			// 再确认一次：控件此刻已经不可点击时，上限恰好等于真实页数，不算异常。
			ok, err := stillPresent(ctx, s, opts)
			if err != nil {
				return clicks, err
			}
			if !ok {
				break
			}
			return clicks, fmt.Errorf("%w（已点击 %d 次）", ErrLayoutChanged, clicks)
		}

		clicked, err := s.ClickIfPresent(ctx, opts.Selector, opts.Wait)
		if err != nil {
			if ctx.Err() != nil {
				return clicks, ctx.Err()
			}
			// 点击失败只结束展开：已渲染的条目仍然有效。
			slog.WarnContext(ctx, "点击加载更多失败，停止展开", "clicks", clicks, "err", err)
			state = Done
			continue
		}
		if !clicked {
			state = Done
			continue
		}

		clicks++
		slog.DebugContext(ctx, "加载更多", "clicks", clicks)
		if opts.OnClick != nil {
			opts.OnClick(clicks)
		}
		if err := browser.Pause(ctx, opts.Settle); err != nil {
			return clicks, err
		}
	}
	return clicks, nil
}

// stillPresent 只检查控件是否仍然存在，不计入点击次数。
// Session 没有“只查不点”的原语，这里取一次快照判断。
func stillPresent(ctx context.Context, s browser.Session, opts Options) (bool, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return false, err
	}
	return containsSelector(html, opts.Selector), nil
}

func containsSelector(html []byte, selector string) bool {
	doc, err := extract.Parse(html)
	if err != nil {
		return false
	}
	_, ok := extract.Find(doc.Selection, extract.CSS(selector))
	return ok
}
