// Package fakebrowser 提供内存版 browser.Driver，供各层测试回放固定 HTML。
package fakebrowser

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/John-Robertt/harvest/internal/browser"
	"github.com/John-Robertt/harvest/internal/extract"
)

var _ browser.Driver = (*Driver)(nil)

// Driver 按 URL 回放页面。
//
// - Pages：URL -> 初始 HTML；未登记的 URL 返回 HTTP 404
// - Expansions：URL -> 每次成功点击后依次切换到的 HTML
// - NavErr：URL -> Navigate 直接返回的错误
// - ClickErr：URL -> Expansions 用完后再次点击时返回的错误（模拟按钮点击失败）
//
// 点击规则：当前 HTML 中存在 selector 即视为可点击；Expansions 用完后保持最后状态
// （若最后状态仍含按钮，则按钮“永远存在”，用于模拟布局变化导致的死循环）。
type Driver struct {
	Pages      map[string]string
	Expansions map[string][]string
	NavErr     map[string]error
	ClickErr   map[string]error

	mu      sync.Mutex
	opened  int
	closed  int
	clicks  int
	visited []string
	openErr error
}

func New() *Driver {
	return &Driver{
		Pages:      map[string]string{},
		Expansions: map[string][]string{},
		NavErr:     map[string]error{},
		ClickErr:   map[string]error{},
	}
}

func (*Driver) Name() string { return "fake" }

// FailOpen 让后续 Open 都返回 err。
func (d *Driver) FailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

func (d *Driver) Open(ctx context.Context) (browser.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	return &Session{d: d}, nil
}

// Stats 返回 (opened, closed, clicks)。
func (d *Driver) Stats() (opened, closed, clicks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened, d.closed, d.clicks
}

// Visited 返回按顺序导航过的 URL。
func (d *Driver) Visited() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visited...)
}

type Session struct {
	d *Driver

	url    string
	html   string
	step   int
	closed bool
}

func (s *Session) Navigate(ctx context.Context, url, ready string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.d.mu.Lock()
	s.d.visited = append(s.d.visited, url)
	navErr := s.d.NavErr[url]
	html, ok := s.d.Pages[url]
	s.d.mu.Unlock()

	if navErr != nil {
		return navErr
	}
	if !ok {
		return &browser.HTTPStatusError{URL: url, StatusCode: http.StatusNotFound}
	}
	s.url, s.html, s.step = url, html, 0

	if ready != "" && !has(html, ready) {
		return &browser.NotReadyError{URL: url, Selector: ready}
	}
	return nil
}

func (s *Session) ClickIfPresent(ctx context.Context, selector string, wait time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !has(s.html, selector) {
		return false, nil
	}

	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	states := s.d.Expansions[s.url]
	if err := s.d.ClickErr[s.url]; err != nil && s.step >= len(states) {
		return false, err
	}
	s.d.clicks++
	if s.step < len(states) {
		s.html = states[s.step]
		s.step++
	}
	return true, nil
}

func (s *Session) HTML(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(s.html), nil
}

func (s *Session) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.d.closed++
	}
	return nil
}

func has(html, selector string) bool {
	doc, err := extract.Parse([]byte(html))
	if err != nil {
		return false
	}
	_, ok := extract.Find(doc.Selection, extract.CSS(selector))
	return ok
}
