package paginate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/harvest/internal/browser"
	"github.com/John-Robertt/harvest/internal/browser/fakebrowser"
)

const listURL = "https://example.test/list"

func page(items int, more bool) string {
	html := "<html><body><ul>"
	for i := 0; i < items; i++ {
		html += `<li class="item">x</li>`
	}
	html += "</ul>"
	if more {
		html += `<button class="more">more</button>`
	}
	return html + "</body></html>"
}

func open(t *testing.T, d *fakebrowser.Driver) browser.Session {
	t.Helper()
	s, err := d.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Navigate(context.Background(), listURL, "ul", time.Second))
	return s
}

func fastOpts() Options {
	return Options{Selector: "button.more", Wait: time.Millisecond, Settle: 0}
}

func TestExpand_ZeroClicksWhenControlAbsent(t *testing.T) {
	d := fakebrowser.New()
	d.Pages[listURL] = page(3, false)
	s := open(t, d)

	clicks, err := Expand(context.Background(), s, fastOpts())
	require.NoError(t, err)
	require.Equal(t, 0, clicks)

	html, err := s.HTML(context.Background())
	require.NoError(t, err)
	require.Equal(t, page(3, false), string(html))
}

func TestExpand_ClicksUntilControlDisappears(t *testing.T) {
	d := fakebrowser.New()
	d.Pages[listURL] = page(2, true)
	d.Expansions[listURL] = []string{page(4, true), page(6, true), page(7, false)}
	s := open(t, d)

	var seen []int
	opts := fastOpts()
	opts.OnClick = func(n int) { seen = append(seen, n) }

	clicks, err := Expand(context.Background(), s, opts)
	require.NoError(t, err)
	require.Equal(t, 3, clicks)
	require.Equal(t, []int{1, 2, 3}, seen)

	html, err := s.HTML(context.Background())
	require.NoError(t, err)
	require.Equal(t, page(7, false), string(html))
}

func TestExpand_BoundExceededIsLayoutChange(t *testing.T) {
	d := fakebrowser.New()
	// 按钮永远存在。
	d.Pages[listURL] = page(1, true)
	s := open(t, d)

	opts := fastOpts()
	opts.MaxClicks = 5
	clicks, err := Expand(context.Background(), s, opts)
	require.True(t, errors.Is(err, ErrLayoutChanged), "err=%v", err)
	require.Equal(t, 5, clicks)

	_, _, total := d.Stats()
	require.Equal(t, 5, total)
}

func TestExpand_BoundEqualToPagesIsNotAnError(t *testing.T) {
	d := fakebrowser.New()
	d.Pages[listURL] = page(1, true)
	d.Expansions[listURL] = []string{page(2, true), page(3, false)}
	s := open(t, d)

	opts := fastOpts()
	opts.MaxClicks = 2
	clicks, err := Expand(context.Background(), s, opts)
	require.NoError(t, err)
	require.Equal(t, 2, clicks)
}

func TestExpand_ContextCancelled(t *testing.T) {
	d := fakebrowser.New()
	d.Pages[listURL] = page(1, true)
	s := open(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	opts := fastOpts()
	opts.Settle = time.Hour
	opts.OnClick = func(int) { cancel() }

	clicks, err := Expand(ctx, s, opts)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, clicks)
}

func TestExpand_ClickErrorEndsExpansion(t *testing.T) {
	d := fakebrowser.New()
	d.Pages[listURL] = page(2, true)
	d.Expansions[listURL] = []string{page(4, true)}
	d.ClickErr[listURL] = errors.New("Evaluate: context deadline exceeded")
	s := open(t, d)

	clicks, err := Expand(context.Background(), s, fastOpts())
	require.NoError(t, err)
	require.Equal(t, 1, clicks)

	html, err := s.HTML(context.Background())
	require.NoError(t, err)
	require.Equal(t, page(4, true), string(html))
}

func TestExpand_InvalidArgs(t *testing.T) {
	_, err := Expand(context.Background(), nil, fastOpts())
	require.Error(t, err)

	d := fakebrowser.New()
	d.Pages[listURL] = page(1, false)
	s := open(t, d)
	_, err = Expand(context.Background(), s, Options{})
	require.Error(t, err)
}

func TestOptionsNormalized(t *testing.T) {
	o := Options{Selector: "x", Settle: -1}.normalized()
	require.Equal(t, DefaultWait, o.Wait)
	require.Equal(t, time.Duration(0), o.Settle)
	require.Equal(t, DefaultMaxClicks, o.MaxClicks)
	require.Equal(t, "EXPANDING", Expanding.String())
	require.Equal(t, "DONE", Done.String())
}
