package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStatic(t *testing.T) *Static {
	t.Helper()
	opts := DefaultOptions()
	opts.RatePerSec = 0
	d, err := NewStatic(opts)
	require.NoError(t, err)
	return d
}

func TestStatic_NavigateAndSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><ul class="list"><li>a</li></ul><button class="more">more</button></body></html>`))
	}))
	defer srv.Close()

	d := newTestStatic(t)
	err := WithSession(context.Background(), d, func(s Session) error {
		if err := s.Navigate(context.Background(), srv.URL, "ul.list", time.Second); err != nil {
			return err
		}
		// 静态驱动不执行交互：即使按钮存在也按“未找到”处理。
		clicked, err := s.ClickIfPresent(context.Background(), "button.more", time.Second)
		require.NoError(t, err)
		require.False(t, clicked)

		html, err := s.HTML(context.Background())
		require.NoError(t, err)
		require.Contains(t, string(html), `<li>a</li>`)
		return nil
	})
	require.NoError(t, err)
}

func TestStatic_MarkerMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>captcha</p></body></html>`))
	}))
	defer srv.Close()

	d := newTestStatic(t)
	err := WithSession(context.Background(), d, func(s Session) error {
		return s.Navigate(context.Background(), srv.URL, ".ipc-chip__text", time.Second)
	})
	var nr *NotReadyError
	require.True(t, errors.As(err, &nr), "err=%v", err)
	require.Equal(t, ".ipc-chip__text", nr.Selector)
}

func TestStatic_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	d := newTestStatic(t)
	err := WithSession(context.Background(), d, func(s Session) error {
		return s.Navigate(context.Background(), srv.URL, "", time.Second)
	})
	var hs *HTTPStatusError
	require.True(t, errors.As(err, &hs), "err=%v", err)
	require.Equal(t, http.StatusForbidden, hs.StatusCode)
}

func TestStatic_HTMLBeforeNavigate(t *testing.T) {
	d := newTestStatic(t)
	s, err := d.Open(context.Background())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.HTML(context.Background())
	require.Error(t, err)
}

func TestAllocatorOptions_NotEmpty(t *testing.T) {
	opts := DefaultOptions()
	opts.ProxyURL = "http://127.0.0.1:8080"
	opts.ExecPath = "/usr/bin/chromium"
	opts.UserAgent = "ua"
	base := len(allocatorOptions(DefaultOptions()))
	require.Equal(t, base+3, len(allocatorOptions(opts)))
}

func TestNewLimiter(t *testing.T) {
	require.Nil(t, newLimiter(0))
	l := newLimiter(0.5)
	require.NotNil(t, l)
	require.Equal(t, 1, l.Burst())
}
