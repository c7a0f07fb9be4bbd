// Package imdb 抓取 IMDb 的列表页、详情页与评论页。
//
// 约束：
// - 导航/等待/点击都通过 browser.Session 完成；解析是纯函数（parse.go）
// - 每次详情/评论抓取使用独立会话，任何退出路径都会释放
// - 页面级失败不重试：返回全 sentinel 的详情或空评论列表，并把原因作为 error 返回给上层记录
package imdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/John-Robertt/harvest/internal/browser"
	"github.com/John-Robertt/harvest/internal/domain"
	"github.com/John-Robertt/harvest/internal/infra/cache"
	"github.com/John-Robertt/harvest/internal/paginate"
)

const (
	BaseURL = "https://www.imdb.com"

	DefaultMaxReviews    = 10
	DefaultListTimeout   = 10 * time.Second
	DefaultMarkerTimeout = 5 * time.Second

	cacheSite = "imdb"
)

// Query 是一次列表检索的条件（单个年份）。
type Query struct {
	Year      int
	MinRating float64
	MinVotes  int
}

// ListingURL 生成按标题升序的年度检索地址。
func ListingURL(q Query) string {
	return fmt.Sprintf("%s/search/title/?title_type=feature&release_date=%d-01-01,%d-12-31&user_rating=%s,10&num_votes=%d,&sort=alpha,asc",
		BaseURL, q.Year, q.Year, strconv.FormatFloat(q.MinRating, 'f', -1, 64), q.MinVotes)
}

func DetailsURL(id string) string { return BaseURL + "/title/" + url.PathEscape(id) + "/" }

func ReviewsURL(id string) string {
	return BaseURL + "/title/" + url.PathEscape(id) + "/reviews/?sort=num_votes%2Cdesc&spoilers=EXCLUDE"
}

// Client 持有驱动与抓取参数；零值字段使用默认值。
type Client struct {
	Driver browser.Driver
	// Cache 为 nil 时不缓存。
	Cache *cache.Store

	ListTimeout   time.Duration
	MarkerTimeout time.Duration
	Paginate      paginate.Options
}

func (c *Client) listTimeout() time.Duration {
	if c.ListTimeout > 0 {
		return c.ListTimeout
	}
	return DefaultListTimeout
}

func (c *Client) markerTimeout() time.Duration {
	if c.MarkerTimeout > 0 {
		return c.MarkerTimeout
	}
	return DefaultMarkerTimeout
}

// ListingResult 是一次列表展开的结果。
type ListingResult struct {
	URL    string
	Clicks int
	Items  []domain.ListingItem
}

// FetchListing 打开年度列表，展开全部“加载更多”，然后一次性读取条目。
//
// 点击次数触顶（paginate.ErrLayoutChanged）时仍会读取已渲染的条目，并与错误一起返回。
func (c *Client) FetchListing(ctx context.Context, q Query) (ListingResult, error) {
	res := ListingResult{URL: ListingURL(q)}
	if c.Driver == nil {
		return res, errors.New("driver 不能为空")
	}

	err := browser.WithSession(ctx, c.Driver, func(s browser.Session) error {
		if err := s.Navigate(ctx, res.URL, ListItemSelector, c.listTimeout()); err != nil {
			return err
		}

		opts := c.Paginate
		if opts.Selector == "" {
			opts.Selector = LoadMoreSelector
		}
		clicks, perr := paginate.Expand(ctx, s, opts)
		res.Clicks = clicks
		if perr != nil && !errors.Is(perr, paginate.ErrLayoutChanged) {
			return perr
		}

		html, err := s.HTML(ctx)
		if err != nil {
			return err
		}
		items, err := ParseListing(html)
		if err != nil {
			return err
		}
		res.Items = items
		return perr
	})
	if err != nil {
		return res, fmt.Errorf("读取 %d 年列表失败：%w", q.Year, err)
	}
	return res, nil
}

// FetchDetails 抓取详情页。返回的记录总是可用的：页面不可达时为全 sentinel，
// 此时 error 非空（调用方据此把条目标记为降级）。
func (c *Client) FetchDetails(ctx context.Context, id string) (domain.DetailRecord, error) {
	html, err := c.page(ctx, "title", id, DetailsURL(id), DetailsMarker)
	if err != nil {
		slog.WarnContext(ctx, "详情页不可用，字段全部降级", "id", id, "err", err)
		return domain.EmptyDetail(id), err
	}
	rec, err := ParseDetails(id, html)
	if err != nil {
		slog.WarnContext(ctx, "详情页解析失败", "id", id, "err", err)
		return domain.EmptyDetail(id), err
	}
	return rec, nil
}

// FetchReviews 抓取评论页，最多 maxReviews 条（<=0 时取 DefaultMaxReviews）。
// 页面不可达时返回空列表（非 nil）与 error。
func (c *Client) FetchReviews(ctx context.Context, id string, maxReviews int) ([]domain.ReviewRecord, error) {
	html, err := c.page(ctx, "reviews", id, ReviewsURL(id), ReviewsMarker)
	if err != nil {
		slog.WarnContext(ctx, "评论页不可用，记为空列表", "id", id, "err", err)
		return []domain.ReviewRecord{}, err
	}
	reviews, err := ParseReviews(html, maxReviews)
	if err != nil {
		slog.WarnContext(ctx, "评论页解析失败", "id", id, "err", err)
		return []domain.ReviewRecord{}, err
	}
	return reviews, nil
}

// page 取得一个已就绪页面的 HTML：优先读缓存，否则开独立会话抓取并回写缓存。
func (c *Client) page(ctx context.Context, kind, id, pageURL, marker string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("id 不能为空")
	}
	if c.Cache != nil {
		b, ok, err := c.Cache.ReadPage(cacheSite, kind, id)
		if err != nil {
			slog.WarnContext(ctx, "读取页面缓存失败", "id", id, "kind", kind, "err", err)
		} else if ok {
			slog.DebugContext(ctx, "命中页面缓存", "id", id, "kind", kind)
			return b, nil
		}
	}
	if c.Driver == nil {
		return nil, errors.New("driver 不能为空")
	}

	var html []byte
	err := browser.WithSession(ctx, c.Driver, func(s browser.Session) error {
		if err := s.Navigate(ctx, pageURL, marker, c.markerTimeout()); err != nil {
			return err
		}
		b, err := s.HTML(ctx)
		if err != nil {
			return err
		}
		html = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.Cache != nil && !c.Cache.ReadOnly {
		if err := c.Cache.WritePage(cacheSite, kind, id, html); err != nil {
			slog.WarnContext(ctx, "写入页面缓存失败", "id", id, "kind", kind, "err", err)
		}
	}
	return html, nil
}
