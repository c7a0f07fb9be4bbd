package imdb

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/harvest/internal/domain"
	"github.com/John-Robertt/harvest/internal/extract"
)

// 页面选择器集中在这里：站点改版时只需要改这一处。
const (
	ListItemSelector = ".ipc-metadata-list-summary-item"
	LoadMoreSelector = "button.ipc-see-more__button"

	DetailsMarker = ".ipc-chip__text"
	ReviewsMarker = ".user-review-item"
)

var (
	locTitleLink = extract.CSS(".ipc-title-link-wrapper").WithAttr("href")
	locTitle     = extract.CSS(".ipc-title__text")
	locMetaItem  = extract.CSS("div.dli-title-metadata span.dli-title-metadata-item")
	locRating    = extract.CSS(".ipc-rating-star--rating")
	locVotes     = extract.CSS(".ipc-rating-star--voteCount")

	locGenres    = extract.CSS(`a[class*="ipc-chip"] > span[class*="ipc-chip__text"]`)
	locStoryline = extract.CSS(".ipc-html-content-inner-div")
	locCountry   = extract.CSS(`li[data-testid="title-details-origin"] a`)
	locLanguage  = extract.CSS(`li[data-testid="title-details-languages"] a`)

	// 导演：先走页面结构路径（与站点当前布局逐层对应），再退到语义化的 data-testid。
	locDirector = []extract.Locator{
		extract.CSS("#__next > main > div > section:nth-of-type(1) > section > div:nth-of-type(3) > section > section > div:nth-of-type(3) > div:nth-of-type(2) > div:nth-of-type(2) > div:nth-of-type(2) > div > ul > li:nth-of-type(1) > div > ul > li > a"),
		extract.CSS(`[data-testid="title-pc-principal-credit"] ul li a`),
	}

	locReviewTitle    = extract.CSS(".ipc-title__text")
	locReviewRating   = extract.CSS(".ipc-rating-star--rating")
	locReviewContent  = extract.CSS(".ipc-html-content-inner-div")
	locReviewUp       = extract.CSS(".ipc-voting__label__count--up")
	locReviewDown     = extract.CSS(".ipc-voting__label__count--down")
	locReviewReviewer = extract.CSS(".ipc-link.ipc-link--base")
)

var (
	rankPrefixRE = regexp.MustCompile(`^\d+\.\s*`)
	titleIDRE    = regexp.MustCompile(`/title/(tt\d+)`)
)

// ErrNoItems 表示列表页没有任何条目（筛选条件过严，或页面被替换成拦截页）。
var ErrNoItems = errors.New("列表页没有条目")

// ParseListing 解析展开后的列表页。
//
// 纯函数：没有可识别 ID 的条目被跳过；同一 ID 只保留第一次出现（重复点击加载更多时
// 站点偶尔会重复返回条目）。其余字段缺失时写 sentinel。
func ParseListing(html []byte) ([]domain.ListingItem, error) {
	doc, err := extract.Parse(html)
	if err != nil {
		return nil, err
	}

	blocks := extract.All(doc.Selection, ListItemSelector)
	out := make([]domain.ListingItem, 0, len(blocks))
	seen := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		it, ok := parseListingItem(b)
		if !ok {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	if len(out) == 0 {
		return nil, ErrNoItems
	}
	return out, nil
}

func parseListingItem(s *goquery.Selection) (domain.ListingItem, bool) {
	href, ok := extract.Text(s, locTitleLink)
	if !ok {
		return domain.ListingItem{}, false
	}
	id := TitleID(href)
	if id == "" {
		return domain.ListingItem{}, false
	}

	title := domain.NotFound
	if v, ok := extract.Text(s, locTitle); ok {
		if t := strings.TrimSpace(rankPrefixRE.ReplaceAllString(v, "")); t != "" {
			title = t
		}
	}

	meta := extract.Texts(s, locMetaItem)
	year, runtime := domain.NotFound, domain.NotFound
	if len(meta) > 0 {
		year = meta[0]
	}
	if len(meta) > 1 {
		runtime = meta[1]
	}

	votes := domain.NotFound
	if v, ok := extract.Text(s, locVotes); ok {
		if n := cleanVotes(v); n != "" {
			votes = n
		}
	}

	return domain.ListingItem{
		ID:      id,
		Title:   title,
		Year:    year,
		Runtime: runtime,
		Rating:  extract.TextOr(s, locRating, domain.FieldText),
		Votes:   votes,
	}, true
}

// TitleID 从详情链接里取出 ttNNN；无法识别返回空串。
// 兼容相对链接（/title/tt0111161/?ref_=...）与绝对链接。
func TitleID(href string) string {
	m := titleIDRE.FindStringSubmatch(href)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// cleanVotes 把 " (2.9M)" / "-2.9M" 之类的展示文本规整为 "2.9M"。
func cleanVotes(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.Trim(strings.TrimSpace(s), "()")
	return strings.TrimSpace(s)
}

// ParseDetails 解析详情页。每个字段独立降级：某个字段缺失不影响其它字段。
func ParseDetails(id string, html []byte) (domain.DetailRecord, error) {
	doc, err := extract.Parse(html)
	if err != nil {
		return domain.EmptyDetail(id), err
	}
	root := doc.Selection

	genres := extract.Texts(root, locGenres)
	if len(genres) == 0 {
		genres = []string{domain.NotFound}
	}

	director, ok := extract.FirstOf(root, locDirector...)
	if !ok {
		director = domain.Sentinel(domain.FieldText)
	}

	return domain.DetailRecord{
		ID:        id,
		Genres:    genres,
		Director:  director,
		Storyline: extract.TextOr(root, locStoryline, domain.FieldText),
		Country:   extract.TextOr(root, locCountry, domain.FieldText),
		Language:  extract.TextOr(root, locLanguage, domain.FieldText),
	}, nil
}

// ParseReviews 解析评论页，最多返回 max 条（按页面顺序）。
// 页面上的评论块少于 max 时只返回实际数量，不补位。
func ParseReviews(html []byte, max int) ([]domain.ReviewRecord, error) {
	if max <= 0 {
		max = DefaultMaxReviews
	}
	doc, err := extract.Parse(html)
	if err != nil {
		return []domain.ReviewRecord{}, err
	}

	blocks := extract.All(doc.Selection, ReviewsMarker)
	if len(blocks) > max {
		blocks = blocks[:max]
	}
	out := make([]domain.ReviewRecord, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, domain.ReviewRecord{
			Title:     extract.TextOr(b, locReviewTitle, domain.FieldText),
			Rating:    extract.TextOr(b, locReviewRating, domain.FieldText),
			Content:   extract.TextOr(b, locReviewContent, domain.FieldText),
			Upvotes:   extract.TextOr(b, locReviewUp, domain.FieldVoteCount),
			Downvotes: extract.TextOr(b, locReviewDown, domain.FieldVoteCount),
			Reviewer:  extract.TextOr(b, locReviewReviewer, domain.FieldReviewer),
		})
	}
	return out, nil
}
