// Package cnbc 抓取 CNBC 道琼斯 30 成分股表格的一次快照。
package cnbc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/John-Robertt/harvest/internal/browser"
	"github.com/John-Robertt/harvest/internal/domain"
	"github.com/John-Robertt/harvest/internal/extract"
)

const (
	URL = "https://www.cnbc.com/dow-30/"

	TableBodySelector = ".BasicTable-tableBody"

	// 表格由脚本异步填充，没有可靠的就绪标记，只能固定等待。
	DefaultSettle  = 5 * time.Second
	DefaultTimeout = 30 * time.Second

	minCells = 8
)

var ErrNoTable = errors.New("未找到行情表格")

type Client struct {
	Driver browser.Driver
	// Settle 为 0 时使用 DefaultSettle；<0 表示不等待。
	Settle  time.Duration
	Timeout time.Duration
	// Now 为空时使用 time.Now（测试里固定时间）。
	Now func() time.Time
}

// Fetch 打开页面、等待渲染，然后读取整张表。
func (c *Client) Fetch(ctx context.Context) ([]domain.QuoteRow, error) {
	if c.Driver == nil {
		return nil, errors.New("driver 不能为空")
	}
	settle := c.Settle
	if settle == 0 {
		settle = DefaultSettle
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	var rows []domain.QuoteRow
	err := browser.WithSession(ctx, c.Driver, func(s browser.Session) error {
		if err := s.Navigate(ctx, URL, "", timeout); err != nil {
			return err
		}
		if err := browser.Pause(ctx, settle); err != nil {
			return err
		}
		html, err := s.HTML(ctx)
		if err != nil {
			return err
		}
		rows, err = ParseQuotes(html, now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("读取道指成分股失败：%w", err)
	}
	return rows, nil
}

// ParseQuotes 把表格的每一行映射为 QuoteRow；单元格不足 8 个的行（表头/广告行）跳过。
// 同一次快照的所有行共享 at 的本地时间。
func ParseQuotes(html []byte, at time.Time) ([]domain.QuoteRow, error) {
	doc, err := extract.Parse(html)
	if err != nil {
		return nil, err
	}
	body, ok := extract.Find(doc.Selection, extract.CSS(TableBodySelector))
	if !ok {
		return nil, ErrNoTable
	}

	date := at.Local().Format(domain.QuoteTimeLayout)
	out := make([]domain.QuoteRow, 0, 30)
	for _, tr := range extract.All(body, "tr") {
		cells := make([]string, 0, 10)
		for _, td := range extract.All(tr, "td") {
			cells = append(cells, extract.NormSpace(td.Text()))
		}
		if len(cells) < minCells {
			continue
		}
		out = append(out, domain.QuoteRow{
			Date:          date,
			Symbol:        cells[0],
			Name:          cells[1],
			Price:         cells[2],
			Change:        cells[3],
			PercentChange: cells[4],
			Low:           cells[5],
			High:          cells[6],
			PrevClose:     cells[7],
		})
	}
	return out, nil
}
