// Package extract 是字段抽取器：给定已渲染的页面片段与 Locator，读取一个字段。
//
// 约束：
// - 只读，不触发任何导航/点击（页面快照由 browser 层负责取得）
// - 抽取失败一律返回 ok=false，不返回 error；失败到 sentinel 的映射见 domain.Sentinel
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/harvest/internal/domain"
)

// Locator 定位页面中的一个元素。
//
// CSS 为空视为无效定位；Attr 为空时读取文本，否则读取属性；
// Index 选取第 N 个匹配（从 0 开始），用于表格列这类位置型定位。
type Locator struct {
	CSS   string
	Attr  string
	Index int
}

func CSS(sel string) Locator { return Locator{CSS: sel} }

func (l Locator) WithAttr(name string) Locator {
	l.Attr = name
	return l
}

func (l Locator) At(i int) Locator {
	l.Index = i
	return l
}

func (l Locator) String() string {
	s := l.CSS
	if l.Index > 0 {
		s = fmt.Sprintf("%s[%d]", s, l.Index)
	}
	if l.Attr != "" {
		s += "@" + l.Attr
	}
	return s
}

// Parse 把 HTML 快照解析为 goquery 文档。
func Parse(html []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(html))
}

// Find 返回 loc 命中的元素；未命中（含非法选择器）时 ok=false。
func Find(sel *goquery.Selection, loc Locator) (*goquery.Selection, bool) {
	if sel == nil || strings.TrimSpace(loc.CSS) == "" || loc.Index < 0 {
		return nil, false
	}
	// goquery 对非法选择器返回空集合而不是 panic，这里统一视为未命中。
	all := sel.Find(loc.CSS)
	if loc.Index >= all.Length() {
		return nil, false
	}
	return all.Eq(loc.Index), true
}

// Text 读取 loc 命中元素的文本（或属性）；空白归一化后为空也视为未命中。
func Text(sel *goquery.Selection, loc Locator) (string, bool) {
	s, ok := Find(sel, loc)
	if !ok {
		return "", false
	}
	return value(s, loc.Attr)
}

// TextOr 与 Text 相同，但未命中时返回该字段类型对应的 sentinel。
func TextOr(sel *goquery.Selection, loc Locator, kind domain.FieldKind) string {
	if v, ok := Text(sel, loc); ok {
		return v
	}
	return domain.Sentinel(kind)
}

// FirstOf 依次尝试多个 Locator，返回第一个命中的值。
// 用于“结构化路径 + 语义兜底”这类对布局变化敏感的字段。
func FirstOf(sel *goquery.Selection, locs ...Locator) (string, bool) {
	for _, loc := range locs {
		if v, ok := Text(sel, loc); ok {
			return v, true
		}
	}
	return "", false
}

// Texts 读取 CSS 命中的全部元素（忽略 Index），跳过空值，保持文档顺序。
func Texts(sel *goquery.Selection, loc Locator) []string {
	if sel == nil || strings.TrimSpace(loc.CSS) == "" {
		return nil
	}
	out := make([]string, 0, 8)
	sel.Find(loc.CSS).Each(func(_ int, s *goquery.Selection) {
		if v, ok := value(s, loc.Attr); ok {
			out = append(out, v)
		}
	})
	return out
}

// All 返回 CSS 命中的全部元素（用于按块遍历：列表条目、评论块、表格行）。
func All(sel *goquery.Selection, css string) []*goquery.Selection {
	if sel == nil || strings.TrimSpace(css) == "" {
		return nil
	}
	found := sel.Find(css)
	out := make([]*goquery.Selection, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, s)
	})
	return out
}

func value(s *goquery.Selection, attr string) (string, bool) {
	var v string
	if attr != "" {
		a, ok := s.Attr(attr)
		if !ok {
			return "", false
		}
		v = a
	} else {
		v = s.Text()
	}
	v = NormSpace(v)
	return v, v != ""
}

// NormSpace 折叠连续空白并去掉首尾空白。
func NormSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
