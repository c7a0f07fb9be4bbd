package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ListingItem 是列表页中一行的快照（只在一次分页遍历内有效，不直接落盘）。
type ListingItem struct {
	ID      string
	Title   string
	Year    string
	Runtime string
	Rating  string
	Votes   string
}

// DetailRecord 来自详情页；创建后不再修改。
type DetailRecord struct {
	ID        string
	Genres    []string
	Director  string
	Storyline string
	Country   string
	Language  string
}

// EmptyDetail 是“详情页整体不可达”时的结果：所有字段都是 sentinel。
func EmptyDetail(id string) DetailRecord {
	return DetailRecord{
		ID:        id,
		Genres:    []string{NotFound},
		Director:  NotFound,
		Storyline: NotFound,
		Country:   NotFound,
		Language:  NotFound,
	}
}

// ReviewRecord 是一条用户评论；每个字段独立降级为 sentinel。
// JSON key 与历史 CSV 的 Rating Detail 列保持一致。
type ReviewRecord struct {
	Title     string `json:"Title"`
	Rating    string `json:"Rating"`
	Content   string `json:"Review Content"`
	Upvotes   string `json:"Upvotes"`
	Downvotes string `json:"Downvotes"`
	Reviewer  string `json:"Reviewer"`
}

// MovieHeader 是电影 CSV 的固定列顺序。
var MovieHeader = []string{
	"Movie ID",
	"Movie Year",
	"Movie Genres",
	"Movie Director",
	"Movie Name",
	"Movie Runtime",
	"Movie Storyline",
	"Movie Country",
	"Movie Language",
	"IMDb Rating",
	"IMDb Vote Count",
	"Rating Detail",
}

// MovieRow 是 ListingItem + DetailRecord + 评论列表的扁平合并（一行 CSV）。
type MovieRow struct {
	Item    ListingItem
	Detail  DetailRecord
	Reviews []ReviewRecord
}

// Record 按 MovieHeader 的顺序输出一行。
func (r MovieRow) Record() ([]string, error) {
	detail, err := EncodeReviews(r.Reviews)
	if err != nil {
		return nil, err
	}
	return []string{
		r.Item.ID,
		r.Item.Year,
		strings.Join(r.Detail.Genres, ", "),
		r.Detail.Director,
		r.Item.Title,
		r.Item.Runtime,
		r.Detail.Storyline,
		r.Detail.Country,
		r.Detail.Language,
		r.Item.Rating,
		r.Item.Votes,
		detail,
	}, nil
}

// Key 用于 ledger 去重。
func (r MovieRow) Key() string { return r.Item.ID }

// EncodeReviews 把评论序列编码为单个 JSON 文本字段。
// 非 ASCII 原样保留，不做 HTML 转义；空列表编码为 []。
// 元素之间用 ", "、键值之间用 ": " 分隔，与已有数据文件的格式一致。
func EncodeReviews(reviews []ReviewRecord) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range reviews {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteByte('{')
		for j, kv := range r.fields() {
			if j > 0 {
				buf.WriteString(", ")
			}
			if err := writeJSONString(&buf, kv[0]); err != nil {
				return "", err
			}
			buf.WriteString(": ")
			if err := writeJSONString(&buf, kv[1]); err != nil {
				return "", err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

// fields 按输出顺序返回 (键, 值)；键与 json tag 保持一致。
func (r ReviewRecord) fields() [][2]string {
	return [][2]string{
		{"Title", r.Title},
		{"Rating", r.Rating},
		{"Review Content", r.Content},
		{"Upvotes", r.Upvotes},
		{"Downvotes", r.Downvotes},
		{"Reviewer", r.Reviewer},
	}
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
