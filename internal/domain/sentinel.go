package domain

// 字段抽取失败时写入的占位值（sentinel）。
// 失败只在字段级别被吞掉，不允许跨组件传播；替换规则集中在 Sentinel 里。
const (
	NotFound  = "Not Found"
	ZeroVotes = "0"
	Anonymous = "Anonymous"
)

// FieldKind 决定某个字段缺失时使用哪个 sentinel。
type FieldKind int

const (
	// FieldText 是普通文本字段（标题/导演/简介/国家/语言/评分等）。
	FieldText FieldKind = iota
	// FieldVoteCount 是评论的赞/踩计数。
	FieldVoteCount
	// FieldReviewer 是评论作者名。
	FieldReviewer
)

// Sentinel 是“失败 => 占位值”的纯映射。
func Sentinel(kind FieldKind) string {
	switch kind {
	case FieldVoteCount:
		return ZeroVotes
	case FieldReviewer:
		return Anonymous
	default:
		return NotFound
	}
}
