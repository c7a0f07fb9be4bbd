package domain

// QuoteHeader 是行情快照 CSV 的固定列顺序。
var QuoteHeader = []string{
	"Date",
	"Symbol",
	"Name",
	"Price",
	"Change",
	"% Change",
	"Low",
	"High",
	"Previous Close",
}

// QuoteTimeLayout 是快照时间列的格式（本地时间）。
const QuoteTimeLayout = "2006-01-02 15:04:05"

// QuoteRow 是成分股表格中的一行；同一次快照的 Date 相同。
type QuoteRow struct {
	Date          string
	Symbol        string
	Name          string
	Price         string
	Change        string
	PercentChange string
	Low           string
	High          string
	PrevClose     string
}

func (q QuoteRow) Record() ([]string, error) {
	return []string{
		q.Date,
		q.Symbol,
		q.Name,
		q.Price,
		q.Change,
		q.PercentChange,
		q.Low,
		q.High,
		q.PrevClose,
	}, nil
}

func (q QuoteRow) Key() string { return q.Date + "|" + q.Symbol }
