package models

// Progress statuses
const (
	StatusPage         = "page"
	StatusMonthDone    = "month_done"
	StatusNoData       = "no_data"
	StatusParseFailure = "parse_failure"
	StatusWarning      = "warning"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Progress is emitted after every scraped page and after every month
type Progress struct {
	RunID        string `json:"run_id"`
	Month        int    `json:"month,omitempty"`
	MonthName    string `json:"month_name,omitempty"`
	Page         int    `json:"page,omitempty"`
	PageRecords  int    `json:"page_records,omitempty"`
	MonthRecords int    `json:"month_records"`
	TotalRecords int    `json:"total_records"`
	PagesScraped int    `json:"pages_scraped"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
}

// PageFraction estimates month progress assuming roughly twenty pages per month
func (p Progress) PageFraction() float64 {
	f := float64(p.Page) / 20
	if f > 1 {
		return 1
	}
	return f
}

// Stats represents the statistics of a scrape run
type Stats struct {
	TotalPageScraped int `json:"total_page_scraped"`
	TotalRecords     int `json:"total_records"`
	UniqueRecords    int `json:"unique_records"`
}

// ScrapLog represents a log message from the scraper
type ScrapLog struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Data   *Progress `json:"data,omitempty"`
	Stats  *Stats    `json:"stats,omitempty"`
}

// ScrapResult is published once a run has finished
type ScrapResult struct {
	RunID   string        `json:"run_id"`
	Months  []int         `json:"months"`
	Stats   Stats         `json:"stats"`
	Records []Scholarship `json:"records"`
}
