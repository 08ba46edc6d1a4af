package models

// Action
const (
	StartScrapingAction = "start"
	StopScrapingAction  = "stop"
)

// ScrapingCommand is the command consumed by the scraper worker
type ScrapingCommand struct {
	Action string `json:"action"`
	Data   Data   `json:"data,omitempty"`
}

// Data contains the months to scrape
type Data struct {
	Months []int `json:"months"`
}
