package entities

import "time"

// ContentItem is a crawled page from the content inventory.
type ContentItem struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	SiteURL          string     `json:"site_url" db:"site_url"`
	PageURL          string     `json:"page_url" db:"page_url"`
	Title            string     `json:"title" db:"title"`
	WordCount        int        `json:"word_count" db:"word_count"`
	LastCrawled      *time.Time `json:"last_crawled,omitempty" db:"last_crawled"`
	PerformanceScore *float64   `json:"performance_score,omitempty" db:"performance_score"`
}

// ContentAnalyticsSnapshot holds one day of traffic for a content item.
// BounceRate and ExitRate are fractions in [0,1]; AvgTimeOnPage is seconds.
type ContentAnalyticsSnapshot struct {
	ContentID       string    `json:"content_id" db:"content_id"`
	Date            time.Time `json:"date" db:"date"`
	Pageviews       int       `json:"pageviews" db:"pageviews"`
	UniquePageviews int       `json:"unique_pageviews" db:"unique_pageviews"`
	AvgTimeOnPage   float64   `json:"avg_time_on_page" db:"avg_time_on_page"`
	BounceRate      float64   `json:"bounce_rate" db:"bounce_rate"`
	ExitRate        float64   `json:"exit_rate" db:"exit_rate"`
}
