package entities

// Keyword is one row of search analytics for a site, as ingested from the
// search console. Rows are unique per (user, site, keyword, page).
type Keyword struct {
	UserID      string  `json:"user_id" db:"user_id"`
	SiteURL     string  `json:"site_url" db:"site_url"`
	Keyword     string  `json:"keyword" db:"keyword"`
	Page        string  `json:"page" db:"page"`
	Clicks      int     `json:"clicks" db:"clicks"`
	Impressions int     `json:"impressions" db:"impressions"`
	CTR         float64 `json:"ctr" db:"ctr"`
	Position    float64 `json:"position" db:"position"`
}

// Signal is the search-relevance weight used to order clustering seeds.
func (k *Keyword) Signal() int {
	return k.Clicks + k.Impressions
}
