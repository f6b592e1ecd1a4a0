package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Pricing string `json:"pricing,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Query describes a search request. UserID is mandatory: results never cross
// user boundaries.
type Query struct {
	Text          string
	UserID        string
	FilterPricing string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a site search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SiteRecord is the data we index for a site.
type SiteRecord struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Pricing string `json:"pricing"`
}
