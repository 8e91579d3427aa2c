package models

// ListingPageRef is one normalized relative URL of a shop's paginated
// product index, tagged with the page number embedded in the URL.
type ListingPageRef struct {
	URL  string `json:"url"`
	Page int    `json:"page"`
}
