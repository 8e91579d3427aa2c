package models

import "strconv"

// Shop is one seller whose paginated listing is crawled as a unit.
type Shop struct {
	Name       string
	ListingURL string
}

// ProductRecord is one extracted product row. Count carries the number of
// listing-page occurrences of the product URL, not a quantity on the page.
type ProductRecord struct {
	ID             string
	Count          int
	URL            string
	Title          string
	Description    string
	Price          float64
	PriceQualifier string
}

// Header returns the column names for the tabular sink contract.
func Header() []string {
	return []string{"id", "count", "url", "title", "description", "price", "price_qualifier"}
}

// Row renders the record as the 7-column tuple handed to the sink.
func (p *ProductRecord) Row() []string {
	return []string{
		p.ID,
		strconv.Itoa(p.Count),
		p.URL,
		p.Title,
		p.Description,
		strconv.FormatFloat(p.Price, 'f', -1, 64),
		p.PriceQualifier,
	}
}
