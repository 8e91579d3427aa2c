// Package state models the durable, resumable crawl progress for one shop.
package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dkorolev/trademe-shop-scraper/internal/models"
)

// ErrEmptySnapshot means a resume file contained no shop entry.
var ErrEmptySnapshot = errors.New("snapshot contains no shop")

// CrawlState is the per-shop work-to-do: the ordered queue of unvisited
// listing pages and the multiplicity map of unvisited product URLs. A product
// URL present in Products has never been successfully extracted in this
// state generation.
type CrawlState struct {
	Name         string
	ListingPages []models.ListingPageRef
	Products     map[string]int
}

func New(name string) *CrawlState {
	return &CrawlState{
		Name:     name,
		Products: make(map[string]int),
	}
}

// SetListingPages replaces the queue, sorted ascending by page number.
func (s *CrawlState) SetListingPages(refs []models.ListingPageRef) {
	pages := make([]models.ListingPageRef, len(refs))
	copy(pages, refs)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	s.ListingPages = pages
}

// AddProducts merges discovered product URLs into the multiplicity map.
// A URL referenced from k listing pages ends with count k.
func (s *CrawlState) AddProducts(urls []string) {
	for _, url := range urls {
		s.Products[url]++
	}
}

// RemoveListingPage dequeues a listing page. Called only after its product
// URLs were successfully extracted.
func (s *CrawlState) RemoveListingPage(url string) {
	for i, ref := range s.ListingPages {
		if ref.URL == url {
			s.ListingPages = append(s.ListingPages[:i], s.ListingPages[i+1:]...)
			return
		}
	}
}

// RemoveProduct drops a product from the map. Called only after a record was
// appended to the shop's results.
func (s *CrawlState) RemoveProduct(url string) {
	delete(s.Products, url)
}

// PendingProducts returns the unvisited product URLs. The map is the source
// of truth; iteration order is not significant.
func (s *CrawlState) PendingProducts() []string {
	urls := make([]string, 0, len(s.Products))
	for url := range s.Products {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Done reports whether all listing pages and products were consumed.
func (s *CrawlState) Done() bool {
	return len(s.ListingPages) == 0 && len(s.Products) == 0
}

func (s *CrawlState) validate() error {
	if s.Name == "" {
		return fmt.Errorf("crawl state has no shop name")
	}
	for url, count := range s.Products {
		if count < 1 {
			return fmt.Errorf("product %q has count %d", url, count)
		}
	}
	return nil
}
