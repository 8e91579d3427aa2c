package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dkorolev/trademe-shop-scraper/internal/extract"
	"github.com/dkorolev/trademe-shop-scraper/internal/models"
)

// shopDoc is the on-disk snapshot format: one JSON document per shop, keyed
// by shop name. Listing URLs are stored ordered ascending by page number.
type shopDoc struct {
	URLListing []string       `json:"url-listing"`
	Products   map[string]int `json:"products"`
}

// Store persists crawl snapshots, one file per shop, each replaced
// atomically so a crash never exposes a torn write.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the snapshot file path for a shop.
func (st *Store) Path(shopName string) string {
	return filepath.Join(st.dir, SanitizeFilename(shopName)+".json")
}

// Save overwrites the shop's snapshot with the current state.
func (st *Store) Save(s *CrawlState) error {
	if err := s.validate(); err != nil {
		return err
	}

	urls := make([]string, 0, len(s.ListingPages))
	for _, ref := range s.ListingPages {
		urls = append(urls, ref.URL)
	}
	products := s.Products
	if products == nil {
		products = map[string]int{}
	}

	doc := map[string]shopDoc{
		s.Name: {URLListing: urls, Products: products},
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return replaceFile(st.Path(s.Name), data)
}

// Load reads a snapshot file and rebuilds the crawl state for the single
// shop it contains.
func Load(path string) (*CrawlState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var doc map[string]shopDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(doc) == 0 {
		return nil, ErrEmptySnapshot
	}

	// Resume files hold exactly one shop.
	for name, shop := range doc {
		s := New(name)
		refs := make([]models.ListingPageRef, 0, len(shop.URLListing))
		for _, url := range shop.URLListing {
			refs = append(refs, models.ListingPageRef{URL: url, Page: extract.PageNumber(url)})
		}
		s.SetListingPages(refs)
		if shop.Products != nil {
			s.Products = shop.Products
		}
		return s, nil
	}
	return nil, ErrEmptySnapshot
}

var invalidFilenameRe = regexp.MustCompile(`[^-\w.]`)

// SanitizeFilename converts a shop name to a safe snapshot filename:
// surrounding spaces trimmed, inner spaces to underscores, everything
// outside [-\w.] removed.
func SanitizeFilename(name string) string {
	s := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	return invalidFilenameRe.ReplaceAllString(s, "")
}

// replaceFile writes data through a temp file and rename, so a reader never
// observes a half-written snapshot.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
