// Package seeds loads the ordered shop list that drives a crawl run.
package seeds

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/dkorolev/trademe-shop-scraper/internal/models"
)

// Load reads a CSV file of "name,listing_url" pairs. Shop names must be
// unique within a run; blank lines and lines starting with # are skipped.
func Load(path string) ([]models.Shop, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	seen := make(map[string]struct{})
	var shops []models.Shop
	for i, record := range records {
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("seed line %d: want name,url", i+1)
		}

		name := strings.TrimSpace(strings.TrimSuffix(record[0], "\r"))
		url := strings.TrimSpace(record[1])
		if name == "" || url == "" {
			return nil, fmt.Errorf("seed line %d: empty name or url", i+1)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate shop name %q", name)
		}
		seen[name] = struct{}{}

		shops = append(shops, models.Shop{Name: name, ListingURL: url})
	}

	return shops, nil
}
