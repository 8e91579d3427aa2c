// Package extract turns fetched page bodies into structured values. All
// functions are pure: no I/O, no shared state.
package extract

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/dkorolev/trademe-shop-scraper/internal/models"
)

// ErrMissingTitle marks a product page without a first-level heading. The
// page is malformed and the item is skipped upstream.
var ErrMissingTitle = errors.New("product page has no title heading")

var (
	productLinkRe   = regexp.MustCompile(`/Browse/Listing\.aspx\?id=\d+`)
	paginationRe    = regexp.MustCompile(`Feedback\.aspx\?member=\d+&type=&page=\d+`)
	pageParamRe     = regexp.MustCompile(`&page=(\d+)`)
	digitsRe        = regexp.MustCompile(`[0-9]+`)
	priceValueRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	buyNowBlobRe    = regexp.MustCompile(`"buyNowPrice":\s*(\d+(?:\.\d+)?)`)
	descriptionIDRe = regexp.MustCompile(`\w+ContentBoxdescription`)
)

// ProductURLs returns every product anchor target on a listing page,
// duplicates included. The caller accumulates them into a multiplicity map.
func ProductURLs(doc *goquery.Document) []string {
	var urls []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if match := productLinkRe.FindString(href); match != "" {
			urls = append(urls, match)
		}
	})
	return urls
}

// ListingPages returns the pagination refs found on a listing page, one per
// unique URL, sorted ascending by the embedded page number.
func ListingPages(doc *goquery.Document) []models.ListingPageRef {
	seen := make(map[string]struct{})
	var refs []models.ListingPageRef

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		match := paginationRe.FindString(href)
		if match == "" {
			return
		}
		url := "/Members/" + match
		if _, ok := seen[url]; ok {
			return
		}
		seen[url] = struct{}{}
		refs = append(refs, models.ListingPageRef{URL: url, Page: PageNumber(url)})
	})

	sort.Slice(refs, func(i, j int) bool { return refs[i].Page < refs[j].Page })
	return refs
}

// PageNumber extracts the numeric page parameter from a listing URL.
// Returns 0 when no parameter is embedded.
func PageNumber(url string) int {
	m := pageParamRe.FindStringSubmatch(url)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// SeedPageRef normalizes the final URL of the seed fetch into the shop's
// page-1 listing ref.
func SeedPageRef(finalURL, baseURL string) models.ListingPageRef {
	url := strings.TrimPrefix(finalURL, baseURL) + "&type=&page=1"
	return models.ListingPageRef{URL: url, Page: 1}
}

// ProductID returns the first run of digits in a product URL.
func ProductID(url string) string {
	return digitsRe.FindString(url)
}

// Fields is the extraction result for one product page. Gaps names the
// fields whose fallback chain was exhausted and took the default.
type Fields struct {
	Title          string
	Description    string
	Price          float64
	PriceQualifier string
	Gaps           []string
}

// Product extracts all fields from a product page. The title is mandatory;
// every other field falls back to its default and is recorded in Gaps.
func Product(doc *goquery.Document, body string) (*Fields, error) {
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		return nil, ErrMissingTitle
	}

	f := &Fields{Title: title}

	var ok bool
	if f.Description, ok = description(doc); !ok {
		f.Gaps = append(f.Gaps, "description")
	}
	if f.Price, ok = price(doc, body); !ok {
		f.Gaps = append(f.Gaps, "price")
	}
	if f.PriceQualifier, ok = priceQualifier(doc); !ok {
		f.Gaps = append(f.Gaps, "price_qualifier")
	}

	return f, nil
}

type textStrategy func(*goquery.Document) (string, bool)

func description(doc *goquery.Document) (string, bool) {
	strategies := []textStrategy{
		descriptionByContainerID,
		descriptionByMarkdownClass,
	}
	for _, strategy := range strategies {
		if text, ok := strategy(doc); ok {
			return text, true
		}
	}
	return "", false
}

func descriptionByContainerID(doc *goquery.Document) (string, bool) {
	var found *goquery.Selection
	doc.Find("div[id]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		id, _ := sel.Attr("id")
		if descriptionIDRe.MatchString(id) {
			found = sel
			return false
		}
		return true
	})
	if found == nil {
		return "", false
	}
	return strippedText(found), true
}

func descriptionByMarkdownClass(doc *goquery.Document) (string, bool) {
	sel := doc.Find("div.tm-markdown")
	if sel.Length() == 0 {
		return "", false
	}
	return strippedText(sel.First()), true
}

type priceStrategy func(*goquery.Document, string) (float64, bool)

func price(doc *goquery.Document, body string) (float64, bool) {
	strategies := []priceStrategy{
		priceFromBuyNowBox,
		priceFromBuyNowClass,
		priceFromEmbeddedBlob,
	}
	for _, strategy := range strategies {
		if value, ok := strategy(doc, body); ok {
			return value, true
		}
	}
	return 0, false
}

func priceFromBuyNowBox(doc *goquery.Document, _ string) (float64, bool) {
	sel := doc.Find("div#BuyNow_BuyNow")
	if sel.Length() == 0 {
		return 0, false
	}
	return parsePrice(sel.First().Text())
}

func priceFromBuyNowClass(doc *goquery.Document, _ string) (float64, bool) {
	sel := doc.Find("p.tm-buy-now-box__price.p-h1")
	if sel.Length() == 0 {
		return 0, false
	}
	return parsePrice(sel.First().Text())
}

// priceFromEmbeddedBlob finds the price inside an inline script/data blob.
// Works even when the rendered price is hidden.
func priceFromEmbeddedBlob(_ *goquery.Document, body string) (float64, bool) {
	m := buyNowBlobRe.FindStringSubmatch(strings.ReplaceAll(body, ",", ""))
	if len(m) < 2 {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func priceQualifier(doc *goquery.Document) (string, bool) {
	sel := doc.Find("span.tm-buy-now-box__label")
	if sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.First().Text()), true
}

// parsePrice strips thousands separators before the numeric parse.
func parsePrice(text string) (float64, bool) {
	cleaned := strings.ReplaceAll(text, ",", "")
	match := priceValueRe.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// strippedText joins the trimmed text nodes under a selection, one per line.
func strippedText(sel *goquery.Selection) string {
	var lines []string
	for _, node := range sel.Nodes {
		collectText(node, &lines)
	}
	return strings.Join(lines, "\n")
}

func collectText(node *html.Node, lines *[]string) {
	if node.Type == html.TextNode {
		if text := strings.TrimSpace(node.Data); text != "" {
			*lines = append(*lines, text)
		}
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, lines)
	}
}
