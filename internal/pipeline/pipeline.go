// Package pipeline drives the crawl: shop discovery, listing pagination,
// product visitation and sink handoff, with a durable snapshot written after
// every state mutation so an aborted run resumes from the last checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dkorolev/trademe-shop-scraper/internal/events"
	"github.com/dkorolev/trademe-shop-scraper/internal/extract"
	"github.com/dkorolev/trademe-shop-scraper/internal/fetch"
	"github.com/dkorolev/trademe-shop-scraper/internal/metrics"
	"github.com/dkorolev/trademe-shop-scraper/internal/models"
	"github.com/dkorolev/trademe-shop-scraper/internal/ratelimit"
	"github.com/dkorolev/trademe-shop-scraper/internal/sink"
	"github.com/dkorolev/trademe-shop-scraper/internal/state"
)

// ErrAuthLost is run-fatal: the session is shared across all shops, so once
// it is presumed dead no further shop can be crawled either.
var ErrAuthLost = errors.New("authentication lost, aborting run")

// Fetcher is the gate contract the orchestrator depends on.
type Fetcher interface {
	Fetch(ctx context.Context, url, phase string) fetch.Outcome
	Counters() *fetch.Counters
}

// Options wires the pipeline's collaborators.
type Options struct {
	Gate      Fetcher
	Store     *state.Store
	Sink      sink.Sink
	Publisher *events.Publisher
	Pacer     ratelimit.Pacer
	ShopPacer ratelimit.Pacer
	Metrics   *metrics.Metrics
	BaseURL   string
	RunID     string
}

type Pipeline struct {
	gate      Fetcher
	store     *state.Store
	sink      sink.Sink
	publisher *events.Publisher
	pacer     ratelimit.Pacer
	shopPacer ratelimit.Pacer
	metrics   *metrics.Metrics
	baseURL   string
	runID     string
	logger    *slog.Logger

	status statusTracker
}

func New(opts Options) *Pipeline {
	p := &Pipeline{
		gate:      opts.Gate,
		store:     opts.Store,
		sink:      opts.Sink,
		publisher: opts.Publisher,
		pacer:     opts.Pacer,
		shopPacer: opts.ShopPacer,
		metrics:   opts.Metrics,
		baseURL:   opts.BaseURL,
		runID:     opts.RunID,
		logger:    slog.Default().With("component", "pipeline"),
	}
	if p.pacer == nil {
		p.pacer = ratelimit.Immediate{}
	}
	if p.shopPacer == nil {
		p.shopPacer = ratelimit.Immediate{}
	}
	p.status.init(opts.RunID)
	return p
}

// Run crawls every seeded shop in order. Transport-level trouble abandons
// only the affected shop; authentication loss aborts the whole run.
func (p *Pipeline) Run(ctx context.Context, shops []models.Shop) error {
	for _, shop := range shops {
		if err := p.shopPacer.Wait(ctx); err != nil {
			return err
		}

		err := p.CrawlShop(ctx, shop)
		if err != nil {
			p.logger.Error("shop crawl aborted",
				"shop", shop.Name,
				"requests_issued", p.gate.Counters().RequestsIssued(),
				"error", err)
			return err
		}
		p.status.shopDone()
	}

	p.status.setPhase("", "done")
	p.logger.Info("run finished", "requests_issued", p.gate.Counters().RequestsIssued())
	return nil
}

// CrawlShop runs the per-shop state machine from the seed URL. A nil return
// covers both completion and soft abandonment; only run-fatal conditions
// surface as errors.
func (p *Pipeline) CrawlShop(ctx context.Context, shop models.Shop) error {
	p.logger.Info("starting shop", "shop", shop.Name, "url", shop.ListingURL)
	p.status.setPhase(shop.Name, "discover_listing")

	outcome := p.gate.Fetch(ctx, shop.ListingURL, "listing")
	switch outcome.Kind {
	case fetch.TransportFailure:
		// Nothing durable exists yet for this shop; move on to the next one.
		p.logger.Warn("seed fetch failed, abandoning shop", "shop", shop.Name, "error", outcome.Err)
		return nil
	case fetch.Unauthenticated:
		// The very first probe of a shop without authentication means the
		// session is dead for everything that follows.
		return fmt.Errorf("seed fetch for %s: %w", shop.Name, ErrAuthLost)
	}

	st := state.New(shop.Name)
	p.status.setPhase(shop.Name, "enumerate_pages")

	seed := extract.SeedPageRef(outcome.FinalURL, p.baseURL)
	pages := append([]models.ListingPageRef{seed}, extract.ListingPages(outcome.Doc)...)
	st.SetListingPages(dedupePages(pages))
	if err := p.store.Save(st); err != nil {
		return fmt.Errorf("persist initial state for %s: %w", shop.Name, err)
	}
	p.logger.Info("listing pages enumerated", "shop", shop.Name, "pages", len(st.ListingPages))

	return p.process(ctx, st)
}

// ResumeShop continues a previously interrupted shop from its snapshot.
func (p *Pipeline) ResumeShop(ctx context.Context, st *state.CrawlState) error {
	p.logger.Info("resuming shop",
		"shop", st.Name,
		"pending_pages", len(st.ListingPages),
		"pending_products", len(st.Products))
	return p.process(ctx, st)
}

// process runs COLLECT_PRODUCT_URLS and VISIT_PRODUCTS for a shop whose
// listing-page queue is already populated. Accumulated rows are flushed to
// the sink even when the shop aborts mid-way.
func (p *Pipeline) process(ctx context.Context, st *state.CrawlState) error {
	if err := p.collectProductURLs(ctx, st); err != nil {
		return err
	}

	rows, visitErr := p.visitProducts(ctx, st)
	p.flush(ctx, st.Name, rows)
	if visitErr != nil {
		return visitErr
	}

	p.logger.Info("shop finished", "shop", st.Name, "products", len(rows))
	return nil
}

func (p *Pipeline) collectProductURLs(ctx context.Context, st *state.CrawlState) error {
	p.status.setPhase(st.Name, "collect_product_urls")

	// Iterate over a copy: the queue shrinks as pages succeed.
	queue := make([]models.ListingPageRef, len(st.ListingPages))
	copy(queue, st.ListingPages)

	for _, ref := range queue {
		if err := p.pacer.Wait(ctx); err != nil {
			return err
		}
		p.status.setPending(len(st.ListingPages), len(st.Products))

		outcome := p.gate.Fetch(ctx, p.baseURL+ref.URL, "listing")
		switch outcome.Kind {
		case fetch.TransportFailure:
			// Stays queued for a later resume pass.
			p.logger.Warn("listing page skipped", "shop", st.Name, "page", ref.Page, "error", outcome.Err)
			continue
		case fetch.Unauthenticated:
			if p.gate.Counters().BudgetExhausted() {
				return p.abortAuthLost(st)
			}
			continue
		}

		st.AddProducts(extract.ProductURLs(outcome.Doc))
		// Dequeue only after the page contributed its products, then
		// snapshot before touching the next page.
		st.RemoveListingPage(ref.URL)
		if err := p.store.Save(st); err != nil {
			return fmt.Errorf("persist state for %s: %w", st.Name, err)
		}
	}

	p.logger.Info("product urls collected",
		"shop", st.Name,
		"unique_products", len(st.Products),
		"pages_left", len(st.ListingPages))
	return nil
}

func (p *Pipeline) visitProducts(ctx context.Context, st *state.CrawlState) ([]models.ProductRecord, error) {
	p.status.setPhase(st.Name, "visit_products")

	var rows []models.ProductRecord
	for _, url := range st.PendingProducts() {
		if err := p.pacer.Wait(ctx); err != nil {
			return rows, err
		}
		p.status.setPending(len(st.ListingPages), len(st.Products))

		count := st.Products[url]
		outcome := p.gate.Fetch(ctx, p.baseURL+url, "product")
		switch outcome.Kind {
		case fetch.TransportFailure:
			p.logger.Warn("product skipped", "shop", st.Name, "url", url, "error", outcome.Err)
			continue
		case fetch.Unauthenticated:
			if p.gate.Counters().BudgetExhausted() {
				return rows, p.abortAuthLost(st)
			}
			continue
		}

		fields, err := extract.Product(outcome.Doc, outcome.Body)
		if err != nil {
			// Malformed page: the visit happened, it just yields no row.
			p.logger.Error("malformed product page", "shop", st.Name, "url", url, "error", err)
			p.metrics.IncError("malformed_page")
			st.RemoveProduct(url)
			if err := p.store.Save(st); err != nil {
				return rows, fmt.Errorf("persist state for %s: %w", st.Name, err)
			}
			continue
		}
		for _, gap := range fields.Gaps {
			p.logger.Warn("field fallback chain exhausted", "shop", st.Name, "url", url, "field", gap)
			p.metrics.IncExtractionGap(gap)
		}

		record := models.ProductRecord{
			ID:             extract.ProductID(url),
			Count:          count,
			URL:            outcome.FinalURL,
			Title:          fields.Title,
			Description:    fields.Description,
			Price:          fields.Price,
			PriceQualifier: fields.PriceQualifier,
		}
		rows = append(rows, record)
		p.metrics.IncProduct()

		// Success-gated removal, snapshot before the next product.
		st.RemoveProduct(url)
		if err := p.store.Save(st); err != nil {
			return rows, fmt.Errorf("persist state for %s: %w", st.Name, err)
		}

		if err := p.publisher.PublishProductScraped(ctx, st.Name, &record); err != nil {
			p.logger.Warn("event publish failed", "shop", st.Name, "error", err)
		}
	}

	return rows, nil
}

// abortAuthLost persists the remaining work and raises the run-fatal signal.
func (p *Pipeline) abortAuthLost(st *state.CrawlState) error {
	p.logger.Error("unauthenticated budget exhausted",
		"shop", st.Name,
		"requests_issued", p.gate.Counters().RequestsIssued())
	if err := p.store.Save(st); err != nil {
		p.logger.Error("failed to persist state before abort", "shop", st.Name, "error", err)
	}
	return fmt.Errorf("shop %s: %w", st.Name, ErrAuthLost)
}

// flush hands the accumulated rows to the sink. Partial results beat silent
// loss, so this also runs when a shop aborts; sink errors are logged, never
// propagated.
func (p *Pipeline) flush(ctx context.Context, shop string, records []models.ProductRecord) {
	if len(records) == 0 {
		return
	}

	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, models.Header())
	for i := range records {
		rows = append(rows, records[i].Row())
	}

	if err := p.sink.Append(ctx, shop, rows); err != nil {
		p.logger.Error("sink append failed", "shop", shop, "rows", len(rows), "error", err)
		return
	}
	p.logger.Info("rows written to sink", "shop", shop, "rows", len(records))
}

func dedupePages(refs []models.ListingPageRef) []models.ListingPageRef {
	seen := make(map[string]struct{}, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if _, ok := seen[ref.URL]; ok {
			continue
		}
		seen[ref.URL] = struct{}{}
		out = append(out, ref)
	}
	return out
}
