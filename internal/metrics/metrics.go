package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one crawl run.
type Metrics struct {
	Registry             *prometheus.Registry
	RequestsTotal        *prometheus.CounterVec
	UnauthenticatedTotal prometheus.Counter
	ProductsScrapedTotal prometheus.Counter
	ExtractionGapsTotal  *prometheus.CounterVec
	ErrorsTotal          *prometheus.CounterVec
}

// New constructs and registers all collectors on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued, by crawl phase.",
		},
		[]string{"phase"},
	)
	unauthenticated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_unauthenticated_total",
			Help: "Responses lacking the authentication marker.",
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_products_scraped_total",
			Help: "Product pages successfully extracted.",
		},
	)
	gaps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_extraction_gaps_total",
			Help: "Fields whose fallback chain was exhausted, by field.",
		},
		[]string{"field"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Soft failures during the crawl, by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, unauthenticated, products, gaps, errorsTotal)

	return &Metrics{
		Registry:             registry,
		RequestsTotal:        requests,
		UnauthenticatedTotal: unauthenticated,
		ProductsScrapedTotal: products,
		ExtractionGapsTotal:  gaps,
		ErrorsTotal:          errorsTotal,
	}
}

// IncRequest increments the request counter for a phase.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// IncUnauthenticated counts a response without the auth marker.
func (m *Metrics) IncUnauthenticated() {
	if m == nil {
		return
	}
	m.UnauthenticatedTotal.Inc()
}

// IncProduct counts a successfully extracted product.
func (m *Metrics) IncProduct() {
	if m == nil {
		return
	}
	m.ProductsScrapedTotal.Inc()
}

// IncExtractionGap counts a defaulted field.
func (m *Metrics) IncExtractionGap(field string) {
	if m == nil {
		return
	}
	m.ExtractionGapsTotal.WithLabelValues(field).Inc()
}

// IncError counts a soft failure by type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
