// Package fetch issues authenticated HTTP requests and classifies every
// response before the rest of the pipeline is allowed to look at it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/dkorolev/trademe-shop-scraper/internal/metrics"
	"github.com/dkorolev/trademe-shop-scraper/internal/session"
)

var (
	// ErrIdentityMismatch means the logout form was present but named a
	// different account than the one this session belongs to.
	ErrIdentityMismatch = errors.New("authentication marker matched a different identity")
	ErrBadStatus        = errors.New("non-200 response status")
)

// Kind classifies a fetched response.
type Kind int

const (
	// Authenticated means the page carries the auth marker for our identity.
	Authenticated Kind = iota
	// Unauthenticated means the marker was absent even after the bare retry.
	Unauthenticated
	// TransportFailure covers network errors, timeouts, non-200 statuses and
	// identity mismatches. Always soft: skip the URL, keep the loop going.
	TransportFailure
)

func (k Kind) String() string {
	switch k {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	case TransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one fetch. Doc and Body are only set
// for Authenticated outcomes.
type Outcome struct {
	Kind     Kind
	Doc      *goquery.Document
	Body     string
	FinalURL string
	Status   int
	Err      error
}

// Counters is the run-wide request accounting. The crawl goroutine writes,
// the status server reads concurrently, so every access goes through the
// mutex.
type Counters struct {
	mu             sync.Mutex
	requestsIssued int
	unauthBudget   int
}

func NewCounters(unauthBudget int) *Counters {
	return &Counters{unauthBudget: unauthBudget}
}

// IncRequests counts one issued HTTP request.
func (c *Counters) IncRequests() {
	c.mu.Lock()
	c.requestsIssued++
	c.mu.Unlock()
}

// ConsumeBudget spends one tolerated unauthenticated response and returns
// what remains.
func (c *Counters) ConsumeBudget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unauthBudget--
	return c.unauthBudget
}

// RequestsIssued returns the number of HTTP requests issued so far.
func (c *Counters) RequestsIssued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsIssued
}

// UnauthBudget returns the remaining tolerated unauthenticated responses.
func (c *Counters) UnauthBudget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unauthBudget
}

// BudgetExhausted reports whether the tolerated unauthenticated responses
// have been used up.
func (c *Counters) BudgetExhausted() bool {
	return c.UnauthBudget() <= 0
}

const (
	logoutFormSelector = `form[action="/Members/Logout.aspx"]`
	logoutLinkSelector = "a.logged-in__log-out"
	logoutLinkText     = "Log out"
)

// Gate owns the HTTP session for the lifetime of a run.
type Gate struct {
	client      *resty.Client
	cookies     []session.Cookie
	identity    string
	sessionFile string
	baseURL     *url.URL
	counters    *Counters
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewGate(client *resty.Client, cookies []session.Cookie, identity, sessionFile, baseURL string, counters *Counters, m *metrics.Metrics) *Gate {
	// An unparsable base URL only disables the live-jar snapshot.
	parsed, _ := url.Parse(baseURL)
	return &Gate{
		client:      client,
		cookies:     cookies,
		identity:    identity,
		sessionFile: sessionFile,
		baseURL:     parsed,
		counters:    counters,
		metrics:     m,
		logger:      slog.Default().With("component", "fetch_gate"),
	}
}

// Counters exposes the shared run counters.
func (g *Gate) Counters() *Counters {
	return g.counters
}

// Fetch issues an authenticated GET and classifies the response. phase tags
// the request counter (listing, product, auth_check).
func (g *Gate) Fetch(ctx context.Context, url, phase string) Outcome {
	resp, err := g.get(ctx, url, phase, true)
	if err != nil {
		g.logger.Error("request failed", "url", url, "error", err)
		g.metrics.IncError("transport")
		return Outcome{Kind: TransportFailure, Err: err}
	}

	if resp.StatusCode() != http.StatusOK {
		g.logger.Error("unexpected status", "url", url, "status", resp.StatusCode())
		g.metrics.IncError("status")
		return Outcome{
			Kind:   TransportFailure,
			Status: resp.StatusCode(),
			Err:    fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode()),
		}
	}

	body := resp.String()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		g.metrics.IncError("parse")
		return Outcome{Kind: TransportFailure, Err: fmt.Errorf("parse response body: %w", err)}
	}

	kind, markerErr := g.classify(doc)
	switch kind {
	case Authenticated:
		g.persistSession()
		return Outcome{
			Kind:     Authenticated,
			Doc:      doc,
			Body:     body,
			FinalURL: finalURL(resp, url),
			Status:   resp.StatusCode(),
		}
	case TransportFailure:
		// Marker present but for the wrong account. Soft failure, logged
		// distinctly from plain transport errors.
		g.logger.Error("identity mismatch on page", "url", url)
		g.metrics.IncError("identity_mismatch")
		return Outcome{Kind: TransportFailure, Status: resp.StatusCode(), Err: markerErr}
	}

	// No marker at all. One bare retry without the header profile; some
	// responses only decode cleanly without it.
	g.logger.Debug("auth marker missing, retrying without header profile", "url", url)
	retry, err := g.get(ctx, url, phase, false)
	if err == nil && retry.StatusCode() == http.StatusOK {
		retryBody := retry.String()
		if retryDoc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(retryBody)); parseErr == nil {
			retryKind, retryErr := g.classify(retryDoc)
			switch retryKind {
			case Authenticated:
				g.persistSession()
				return Outcome{
					Kind:     Authenticated,
					Doc:      retryDoc,
					Body:     retryBody,
					FinalURL: finalURL(retry, url),
					Status:   retry.StatusCode(),
				}
			case TransportFailure:
				// Mismatch on the retry is the same soft failure as on the
				// first attempt; it never spends budget.
				g.logger.Error("identity mismatch on page", "url", url)
				g.metrics.IncError("identity_mismatch")
				return Outcome{Kind: TransportFailure, Status: retry.StatusCode(), Err: retryErr}
			}
		}
	}

	left := g.counters.ConsumeBudget()
	g.metrics.IncUnauthenticated()
	g.logger.Warn("page without authentication",
		"url", url,
		"budget_left", left)
	return Outcome{Kind: Unauthenticated}
}

// CheckAuth probes the configured account page and reports whether the
// session cookies still authenticate.
func (g *Gate) CheckAuth(ctx context.Context, url string) bool {
	outcome := g.Fetch(ctx, url, "auth_check")
	return outcome.Kind == Authenticated
}

func (g *Gate) get(ctx context.Context, url, phase string, withHeaders bool) (*resty.Response, error) {
	g.counters.IncRequests()
	g.metrics.IncRequest(phase)

	req := g.client.R().SetContext(ctx)
	if withHeaders {
		req.SetHeaders(session.HeaderProfile())
	}
	return req.Get(url)
}

// classify inspects the document for the auth marker. Returns Authenticated,
// TransportFailure (identity mismatch) or Unauthenticated (no marker).
func (g *Gate) classify(doc *goquery.Document) (Kind, error) {
	form := doc.Find(logoutFormSelector)
	if form.Length() > 0 {
		identity := strings.TrimSpace(form.First().Text())
		if identity == g.identity {
			return Authenticated, nil
		}
		return TransportFailure, fmt.Errorf("%w: got %q", ErrIdentityMismatch, identity)
	}

	link := doc.Find(logoutLinkSelector)
	if link.Length() > 0 && strings.TrimSpace(link.First().Text()) == logoutLinkText {
		return Authenticated, nil
	}

	return Unauthenticated, nil
}

// finalURL reports where the request ended up after redirects, falling back
// to the requested URL.
func finalURL(resp *resty.Response, requested string) string {
	raw := resp.RawResponse
	if raw != nil && raw.Request != nil && raw.Request.URL != nil {
		return raw.Request.URL.String()
	}
	return requested
}

// persistSession overwrites the credential snapshot. Diagnostic only, never
// fails the fetch.
func (g *Gate) persistSession() {
	if g.sessionFile == "" {
		return
	}
	if err := session.Save(g.sessionFile, g.liveCookies()); err != nil {
		g.logger.Warn("failed to persist session snapshot", "error", err)
		return
	}
	g.logger.Debug("session snapshot persisted", "file", g.sessionFile)
}

// liveCookies reads the client jar so values the server refreshed mid-run
// reach the snapshot. The jar only exposes name and value; the remaining
// attributes come from the captured set.
func (g *Gate) liveCookies() []session.Cookie {
	if g.baseURL == nil || g.client.GetClient().Jar == nil {
		return g.cookies
	}

	jarCookies := g.client.GetClient().Jar.Cookies(g.baseURL)
	if len(jarCookies) == 0 {
		return g.cookies
	}

	captured := make(map[string]session.Cookie, len(g.cookies))
	for _, c := range g.cookies {
		captured[c.Name] = c
	}

	out := make([]session.Cookie, 0, len(jarCookies))
	for _, c := range jarCookies {
		cookie := session.Cookie{Name: c.Name, Value: c.Value}
		if orig, ok := captured[c.Name]; ok {
			cookie.Domain = orig.Domain
			cookie.Path = orig.Path
			cookie.Secure = orig.Secure
		}
		out = append(out, cookie)
	}
	return out
}
