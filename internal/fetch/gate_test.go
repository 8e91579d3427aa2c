package fetch

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkorolev/trademe-shop-scraper/internal/metrics"
	"github.com/dkorolev/trademe-shop-scraper/internal/session"
)

const (
	testBase     = "https://www.trademe.co.nz"
	testIdentity = "AcmeUser"

	authedPage   = `<html><body><form action="/Members/Logout.aspx">AcmeUser</form><h1>ok</h1></body></html>`
	mismatchPage = `<html><body><form action="/Members/Logout.aspx">SomeoneElse</form></body></html>`
	logoutLink   = `<html><body><a class="logged-in__log-out"> Log out </a></body></html>`
	anonPage     = `<html><body><h1>please sign in</h1></body></html>`
)

func newTestGate(t *testing.T, budget int) (*Gate, *Counters) {
	t.Helper()

	client, err := session.NewClient(testBase, 5*time.Second, nil)
	require.NoError(t, err)
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	counters := NewCounters(budget)
	sessionFile := filepath.Join(t.TempDir(), "cookies.json")
	gate := NewGate(client, []session.Cookie{{Name: "x", Value: "y"}}, testIdentity, sessionFile, testBase, counters, metrics.New())
	return gate, counters
}

func TestFetchAuthenticated(t *testing.T) {
	gate, counters := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/page",
		httpmock.NewStringResponder(200, authedPage))

	outcome := gate.Fetch(context.Background(), testBase+"/page", "listing")

	assert.Equal(t, Authenticated, outcome.Kind)
	require.NotNil(t, outcome.Doc)
	assert.Equal(t, "ok", outcome.Doc.Find("h1").Text())
	assert.Equal(t, 1, counters.RequestsIssued())
	assert.Equal(t, 300, counters.UnauthBudget())

	// Every authenticated fetch re-persists the credential snapshot.
	_, err := os.Stat(gate.sessionFile)
	assert.NoError(t, err)
}

func TestFetchIdentityMismatch(t *testing.T) {
	gate, counters := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/page",
		httpmock.NewStringResponder(200, mismatchPage))

	outcome := gate.Fetch(context.Background(), testBase+"/page", "listing")

	assert.Equal(t, TransportFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrIdentityMismatch)
	// Mismatch is a soft failure, not an unauthenticated response.
	assert.Equal(t, 300, counters.UnauthBudget())
}

func TestFetchLogoutLinkFallbackMarker(t *testing.T) {
	gate, _ := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/page",
		httpmock.NewStringResponder(200, logoutLink))

	outcome := gate.Fetch(context.Background(), testBase+"/page", "product")

	assert.Equal(t, Authenticated, outcome.Kind)
}

func TestFetchUnauthenticatedAfterBareRetry(t *testing.T) {
	gate, counters := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/page",
		httpmock.NewStringResponder(200, anonPage))

	outcome := gate.Fetch(context.Background(), testBase+"/page", "product")

	assert.Equal(t, Unauthenticated, outcome.Kind)
	// Primary attempt plus one bare retry, a single budget decrement.
	assert.Equal(t, 2, counters.RequestsIssued())
	assert.Equal(t, 299, counters.UnauthBudget())
}

func TestFetchBareRetryRecovers(t *testing.T) {
	gate, counters := newTestGate(t, 300)

	// Marker appears only when the fixed header profile is absent.
	httpmock.RegisterResponder("GET", testBase+"/page",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Accept-Language") != "" {
				return httpmock.NewStringResponse(200, anonPage), nil
			}
			return httpmock.NewStringResponse(200, authedPage), nil
		})

	outcome := gate.Fetch(context.Background(), testBase+"/page", "product")

	assert.Equal(t, Authenticated, outcome.Kind)
	assert.Equal(t, 2, counters.RequestsIssued())
	assert.Equal(t, 300, counters.UnauthBudget())
}

func TestFetchBareRetryIdentityMismatch(t *testing.T) {
	gate, counters := newTestGate(t, 300)

	// First attempt shows no marker, the bare retry names another account.
	httpmock.RegisterResponder("GET", testBase+"/page",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Accept-Language") != "" {
				return httpmock.NewStringResponse(200, anonPage), nil
			}
			return httpmock.NewStringResponse(200, mismatchPage), nil
		})

	outcome := gate.Fetch(context.Background(), testBase+"/page", "product")

	assert.Equal(t, TransportFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrIdentityMismatch)
	assert.Equal(t, 2, counters.RequestsIssued())
	// Mismatch never spends budget, on either attempt.
	assert.Equal(t, 300, counters.UnauthBudget())
}

func TestPersistSessionSnapshotsRefreshedCookies(t *testing.T) {
	gate, _ := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/page",
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(200, authedPage)
			resp.Header.Set("Set-Cookie", "x=refreshed; Path=/")
			return resp, nil
		})

	outcome := gate.Fetch(context.Background(), testBase+"/page", "listing")
	require.Equal(t, Authenticated, outcome.Kind)

	// The snapshot carries the jar's current value, not the captured one.
	cookies, err := session.Load(gate.sessionFile)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "x", cookies[0].Name)
	assert.Equal(t, "refreshed", cookies[0].Value)
}

func TestFetchNon200Status(t *testing.T) {
	gate, counters := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/page",
		httpmock.NewStringResponder(503, "unavailable"))

	outcome := gate.Fetch(context.Background(), testBase+"/page", "listing")

	assert.Equal(t, TransportFailure, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrBadStatus)
	assert.Equal(t, 503, outcome.Status)
	assert.Equal(t, 300, counters.UnauthBudget())
}

func TestFetchNetworkError(t *testing.T) {
	gate, _ := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/page",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	outcome := gate.Fetch(context.Background(), testBase+"/page", "listing")

	assert.Equal(t, TransportFailure, outcome.Kind)
	assert.Error(t, outcome.Err)
}

func TestBudgetExhaustion(t *testing.T) {
	gate, counters := newTestGate(t, 2)
	httpmock.RegisterResponder("GET", testBase+"/page",
		httpmock.NewStringResponder(200, anonPage))

	gate.Fetch(context.Background(), testBase+"/page", "product")
	assert.False(t, counters.BudgetExhausted())

	gate.Fetch(context.Background(), testBase+"/page", "product")
	assert.True(t, counters.BudgetExhausted())
}

func TestCheckAuth(t *testing.T) {
	gate, _ := newTestGate(t, 300)
	httpmock.RegisterResponder("GET", testBase+"/check",
		httpmock.NewStringResponder(200, authedPage))
	httpmock.RegisterResponder("GET", testBase+"/anon",
		httpmock.NewStringResponder(200, anonPage))

	assert.True(t, gate.CheckAuth(context.Background(), testBase+"/check"))
	assert.False(t, gate.CheckAuth(context.Background(), testBase+"/anon"))
}
