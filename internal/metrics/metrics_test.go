package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := sourceScrapesTotal
	Init()
	require.Same(t, first, sourceScrapesTotal)
}

func TestObserveScrapeAndSessions(t *testing.T) {
	ObserveScrape("TEST-SCRAPE", "not_found")
	ObserveScrape("TEST-SCRAPE", "not_found")
	require.InDelta(t, 2, testutil.ToFloat64(sourceScrapesTotal.WithLabelValues("TEST-SCRAPE", "not_found")), 0)

	SetBrowserSessions(3)
	require.InDelta(t, 3, testutil.ToFloat64(browserSessions), 0)

	ObserveSessionInit("TEST-INIT", errors.New("launch failed"))
	require.InDelta(t, 1, testutil.ToFloat64(browserSessionInitsTotal.WithLabelValues("TEST-INIT", "error")), 0)

	ObserveStage("TEST-STAGE", "navigate", 150*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(scrapeStageDuration))

	before := testutil.ToFloat64(lookupsTotal.WithLabelValues("found"))
	ObserveLookup(true, time.Second)
	require.InDelta(t, before+1, testutil.ToFloat64(lookupsTotal.WithLabelValues("found")), 0)
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/middleware-ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/middleware-missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	beforeOK := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	beforeMissing := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	for _, path := range []string{"/middleware-ok", "/middleware-missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, beforeOK+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	require.InDelta(t, beforeMissing+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestHandlerServesRegistry(t *testing.T) {
	ObserveScrape("TEST-HANDLER", "success")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "certlookup_source_scrapes_total")
}
