package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/registrylabs/pkgserve/internal/pkgsearch"
	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/internal/server/cache"
	"github.com/registrylabs/pkgserve/pkg/config"
	"github.com/registrylabs/pkgserve/pkg/health"
	"github.com/registrylabs/pkgserve/pkg/metrics"
)

// Prometheus collectors register globally, so the test binary shares one
// Metrics instance.
var (
	metricsOnce sync.Once
	testMetrics *metrics.Metrics
)

func sharedMetrics() *metrics.Metrics {
	metricsOnce.Do(func() { testMetrics = metrics.New() })
	return testMetrics
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	search, err := pkgsearch.New(cfg.Search)
	if err != nil {
		t.Fatalf("pkgsearch.New: %v", err)
	}
	now := time.Now()
	search.IndexPackage(&registry.Package{
		ID: "vec-lib", Name: "vector library",
		Synopsis: "efficient vectors", Tags: []string{"vector", "numeric"},
		Author: "ada", Maintained: true, UpdatedAt: now,
	})
	search.IndexPackage(&registry.Package{
		ID: "json-tool", Name: "json tool",
		Synopsis: "streaming json parser", Tags: []string{"json"},
		Author: "grace", Maintained: true, UpdatedAt: now,
	})

	m := sharedMetrics()
	return New(cfg, Deps{
		Search:  search,
		Cache:   cache.New(nil, 0, m),
		Checker: health.NewChecker(),
		Metrics: m,
	})
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/search?q=vector")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 1 || resp.Results[0].PackageID != "vec-lib" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Cached {
		t.Error("cached = true without redis")
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/search?q=zzzznothing")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d for zero-result query", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 || resp.Results == nil {
		t.Errorf("zero-result response = %+v, want empty non-nil results", resp)
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	s := testServer(t)

	cases := map[string]string{
		"missing query":   "/v1/search",
		"bad limit":       "/v1/search?q=x&limit=abc",
		"negative limit":  "/v1/search?q=x&limit=-5",
		"unknown boost":   "/v1/search?q=x&boost_bogus=2",
		"bad boost value": "/v1/search?q=x&boost_name=zero",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodGet, path)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSearchEndpointBoost(t *testing.T) {
	s := testServer(t)

	// Boost the tags field so a tag-only match can overtake name matches.
	rec := doRequest(t, s, http.MethodGet, "/v1/search?q=vector&boost_tags=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].PackageID != "vec-lib" {
		t.Errorf("boosted response = %+v", resp)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/admin/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["indexed_documents"] != float64(2) {
		t.Errorf("indexed_documents = %v, want 2", resp["indexed_documents"])
	}
}

func TestProbesBypassAPIMiddleware(t *testing.T) {
	s := testServer(t)
	if rec := doRequest(t, s, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=vector", nil)
	req.Header.Set("X-Request-ID", "test-id-42")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "test-id-42" {
		t.Errorf("X-Request-ID = %q, want test-id-42", got)
	}
}
