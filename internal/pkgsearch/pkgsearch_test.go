package pkgsearch

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/internal/search/index"
	"github.com/registrylabs/pkgserve/pkg/config"
	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
)

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		K1: 1.2,
		Fields: map[string]config.FieldConfig{
			"name":        {Weight: 4.0, B: 0.5},
			"synopsis":    {Weight: 2.5, B: 0.75},
			"description": {Weight: 1.0, B: 0.75},
			"tags":        {Weight: 2.0, B: 0.5},
			"author":      {Weight: 1.0, B: 0.5},
		},
		FeatureWeights: map[string]float64{
			"downloads":  0.5,
			"recency":    0.3,
			"maintained": 0.2,
		},
		MaxResults:   100,
		DefaultLimit: 20,
	}
}

func testPackage(id, name string) *registry.Package {
	return &registry.Package{
		ID:         id,
		Name:       name,
		Synopsis:   "utilities for " + name,
		Tags:       []string{"tools"},
		Author:     "ada",
		Version:    "1.0.0",
		Maintained: true,
		UpdatedAt:  time.Now(),
	}
}

func TestIndexAndSearch(t *testing.T) {
	svc, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.IndexPackage(testPackage("vec", "vector math"))
	svc.IndexPackage(testPackage("json", "json codec"))

	results := svc.Search("vector", 10)
	if len(results) != 1 || results[0].PackageID != "vec" {
		t.Fatalf("Search(vector) = %v", results)
	}
	if svc.NumDocs() != 2 {
		t.Errorf("NumDocs = %d, want 2", svc.NumDocs())
	}

	if !svc.DeindexPackage("vec") {
		t.Fatal("DeindexPackage = false")
	}
	if svc.DeindexPackage("vec") {
		t.Error("second DeindexPackage = true")
	}
	if got := svc.Search("vector", 10); len(got) != 0 {
		t.Errorf("deindexed package still found: %v", got)
	}
}

func TestRefreshFeaturesReorders(t *testing.T) {
	// Score only on downloads so two identically worded packages tie
	// exactly until one of them gains downloads.
	cfg := testConfig()
	cfg.FeatureWeights = map[string]float64{"downloads": 0.5}
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := testPackage("a", "widget engine")
	b := testPackage("b", "widget engine")
	svc.IndexPackage(a)
	svc.IndexPackage(b)

	// Same text, same features: ties resolve by insertion order.
	results := svc.Search("widget", 10)
	if results[0].PackageID != "a" {
		t.Fatalf("initial order = %v", results)
	}

	b.Downloads = 10_000_000
	if !svc.RefreshFeatures(b) {
		t.Fatal("RefreshFeatures = false")
	}
	results = svc.Search("widget", 10)
	if results[0].PackageID != "b" {
		t.Errorf("downloads boost did not reorder: %v", results)
	}

	if svc.RefreshFeatures(testPackage("ghost", "ghost")) {
		t.Error("RefreshFeatures for unindexed package = true")
	}
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	svc, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.IndexPackage(testPackage("vec", "vector math"))
	svc.IndexPackage(testPackage("json", "json codec"))

	blob, err := svc.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := restored.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.NumDocs() != 2 {
		t.Errorf("NumDocs = %d, want 2", restored.NumDocs())
	}
	results := restored.Search("vector", 10)
	if len(results) != 1 || results[0].PackageID != "vec" {
		t.Errorf("Search after restore = %v", results)
	}
}

func TestRestoreCorruptLeavesIndexIntact(t *testing.T) {
	svc, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.IndexPackage(testPackage("vec", "vector math"))

	err = svc.Restore([]byte("garbage that is not a snapshot"))
	if !errors.Is(err, apperrors.ErrCorruptSnapshot) {
		t.Fatalf("Restore error = %v, want ErrCorruptSnapshot", err)
	}
	// The failed restore must not have touched the live index.
	if got := svc.Search("vector", 10); len(got) != 1 {
		t.Errorf("index damaged by failed restore: %v", got)
	}
}

// Queries must keep answering consistently while a writer churns the index.
// The race detector is the real assertion here.
func TestConcurrentReadsDuringWrites(t *testing.T) {
	svc, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.IndexPackage(testPackage("anchor", "anchor package"))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				results := svc.Search("anchor", 10)
				// The anchor document is never removed, so every
				// snapshot must contain it.
				found := false
				for _, res := range results {
					if res.PackageID == "anchor" {
						found = true
					}
				}
				if !found {
					t.Error("anchor missing from results")
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("churn-%d", i%50)
		svc.IndexPackage(testPackage(id, "churn package anchor"))
		if i%3 == 0 {
			svc.DeindexPackage(id)
		}
	}
	close(done)
	wg.Wait()
}

func TestMapPackageFields(t *testing.T) {
	now := time.Now()
	pkg := &registry.Package{
		ID:          "p",
		Name:        "vector math",
		Synopsis:    "linear algebra",
		Description: "dense routines",
		Tags:        []string{"math", "numeric"},
		Author:      "ada",
		Maintained:  true,
		UpdatedAt:   now,
	}
	fields, features := MapPackage(pkg, now)

	if fields[index.FieldName] != "vector math" {
		t.Errorf("name field = %q", fields[index.FieldName])
	}
	if fields[index.FieldTags] != "math numeric" {
		t.Errorf("tags field = %q", fields[index.FieldTags])
	}
	if features["maintained"] != 1.0 {
		t.Errorf("maintained = %v, want 1", features["maintained"])
	}
	if features["downloads"] != 0 {
		t.Errorf("downloads = %v, want 0", features["downloads"])
	}
	// Updated right now: full freshness.
	if r := features["recency"]; math.Abs(r-1.0) > 1e-9 {
		t.Errorf("recency = %v, want 1", r)
	}
}

func TestMapPackageFeatureScaling(t *testing.T) {
	now := time.Now()

	// Ten million downloads saturate the download feature at 1.
	pkg := testPackage("p", "pkg")
	pkg.Downloads = 10_000_000
	_, features := MapPackage(pkg, now)
	if d := features["downloads"]; math.Abs(d-1.0) > 1e-9 {
		t.Errorf("downloads at cap = %v, want 1", d)
	}
	pkg.Downloads = 100_000_000
	_, features = MapPackage(pkg, now)
	if d := features["downloads"]; d != 1.0 {
		t.Errorf("downloads beyond cap = %v, want exactly 1", d)
	}

	// One half-life of staleness halves the recency feature.
	pkg.UpdatedAt = now.Add(-180 * 24 * time.Hour)
	_, features = MapPackage(pkg, now)
	if r := features["recency"]; math.Abs(r-0.5) > 1e-9 {
		t.Errorf("recency after half-life = %v, want 0.5", r)
	}

	// Future timestamps clamp to full freshness rather than exceeding it.
	pkg.UpdatedAt = now.Add(24 * time.Hour)
	_, features = MapPackage(pkg, now)
	if r := features["recency"]; r != 1.0 {
		t.Errorf("recency for future update = %v, want 1", r)
	}

	pkg.Maintained = false
	_, features = MapPackage(pkg, now)
	if features["maintained"] != 0 {
		t.Errorf("maintained = %v, want 0", features["maintained"])
	}
}
