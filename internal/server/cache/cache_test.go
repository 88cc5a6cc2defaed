package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/registrylabs/pkgserve/internal/search/engine"
	"github.com/registrylabs/pkgserve/pkg/metrics"
)

func TestKeyNormalization(t *testing.T) {
	base := Key("vector math", 10, nil)

	same := []string{
		"vector math",
		"Vector Math",
		"  vector   math  ",
		"vector\tmath",
	}
	for _, q := range same {
		if got := Key(q, 10, nil); got != base {
			t.Errorf("Key(%q) = %s, want %s", q, got, base)
		}
	}

	different := []struct {
		query     string
		limit     int
		overrides map[string]float64
	}{
		{"vector maths", 10, nil},
		{"vector math", 20, nil},
		{"vector math", 10, map[string]float64{"name": 2}},
	}
	for _, d := range different {
		if got := Key(d.query, d.limit, d.overrides); got == base {
			t.Errorf("Key(%q, %d, %v) collided with base", d.query, d.limit, d.overrides)
		}
	}

	if !strings.HasPrefix(base, keyPrefix) {
		t.Errorf("key %s missing prefix", base)
	}
}

func TestKeyOverrideOrderIndependent(t *testing.T) {
	a := Key("q", 5, map[string]float64{"name": 2, "tags": 3})
	b := Key("q", 5, map[string]float64{"tags": 3, "name": 2})
	if a != b {
		t.Errorf("override order changed the key: %s vs %s", a, b)
	}
}

func TestExecuteWithoutRedis(t *testing.T) {
	qc := New(nil, 0, metrics.New())

	want := []engine.Result{{PackageID: "p", Score: 1.5}}
	calls := 0
	results, hit, err := qc.Execute(context.Background(), "k", func() ([]engine.Result, error) {
		calls++
		return want, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hit {
		t.Error("hit = true without a cache")
	}
	if calls != 1 || len(results) != 1 || results[0].PackageID != "p" {
		t.Errorf("results = %v, calls = %d", results, calls)
	}

	// Search failures pass through unchanged.
	wantErr := errors.New("index unavailable")
	_, _, err = qc.Execute(context.Background(), "k", func() ([]engine.Result, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}

	if _, err := qc.Invalidate(context.Background()); err != nil {
		t.Errorf("Invalidate without redis: %v", err)
	}
}
