// Package cache provides a Redis-backed result cache for search queries.
// Identical concurrent queries are collapsed with singleflight so a cold
// key executes the underlying search once. Redis failures trip a circuit
// breaker; while it is open every query goes straight to the index, which
// is always able to answer from its in-memory snapshot.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/registrylabs/pkgserve/internal/search/engine"
	"github.com/registrylabs/pkgserve/pkg/metrics"
	"github.com/registrylabs/pkgserve/pkg/redis"
	"github.com/registrylabs/pkgserve/pkg/resilience"
)

const keyPrefix = "pkgserve:search:"

// QueryCache caches ranked search results keyed by the normalized query.
type QueryCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a QueryCache. A nil redis client disables caching entirely;
// Execute then always runs the search function directly.
func New(client *redis.Client, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client: client,
		ttl:    ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     15 * time.Second,
		}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key builds a deterministic cache key from the query, the result limit,
// and any per-request weight overrides. Queries differing only in
// whitespace or case share a key.
func Key(query string, limit int, overrides map[string]float64) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", normalized, limit)
	if len(overrides) > 0 {
		names := make([]string, 0, len(overrides))
		for name := range overrides {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(h, "|%s=%g", name, overrides[name])
		}
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// Execute returns cached results for key, or runs search once (collapsing
// concurrent callers) and stores the result. The bool reports a cache hit.
func (qc *QueryCache) Execute(ctx context.Context, key string, search func() ([]engine.Result, error)) ([]engine.Result, bool, error) {
	if qc.client == nil {
		results, err := search()
		return results, false, err
	}

	if results, ok := qc.lookup(ctx, key); ok {
		qc.metrics.CacheHitsTotal.Inc()
		return results, true, nil
	}
	qc.metrics.CacheMissesTotal.Inc()

	v, err, _ := qc.group.Do(key, func() (interface{}, error) {
		// Another caller may have populated the key while we waited on
		// the singleflight lock.
		if results, ok := qc.lookup(ctx, key); ok {
			return results, nil
		}
		results, err := search()
		if err != nil {
			return nil, err
		}
		qc.store(ctx, key, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]engine.Result), false, nil
}

func (qc *QueryCache) lookup(ctx context.Context, key string) ([]engine.Result, bool) {
	var raw string
	err := qc.breaker.Execute(func() error {
		var getErr error
		raw, getErr = qc.client.Get(ctx, key)
		if redis.IsNilError(getErr) {
			raw = ""
			return nil
		}
		return getErr
	})
	if err != nil || raw == "" {
		return nil, false
	}
	var results []engine.Result
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		qc.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return results, true
}

func (qc *QueryCache) store(ctx context.Context, key string, results []engine.Result) {
	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	err = qc.breaker.Execute(func() error {
		return qc.client.Set(ctx, key, string(data), qc.ttl)
	})
	if err != nil {
		qc.logger.Warn("cache store failed", "key", key, "error", err)
	}
}

// Invalidate removes all cached search results. Called when the index
// changes, since any ranked list may now be stale.
func (qc *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	if qc.client == nil {
		return 0, nil
	}
	var deleted int64
	err := qc.breaker.Execute(func() error {
		var flushErr error
		deleted, flushErr = qc.client.FlushByPattern(ctx, keyPrefix+"*")
		return flushErr
	})
	if err != nil {
		return 0, fmt.Errorf("invalidating query cache: %w", err)
	}
	return deleted, nil
}

// BreakerState reports the cache circuit breaker state for diagnostics.
func (qc *QueryCache) BreakerState() string {
	return qc.breaker.GetState().String()
}
