// Package stats aggregates download events into PostgreSQL counters and
// keeps the index's static ranking features current. Events buffer in
// memory and flush as one UPDATE per package per interval, so a popular
// package generates one row write instead of thousands.
package stats

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/registrylabs/pkgserve/internal/ingest"
	"github.com/registrylabs/pkgserve/internal/pkgsearch"
	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/pkg/config"
	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
	"github.com/registrylabs/pkgserve/pkg/metrics"
)

// Collector buffers download counts per package and flushes them on a
// timer or when the buffer fills.
type Collector struct {
	cfg     config.StatsConfig
	store   *registry.Store
	search  *pkgsearch.Service
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]int64
	total   int64
	flushCh chan struct{}
}

// NewCollector creates a Collector; Start must be called to begin flushing.
func NewCollector(cfg config.StatsConfig, store *registry.Store, search *pkgsearch.Service, m *metrics.Metrics) *Collector {
	return &Collector{
		cfg:     cfg,
		store:   store,
		search:  search,
		metrics: m,
		logger:  slog.Default().With("component", "stats-collector"),
		pending: make(map[string]int64),
		flushCh: make(chan struct{}, 1),
	}
}

// Record buffers one download event. When the buffered total reaches the
// configured size an early flush is signalled; Record itself never blocks
// on the database.
func (c *Collector) Record(event ingest.DownloadEvent) {
	c.metrics.DownloadEventsTotal.Inc()
	c.mu.Lock()
	c.pending[event.PackageID] += event.Count
	c.total += event.Count
	full := c.total >= int64(c.cfg.BufferSize)
	c.mu.Unlock()
	if full {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Start runs the flush and feature-refresh loops until ctx is cancelled,
// then performs a final flush.
func (c *Collector) Start(ctx context.Context) {
	flushTicker := time.NewTicker(c.cfg.FlushInterval)
	refreshTicker := time.NewTicker(c.cfg.RefreshInterval)
	go func() {
		defer flushTicker.Stop()
		defer refreshTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.flush(context.Background())
				c.logger.Info("collector stopped")
				return
			case <-flushTicker.C:
				c.flush(ctx)
			case <-c.flushCh:
				c.flush(ctx)
			case <-refreshTicker.C:
				c.refreshAll(ctx)
			}
		}
	}()
}

// flush drains the buffer and applies one increment per package. Packages
// that vanished from the registry are dropped; transient database failures
// put the counts back for the next cycle.
func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = make(map[string]int64)
	c.total = 0
	c.mu.Unlock()

	flushed := 0
	for id, count := range batch {
		if _, err := c.store.AddDownloads(ctx, id, count); err != nil {
			if errors.Is(err, apperrors.ErrPackageNotFound) {
				continue
			}
			c.logger.Warn("download flush failed, requeueing", "package_id", id, "error", err)
			c.mu.Lock()
			c.pending[id] += count
			c.total += count
			c.mu.Unlock()
			continue
		}
		flushed++
		c.refreshOne(ctx, id)
	}
	if flushed > 0 {
		c.logger.Debug("download counts flushed", "packages", flushed)
	}
}

// refreshOne reloads a package and recomputes its ranking features so the
// new download count shows up in scores without a full reindex.
func (c *Collector) refreshOne(ctx context.Context, id string) {
	pkg, err := c.store.GetPackage(ctx, id)
	if err != nil {
		c.logger.Warn("feature refresh skipped", "package_id", id, "error", err)
		return
	}
	if !pkg.Yanked {
		c.search.RefreshFeatures(pkg)
	}
}

// refreshAll walks every indexed package and recomputes features. Recency
// decays with wall-clock time, so even idle packages need this pass.
func (c *Collector) refreshAll(ctx context.Context) {
	start := time.Now()
	count := 0
	err := c.store.AllPackages(ctx, func(pkg *registry.Package) error {
		if c.search.RefreshFeatures(pkg) {
			count++
		}
		return ctx.Err()
	})
	if err != nil {
		c.logger.Warn("feature refresh pass aborted", "refreshed", count, "error", err)
		return
	}
	c.logger.Info("feature refresh pass complete",
		"refreshed", count,
		"duration", time.Since(start),
	)
}
