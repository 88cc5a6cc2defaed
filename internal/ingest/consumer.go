package ingest

import (
	"context"
	"log/slog"

	"github.com/registrylabs/pkgserve/internal/pkgsearch"
	"github.com/registrylabs/pkgserve/pkg/kafka"
	"github.com/registrylabs/pkgserve/pkg/metrics"
)

// Invalidator drops cached query results after an index change.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// Applier consumes package events and applies them to the search index.
// Offsets commit only after the index mutation succeeds, so a crash replays
// the event instead of losing it; both index operations are idempotent.
type Applier struct {
	search  *pkgsearch.Service
	cache   Invalidator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewApplier creates an Applier. cache may be nil when caching is disabled.
func NewApplier(search *pkgsearch.Service, cache Invalidator, m *metrics.Metrics) *Applier {
	return &Applier{
		search:  search,
		cache:   cache,
		metrics: m,
		logger:  slog.Default().With("component", "ingest-applier"),
	}
}

// Handle is the kafka.MessageHandler for the package-events topic.
func (a *Applier) Handle(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[PackageEvent](value)
	if err != nil {
		// A malformed event will never decode on replay either. Log and
		// commit past it.
		a.logger.Error("dropping undecodable package event", "key", string(key), "error", err)
		return nil
	}

	switch event.Type {
	case EventPublished:
		if event.Package == nil {
			a.logger.Error("published event without package body", "package_id", event.PackageID)
			return nil
		}
		a.search.IndexPackage(event.Package)
		a.metrics.PackagesIndexedTotal.Inc()
	case EventYanked:
		if a.search.DeindexPackage(event.PackageID) {
			a.metrics.PackagesRemovedTotal.Inc()
		}
	default:
		a.logger.Warn("ignoring unknown event type", "type", event.Type, "package_id", event.PackageID)
		return nil
	}

	a.metrics.IndexedDocuments.Set(float64(a.search.NumDocs()))
	if a.cache != nil {
		if _, err := a.cache.Invalidate(ctx); err != nil {
			// Stale cache entries expire with their TTL; not worth
			// replaying the event over.
			a.logger.Warn("cache invalidation failed", "error", err)
		}
	}
	return nil
}

// HandleDownload is the kafka.MessageHandler for the download-events topic.
// It forwards each event to the stats collector via the provided sink.
func HandleDownload(sink func(DownloadEvent)) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[DownloadEvent](value)
		if err != nil {
			slog.Default().Error("dropping undecodable download event", "key", string(key), "error", err)
			return nil
		}
		if event.PackageID == "" || event.Count <= 0 {
			return nil
		}
		sink(event)
		return nil
	}
}
