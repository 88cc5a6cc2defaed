// Package pkgsearch adapts the package registry to the search core. It maps
// package records to document fields and static ranking features, owns the
// index's single-writer mutation path, and publishes immutable snapshots
// that queries read without ever blocking behind a writer for more than a
// pointer swap.
package pkgsearch

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/internal/search/engine"
	"github.com/registrylabs/pkgserve/internal/search/index"
	"github.com/registrylabs/pkgserve/pkg/config"
)

// recencyHalfLife controls how fast the recency feature decays: a package
// untouched for this long scores half the freshness of one updated today.
const recencyHalfLife = 180 * 24 * time.Hour

// Service is the search facade handed to the ingest pipeline (mutations)
// and the web layer (queries).
type Service struct {
	mu     sync.Mutex // serializes all mutation, including restore
	master *index.Index
	snap   atomic.Pointer[index.Snapshot]
	params engine.Params
	logger *slog.Logger
}

// New creates an empty search service from validated configuration.
func New(cfg config.SearchConfig) (*Service, error) {
	params, err := engine.ParamsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	s := &Service{
		master: index.New(),
		params: params,
		logger: slog.Default().With("component", "pkgsearch"),
	}
	s.snap.Store(s.master.Snapshot())
	return s, nil
}

// IndexPackage inserts or updates the package's document. The new snapshot
// becomes visible atomically: concurrent queries see either the whole old
// document or the whole new one.
func (s *Service) IndexPackage(pkg *registry.Package) {
	fields, features := MapPackage(pkg, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master.Insert(pkg.ID, fields, features)
	s.snap.Store(s.master.Snapshot())
	s.logger.Debug("package indexed", "package_id", pkg.ID, "docs", s.master.NumDocs())
}

// DeindexPackage removes the package's document. Removing an unknown
// package is a no-op; the return value reports whether it existed.
func (s *Service) DeindexPackage(pkgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := s.master.Remove(pkgID)
	if existed {
		s.snap.Store(s.master.Snapshot())
	}
	return existed
}

// RefreshFeatures recomputes the static features of one package (download
// count, recency, maintenance) without re-extracting its text.
func (s *Service) RefreshFeatures(pkg *registry.Package) bool {
	_, features := MapPackage(pkg, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := s.master.UpdateFeatures(pkg.ID, features)
	if updated {
		s.snap.Store(s.master.Snapshot())
	}
	return updated
}

// Search ranks packages for a free-text query against the current snapshot.
func (s *Service) Search(query string, limit int) []engine.Result {
	return engine.Search(s.snap.Load(), s.params, query, limit)
}

// SearchWeighted is Search with per-field weight overrides for this query.
func (s *Service) SearchWeighted(query string, limit int, overrides map[index.Field]float64) []engine.Result {
	return engine.SearchWeighted(s.snap.Load(), s.params, query, limit, overrides)
}

// NumDocs returns the number of packages currently indexed.
func (s *Service) NumDocs() int {
	return s.snap.Load().NumDocs()
}

// Serialize produces the durable byte form of the index. It holds the
// writer lock so the blob is a consistent point-in-time image.
func (s *Service) Serialize() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master.Encode()
}

// Restore replaces the whole index from a serialized blob. A corrupt blob
// fails with ErrCorruptSnapshot and leaves the current index untouched; the
// new state becomes visible only once the decode has fully succeeded.
func (s *Service) Restore(data []byte) error {
	restored, err := index.Decode(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master = restored
	s.snap.Store(s.master.Snapshot())
	s.logger.Info("index restored from snapshot", "docs", s.master.NumDocs())
	return nil
}

// MapPackage extracts the indexed field texts and static features from a
// package record. The feature values are pre-scaled to roughly [0,1] so the
// configured weights stay comparable: downloads are log-dampened, recency
// decays exponentially with the time since the last update, and maintenance
// is a flag.
func MapPackage(pkg *registry.Package, now time.Time) (index.FieldTexts, map[string]float64) {
	var fields index.FieldTexts
	fields[index.FieldName] = pkg.Name
	fields[index.FieldSynopsis] = pkg.Synopsis
	fields[index.FieldDescription] = pkg.Description
	fields[index.FieldTags] = strings.Join(pkg.Tags, " ")
	fields[index.FieldAuthor] = pkg.Author

	// log1p(downloads) / log1p(1e7): ten million downloads saturate at 1.
	downloads := math.Log1p(float64(pkg.Downloads)) / math.Log1p(1e7)
	if downloads > 1 {
		downloads = 1
	}

	age := now.Sub(pkg.UpdatedAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-float64(age) / float64(recencyHalfLife))

	maintained := 0.0
	if pkg.Maintained {
		maintained = 1.0
	}

	return fields, map[string]float64{
		"downloads":  downloads,
		"recency":    recency,
		"maintained": maintained,
	}
}
