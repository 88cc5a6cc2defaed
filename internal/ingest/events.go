// Package ingest moves package lifecycle changes from the HTTP API into
// the registry and the search index. Publishes are persisted to PostgreSQL
// first, then announced on Kafka; a consumer applies them to the index
// through its single-writer path, so index mutations are serialized no
// matter how many API replicas accept writes.
package ingest

import (
	"time"

	"github.com/registrylabs/pkgserve/internal/registry"
)

// Event types carried on the package-events topic.
const (
	EventPublished = "package.published"
	EventYanked    = "package.yanked"
)

// PackageEvent announces a package publish or yank. For publishes the full
// stored record rides along so the consumer never has to read the database.
type PackageEvent struct {
	Type      string            `json:"type"`
	PackageID string            `json:"package_id"`
	Package   *registry.Package `json:"package,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// DownloadEvent reports downloads of one package, batched by the stats
// collector before they reach PostgreSQL.
type DownloadEvent struct {
	PackageID string    `json:"package_id"`
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}
