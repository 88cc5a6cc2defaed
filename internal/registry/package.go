// Package registry holds the domain model of published packages and their
// build reports, persisted in PostgreSQL. The search subsystem consumes
// these records through the pkgsearch adapter; nothing in here knows about
// ranking.
package registry

import "time"

// Package is one published package's metadata record.
type Package struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Synopsis    string    `json:"synopsis"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Author      string    `json:"author"`
	Version     string    `json:"version"`
	Downloads   int64     `json:"downloads"`
	Maintained  bool      `json:"maintained"`
	Yanked      bool      `json:"yanked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BuildReport records one build attempt of a package version. The full log
// lives in the blob store under LogDigest.
type BuildReport struct {
	ID        string    `json:"id"`
	PackageID string    `json:"package_id"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	LogDigest string    `json:"log_digest,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Build report statuses.
const (
	BuildPending   = "PENDING"
	BuildSucceeded = "SUCCEEDED"
	BuildFailed    = "FAILED"
)
