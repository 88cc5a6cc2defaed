package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
	"github.com/registrylabs/pkgserve/pkg/postgres"
)

// Store persists packages and build reports in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a Store backed by the given database client.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "registry-store"),
	}
}

// UpsertPackage inserts the package or, when the id already exists, replaces
// its metadata. Returns the stored record with timestamps populated.
func (s *Store) UpsertPackage(ctx context.Context, pkg *Package) (*Package, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO packages (id, name, synopsis, description, tags, author, version, maintained, yanked)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   synopsis = EXCLUDED.synopsis,
		   description = EXCLUDED.description,
		   tags = EXCLUDED.tags,
		   author = EXCLUDED.author,
		   version = EXCLUDED.version,
		   maintained = EXCLUDED.maintained,
		   yanked = EXCLUDED.yanked,
		   updated_at = NOW()
		 RETURNING downloads, created_at, updated_at`,
		pkg.ID, pkg.Name, pkg.Synopsis, pkg.Description, pq.Array(pkg.Tags),
		pkg.Author, pkg.Version, pkg.Maintained, pkg.Yanked,
	)
	stored := *pkg
	if err := row.Scan(&stored.Downloads, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upserting package %s: %w", pkg.ID, err)
	}
	return &stored, nil
}

// GetPackage loads one package by id.
func (s *Store) GetPackage(ctx context.Context, id string) (*Package, error) {
	var pkg Package
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, name, synopsis, description, tags, author, version,
		        downloads, maintained, yanked, created_at, updated_at
		 FROM packages WHERE id = $1`, id,
	).Scan(&pkg.ID, &pkg.Name, &pkg.Synopsis, &pkg.Description,
		pq.Array(&pkg.Tags), &pkg.Author, &pkg.Version,
		&pkg.Downloads, &pkg.Maintained, &pkg.Yanked, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrPackageNotFound, 404, "package %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading package %s: %w", id, err)
	}
	return &pkg, nil
}

// DeletePackage removes a package record. Returns false if it did not exist.
func (s *Store) DeletePackage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM packages WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting package %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListPackages returns packages ordered by name, paginated.
func (s *Store) ListPackages(ctx context.Context, limit, offset int) ([]Package, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, name, synopsis, description, tags, author, version,
		        downloads, maintained, yanked, created_at, updated_at
		 FROM packages ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	defer rows.Close()

	packages := make([]Package, 0, limit)
	for rows.Next() {
		var pkg Package
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Synopsis, &pkg.Description,
			pq.Array(&pkg.Tags), &pkg.Author, &pkg.Version,
			&pkg.Downloads, &pkg.Maintained, &pkg.Yanked, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning package row: %w", err)
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

// AddDownloads increments a package's download counter by delta and returns
// the new total.
func (s *Store) AddDownloads(ctx context.Context, id string, delta int64) (int64, error) {
	var total int64
	err := s.db.DB.QueryRowContext(ctx,
		`UPDATE packages SET downloads = downloads + $2 WHERE id = $1 RETURNING downloads`,
		id, delta,
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, apperrors.Newf(apperrors.ErrPackageNotFound, 404, "package %s", id)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing downloads for %s: %w", id, err)
	}
	return total, nil
}

// CreateBuildReport stores a new build report and returns its generated id.
func (s *Store) CreateBuildReport(ctx context.Context, report *BuildReport) (*BuildReport, error) {
	stored := *report
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO build_reports (package_id, version, status, log_digest)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		report.PackageID, report.Version, report.Status, report.LogDigest,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating build report for %s: %w", report.PackageID, err)
	}
	return &stored, nil
}

// GetBuildReport loads one build report by id.
func (s *Store) GetBuildReport(ctx context.Context, id string) (*BuildReport, error) {
	var r BuildReport
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, package_id, version, status, log_digest, created_at
		 FROM build_reports WHERE id = $1`, id,
	).Scan(&r.ID, &r.PackageID, &r.Version, &r.Status, &r.LogDigest, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrReportNotFound, 404, "build report %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading build report %s: %w", id, err)
	}
	return &r, nil
}

// ListBuildReports returns the build reports of one package, newest first.
func (s *Store) ListBuildReports(ctx context.Context, packageID string, limit int) ([]BuildReport, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, package_id, version, status, log_digest, created_at
		 FROM build_reports WHERE package_id = $1
		 ORDER BY created_at DESC LIMIT $2`, packageID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing build reports for %s: %w", packageID, err)
	}
	defer rows.Close()

	reports := make([]BuildReport, 0, limit)
	for rows.Next() {
		var r BuildReport
		if err := rows.Scan(&r.ID, &r.PackageID, &r.Version, &r.Status, &r.LogDigest, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning build report row: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// AllPackages streams every non-yanked package through fn, used by the
// reindex tool and snapshot rebuilds.
func (s *Store) AllPackages(ctx context.Context, fn func(*Package) error) error {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, name, synopsis, description, tags, author, version,
		        downloads, maintained, yanked, created_at, updated_at
		 FROM packages WHERE NOT yanked ORDER BY id`)
	if err != nil {
		return fmt.Errorf("scanning packages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkg Package
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Synopsis, &pkg.Description,
			pq.Array(&pkg.Tags), &pkg.Author, &pkg.Version,
			&pkg.Downloads, &pkg.Maintained, &pkg.Yanked, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return fmt.Errorf("scanning package row: %w", err)
		}
		if err := fn(&pkg); err != nil {
			return err
		}
	}
	return rows.Err()
}
