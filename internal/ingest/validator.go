package ingest

import (
	"regexp"
	"strings"

	"github.com/registrylabs/pkgserve/internal/registry"
	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
)

const (
	maxIDLength          = 128
	maxNameLength        = 128
	maxSynopsisLength    = 256
	maxDescriptionLength = 16 * 1024
	maxTags              = 16
	maxTagLength         = 48
)

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+([.-][0-9A-Za-z.-]+)?$`)
)

// ValidatePackage checks a publish request before anything is persisted.
// All failures map to ErrInvalidInput so the handler answers 400.
func ValidatePackage(pkg *registry.Package) error {
	if pkg == nil {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "package body is required")
	}
	if pkg.ID == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "package id is required")
	}
	if len(pkg.ID) > maxIDLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "package id exceeds %d characters", maxIDLength)
	}
	if !idPattern.MatchString(pkg.ID) {
		return apperrors.New(apperrors.ErrInvalidInput, 400,
			"package id must be lowercase alphanumeric with ._- separators")
	}
	if strings.TrimSpace(pkg.Name) == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "package name is required")
	}
	if len(pkg.Name) > maxNameLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "package name exceeds %d characters", maxNameLength)
	}
	if pkg.Version == "" || !versionPattern.MatchString(pkg.Version) {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid version %q", pkg.Version)
	}
	if len(pkg.Synopsis) > maxSynopsisLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "synopsis exceeds %d characters", maxSynopsisLength)
	}
	if len(pkg.Description) > maxDescriptionLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "description exceeds %d bytes", maxDescriptionLength)
	}
	if len(pkg.Tags) > maxTags {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "at most %d tags allowed", maxTags)
	}
	for _, tag := range pkg.Tags {
		if tag == "" || len(tag) > maxTagLength {
			return apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid tag %q", tag)
		}
	}
	return nil
}
