// Package blob implements a content-addressed store for build logs and
// package tarballs. Blobs are named by the hex SHA-256 of their content and
// written atomically (temp file + rename), so a digest on disk always names
// complete, verified content.
package blob

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
)

// Store writes and reads content-addressed blobs under a base directory.
// Blobs are sharded into subdirectories by the first two digest characters
// to keep directory sizes bounded.
type Store struct {
	dataDir string
	logger  *slog.Logger
}

// NewStore creates the base directory if needed.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{
		dataDir: dataDir,
		logger:  slog.Default().With("component", "blob-store"),
	}, nil
}

// Put stores content and returns its digest. Writing an already stored blob
// is a cheap no-op.
func (s *Store) Put(content []byte) (string, error) {
	digest := fmt.Sprintf("%x", sha256.Sum256(content))
	finalPath := s.path(digest)
	if _, err := os.Stat(finalPath); err == nil {
		return digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("creating blob shard directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), "blob-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp blob file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing blob %s: %w", digest, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing blob %s: %w", digest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing blob %s: %w", digest, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming blob %s: %w", digest, err)
	}
	s.logger.Debug("blob stored", "digest", digest, "size", len(content))
	return digest, nil
}

// Get returns the content stored under digest.
func (s *Store) Get(digest string) ([]byte, error) {
	content, err := os.ReadFile(s.path(digest))
	if os.IsNotExist(err) {
		return nil, apperrors.Newf(apperrors.ErrBlobNotFound, 404, "blob %s", digest)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", digest, err)
	}
	actual := fmt.Sprintf("%x", sha256.Sum256(content))
	if actual != digest {
		return nil, fmt.Errorf("%w: blob %s has digest %s", apperrors.ErrCorruptSnapshot, digest, actual)
	}
	return content, nil
}

// Exists reports whether a blob is stored under digest.
func (s *Store) Exists(digest string) bool {
	_, err := os.Stat(s.path(digest))
	return err == nil
}

func (s *Store) path(digest string) string {
	if len(digest) < 2 {
		return filepath.Join(s.dataDir, digest)
	}
	return filepath.Join(s.dataDir, digest[:2], digest)
}
