// Package snapshot persists the serialized search index to disk and loads
// it back at startup. Writes are atomic (temp file + rename after fsync) so
// a crash mid-save leaves the previous snapshot intact. The index codec's
// own header and checksum make a torn or corrupted file fail loudly at
// load, never silently.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/registrylabs/pkgserve/pkg/config"
	"github.com/registrylabs/pkgserve/pkg/resilience"
)

const snapshotSuffix = ".psix"

// Serializer is the part of the search service the store depends on.
type Serializer interface {
	Serialize() ([]byte, error)
	Restore(data []byte) error
}

// Store manages snapshot files in a data directory, keeping the most recent
// few and pruning the rest.
type Store struct {
	cfg    config.SnapshotConfig
	keep   int
	logger *slog.Logger
}

// NewStore creates the snapshot directory if needed.
func NewStore(cfg config.SnapshotConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &Store{
		cfg:    cfg,
		keep:   3,
		logger: slog.Default().With("component", "snapshot-store"),
	}, nil
}

// Save serializes the index and writes a new timestamped snapshot file
// atomically. Old snapshots beyond the retention count are pruned.
func (s *Store) Save(src Serializer) (string, int, error) {
	data, err := src.Serialize()
	if err != nil {
		return "", 0, fmt.Errorf("serializing index: %w", err)
	}

	name := fmt.Sprintf("index_%d%s", time.Now().UnixNano(), snapshotSuffix)
	finalPath := filepath.Join(s.cfg.DataDir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("creating temp snapshot file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("renaming snapshot: %w", err)
	}

	s.prune()
	s.logger.Info("snapshot saved", "file", name, "bytes", len(data))
	return name, len(data), nil
}

// LoadLatest restores the most recent snapshot into dst. A missing
// directory or an empty one is not an error: the server starts with an
// empty index. A corrupt snapshot is surfaced to the caller, who decides
// whether to rebuild from the registry or refuse to start.
func (s *Store) LoadLatest(dst Serializer) (bool, error) {
	names, err := s.list()
	if err != nil {
		return false, err
	}
	if len(names) == 0 {
		return false, nil
	}
	latest := names[len(names)-1]
	data, err := os.ReadFile(filepath.Join(s.cfg.DataDir, latest))
	if err != nil {
		return false, fmt.Errorf("reading snapshot %s: %w", latest, err)
	}
	if err := dst.Restore(data); err != nil {
		return false, fmt.Errorf("restoring snapshot %s: %w", latest, err)
	}
	s.logger.Info("snapshot loaded", "file", latest, "bytes", len(data))
	return true, nil
}

// StartSaveLoop periodically saves snapshots until ctx is cancelled, with a
// final save on shutdown. Transient save failures are retried with backoff.
func (s *Store) StartSaveLoop(ctx context.Context, src Serializer, onSave func(name string, size int, err error)) {
	if s.cfg.SaveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SaveInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("save loop stopping, writing final snapshot")
				name, size, err := s.Save(src)
				if onSave != nil {
					onSave(name, size, err)
				}
				return
			case <-ticker.C:
				var name string
				var size int
				err := resilience.Retry(ctx, "snapshot-save", resilience.RetryConfig{}, func() error {
					var saveErr error
					name, size, saveErr = s.Save(src)
					return saveErr
				})
				if err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
				if onSave != nil {
					onSave(name, size, err)
				}
			}
		}
	}()
}

// list returns snapshot file names sorted oldest first.
func (s *Store) list() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), snapshotSuffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// prune removes all but the newest keep snapshots.
func (s *Store) prune() {
	names, err := s.list()
	if err != nil || len(names) <= s.keep {
		return
	}
	for _, name := range names[:len(names)-s.keep] {
		if err := os.Remove(filepath.Join(s.cfg.DataDir, name)); err != nil {
			s.logger.Warn("failed to prune snapshot", "file", name, "error", err)
		}
	}
}
