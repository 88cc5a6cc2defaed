// Command reindex rebuilds the search index from every non-yanked package
// in PostgreSQL and writes a fresh snapshot. Run it after bulk registry
// edits or to replace a corrupt snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/registrylabs/pkgserve/internal/pkgsearch"
	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/internal/snapshot"
	"github.com/registrylabs/pkgserve/pkg/config"
	"github.com/registrylabs/pkgserve/pkg/logger"
	"github.com/registrylabs/pkgserve/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "reindex: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, "text")
	log := slog.Default().With("component", "reindex")

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	store := registry.NewStore(db)

	search, err := pkgsearch.New(cfg.Search)
	if err != nil {
		return fmt.Errorf("building search service: %w", err)
	}

	start := time.Now()
	count := 0
	err = store.AllPackages(context.Background(), func(pkg *registry.Package) error {
		search.IndexPackage(pkg)
		count++
		if count%10000 == 0 {
			log.Info("progress", "packages", count)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexing packages: %w", err)
	}
	log.Info("index built", "packages", count, "duration", time.Since(start))

	snapshots, err := snapshot.NewStore(cfg.Snapshot)
	if err != nil {
		return err
	}
	name, size, err := snapshots.Save(search)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	log.Info("snapshot written", "file", name, "bytes", size)
	return nil
}
