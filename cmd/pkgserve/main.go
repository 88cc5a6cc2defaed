// Command pkgserve runs the package registry and search server: HTTP API,
// Kafka ingest consumers, download-stats collector, and the periodic index
// snapshot loop, all in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/registrylabs/pkgserve/internal/ingest"
	"github.com/registrylabs/pkgserve/internal/pkgsearch"
	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/internal/registry/blob"
	"github.com/registrylabs/pkgserve/internal/server"
	"github.com/registrylabs/pkgserve/internal/server/cache"
	"github.com/registrylabs/pkgserve/internal/snapshot"
	"github.com/registrylabs/pkgserve/internal/stats"
	"github.com/registrylabs/pkgserve/pkg/config"
	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
	"github.com/registrylabs/pkgserve/pkg/health"
	"github.com/registrylabs/pkgserve/pkg/kafka"
	"github.com/registrylabs/pkgserve/pkg/logger"
	"github.com/registrylabs/pkgserve/pkg/metrics"
	"github.com/registrylabs/pkgserve/pkg/postgres"
	"github.com/registrylabs/pkgserve/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pkgserve: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := slog.Default().With("component", "main")
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	store := registry.NewStore(db)

	blobs, err := blob.NewStore(cfg.Blob.DataDir)
	if err != nil {
		return err
	}

	search, err := pkgsearch.New(cfg.Search)
	if err != nil {
		return fmt.Errorf("building search service: %w", err)
	}

	snapshots, err := snapshot.NewStore(cfg.Snapshot)
	if err != nil {
		return err
	}
	if err := bootstrapIndex(ctx, log, snapshots, search, store); err != nil {
		return err
	}
	m.IndexedDocuments.Set(float64(search.NumDocs()))

	// Redis is optional: without it every query runs against the index
	// directly, which is always available.
	var rdb *redis.Client
	if rdb, err = redis.NewClient(cfg.Redis); err != nil {
		log.Warn("redis unavailable, query caching disabled", "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}
	qcache := cache.New(rdb, cfg.Redis.CacheTTL, m)

	packageProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PackageEvents)
	defer packageProducer.Close()
	downloadProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DownloadEvents)
	defer downloadProducer.Close()
	publisher := ingest.NewPublisher(store, packageProducer)

	applier := ingest.NewApplier(search, qcache, m)
	packageConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PackageEvents, applier.Handle)
	go func() {
		if err := packageConsumer.Start(ctx); err != nil {
			log.Error("package consumer exited", "error", err)
		}
	}()

	collector := stats.NewCollector(cfg.Stats, store, search, m)
	collector.Start(ctx)
	downloadConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DownloadEvents, ingest.HandleDownload(collector.Record))
	go func() {
		if err := downloadConsumer.Start(ctx); err != nil {
			log.Error("download consumer exited", "error", err)
		}
	}()

	snapshots.StartSaveLoop(ctx, search, func(name string, size int, err error) {
		if err != nil {
			m.SnapshotSavesTotal.WithLabelValues("error").Inc()
			return
		}
		m.SnapshotSavesTotal.WithLabelValues("ok").Inc()
		m.SnapshotSizeBytes.Set(float64(size))
	})

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := db.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if rdb == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "caching disabled"}
		}
		if err := rdb.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents", search.NumDocs()),
		}
	})

	srv := server.New(cfg, server.Deps{
		Search:    search,
		Store:     store,
		Blobs:     blobs,
		Publisher: publisher,
		Downloads: downloadProducer,
		Cache:     qcache,
		Snapshots: snapshots,
		Checker:   checker,
		Metrics:   m,
	})

	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if metricsShutdown != nil {
		if err := metricsShutdown(shutdownCtx); err != nil {
			log.Error("metrics shutdown failed", "error", err)
		}
	}
	// Consumers and the snapshot loop react to ctx cancellation; the loop
	// writes a final snapshot on its way out.
	time.Sleep(200 * time.Millisecond)
	log.Info("pkgserve stopped")
	return nil
}

// bootstrapIndex loads the newest on-disk snapshot, falling back to a full
// rebuild from PostgreSQL when no snapshot exists or the latest one is
// corrupt. A corrupt snapshot is logged loudly but never kills startup,
// because the registry can always reproduce the index.
func bootstrapIndex(ctx context.Context, log *slog.Logger, snapshots *snapshot.Store, search *pkgsearch.Service, store *registry.Store) error {
	loaded, err := snapshots.LoadLatest(search)
	if err != nil {
		if !errors.Is(err, apperrors.ErrCorruptSnapshot) {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		log.Error("latest snapshot is corrupt, rebuilding from registry", "error", err)
	}
	if loaded {
		return nil
	}

	start := time.Now()
	count := 0
	err = store.AllPackages(ctx, func(pkg *registry.Package) error {
		search.IndexPackage(pkg)
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuilding index from registry: %w", err)
	}
	log.Info("index rebuilt from registry", "packages", count, "duration", time.Since(start))
	return nil
}
