package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/pkg/kafka"
	"github.com/registrylabs/pkgserve/pkg/resilience"
)

// Publisher persists package changes and announces them on Kafka. The
// database write happens first: the registry is the source of truth, and a
// lost event can always be repaired by a reindex run.
type Publisher struct {
	store    *registry.Store
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewPublisher creates a Publisher writing to the package-events topic.
func NewPublisher(store *registry.Store, producer *kafka.Producer) *Publisher {
	return &Publisher{
		store:    store,
		producer: producer,
		logger:   slog.Default().With("component", "ingest-publisher"),
	}
}

// Publish validates, stores, and announces a package. Returns the stored
// record with database-assigned timestamps.
func (p *Publisher) Publish(ctx context.Context, pkg *registry.Package) (*registry.Package, error) {
	if err := ValidatePackage(pkg); err != nil {
		return nil, err
	}
	stored, err := p.store.UpsertPackage(ctx, pkg)
	if err != nil {
		return nil, err
	}
	event := PackageEvent{
		Type:      EventPublished,
		PackageID: stored.ID,
		Package:   stored,
		Timestamp: time.Now().UTC(),
	}
	if err := p.emit(ctx, event); err != nil {
		return nil, err
	}
	p.logger.Info("package published", "package_id", stored.ID, "version", stored.Version)
	return stored, nil
}

// Yank marks a package yanked in the registry and announces its removal
// from the index. The record itself stays in PostgreSQL.
func (p *Publisher) Yank(ctx context.Context, pkgID string) error {
	pkg, err := p.store.GetPackage(ctx, pkgID)
	if err != nil {
		return err
	}
	pkg.Yanked = true
	if _, err := p.store.UpsertPackage(ctx, pkg); err != nil {
		return err
	}
	event := PackageEvent{
		Type:      EventYanked,
		PackageID: pkgID,
		Timestamp: time.Now().UTC(),
	}
	if err := p.emit(ctx, event); err != nil {
		return err
	}
	p.logger.Info("package yanked", "package_id", pkgID)
	return nil
}

// emit publishes with retry. Events for the same package share a key, so
// publishes and yanks of one package stay ordered within a partition.
func (p *Publisher) emit(ctx context.Context, event PackageEvent) error {
	err := resilience.Retry(ctx, "publish-package-event", resilience.RetryConfig{}, func() error {
		return p.producer.Publish(ctx, kafka.Event{Key: event.PackageID, Value: event})
	})
	if err != nil {
		return fmt.Errorf("announcing %s for %s: %w", event.Type, event.PackageID, err)
	}
	return nil
}
