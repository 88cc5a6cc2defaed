// Package server exposes the registry and search functionality over HTTP:
// query endpoints backed by the index snapshot and Redis cache, package
// publish and yank endpoints feeding the ingest pipeline, build report and
// blob endpoints, and admin endpoints for snapshots and cache control.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/registrylabs/pkgserve/internal/ingest"
	"github.com/registrylabs/pkgserve/internal/pkgsearch"
	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/internal/registry/blob"
	"github.com/registrylabs/pkgserve/internal/server/cache"
	"github.com/registrylabs/pkgserve/internal/snapshot"
	"github.com/registrylabs/pkgserve/pkg/config"
	"github.com/registrylabs/pkgserve/pkg/health"
	"github.com/registrylabs/pkgserve/pkg/kafka"
	"github.com/registrylabs/pkgserve/pkg/metrics"
	"github.com/registrylabs/pkgserve/pkg/middleware"
	"github.com/registrylabs/pkgserve/pkg/ratelimit"
)

// Server wires the HTTP API to the search service, registry store, ingest
// publisher, blob store, and snapshot store.
type Server struct {
	cfg       *config.Config
	search    *pkgsearch.Service
	store     *registry.Store
	blobs     *blob.Store
	publisher *ingest.Publisher
	downloads *kafka.Producer
	qcache    *cache.QueryCache
	snapshots *snapshot.Store
	checker   *health.Checker
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	logger    *slog.Logger

	httpServer *http.Server
}

// Deps bundles the constructed dependencies handed to New.
type Deps struct {
	Search    *pkgsearch.Service
	Store     *registry.Store
	Blobs     *blob.Store
	Publisher *ingest.Publisher
	Downloads *kafka.Producer
	Cache     *cache.QueryCache
	Snapshots *snapshot.Store
	Checker   *health.Checker
	Metrics   *metrics.Metrics
}

// New creates a Server with its routes and middleware chain assembled.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		search:    deps.Search,
		store:     deps.Store,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		downloads: deps.Downloads,
		qcache:    deps.Cache,
		snapshots: deps.Snapshots,
		checker:   deps.Checker,
		metrics:   deps.Metrics,
		limiter:   ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateLimitWindow),
		logger:    slog.Default().With("component", "http-server"),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// routes builds the ServeMux and wraps it in the middleware chain. Probes
// and metrics bypass the request timeout.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/search", s.handleSearch)

	mux.HandleFunc("POST /v1/packages", s.handlePublish)
	mux.HandleFunc("GET /v1/packages", s.handleListPackages)
	mux.HandleFunc("GET /v1/packages/{id}", s.handleGetPackage)
	mux.HandleFunc("DELETE /v1/packages/{id}", s.handleYank)
	mux.HandleFunc("POST /v1/packages/{id}/downloads", s.handleDownload)

	mux.HandleFunc("POST /v1/packages/{id}/builds", s.handleCreateBuild)
	mux.HandleFunc("GET /v1/packages/{id}/builds", s.handleListBuilds)
	mux.HandleFunc("GET /v1/builds/{id}", s.handleGetBuild)
	mux.HandleFunc("GET /v1/builds/{id}/log", s.handleGetBuildLog)

	mux.HandleFunc("POST /v1/admin/snapshot", s.handleSaveSnapshot)
	mux.HandleFunc("POST /v1/admin/cache/invalidate", s.handleInvalidateCache)
	mux.HandleFunc("GET /v1/admin/status", s.handleStatus)

	var api http.Handler = mux
	api = middleware.Timeout(s.cfg.Server.RequestTimeout)(api)
	api = middleware.RateLimit(s.limiter)(api)
	api = middleware.Metrics(s.metrics)(api)
	api = middleware.CORS(middleware.DefaultCORSConfig())(api)
	api = middleware.RequestID(api)

	root := http.NewServeMux()
	root.Handle("/v1/", api)
	root.HandleFunc("GET /healthz", s.checker.LiveHandler())
	root.HandleFunc("GET /readyz", s.checker.ReadyHandler())
	return root
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()
	start := time.Now()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.limiter.Stop()
	s.logger.Info("http server stopped", "drain_time", time.Since(start))
	return err
}
