package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/registrylabs/pkgserve/internal/ingest"
	"github.com/registrylabs/pkgserve/internal/registry"
	"github.com/registrylabs/pkgserve/internal/search/engine"
	"github.com/registrylabs/pkgserve/internal/search/index"
	"github.com/registrylabs/pkgserve/internal/server/cache"
	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
	"github.com/registrylabs/pkgserve/pkg/kafka"
	"github.com/registrylabs/pkgserve/pkg/logger"
)

type searchResponse struct {
	Query   string          `json:"query"`
	Total   int             `json:"total"`
	Cached  bool            `json:"cached"`
	TookMS  float64         `json:"took_ms"`
	Results []engine.Result `json:"results"`
}

// handleSearch answers GET /v1/search?q=...&limit=...; per-field weight
// overrides arrive as boost_<field> query parameters.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, 400, "query parameter q is required"))
		return
	}

	limit := s.cfg.Search.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid limit %q", raw))
			return
		}
		if n > s.cfg.Search.MaxResults {
			n = s.cfg.Search.MaxResults
		}
		limit = n
	}

	overrides, named, err := parseBoosts(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	key := cache.Key(query, limit, named)
	results, hit, err := s.qcache.Execute(r.Context(), key, func() ([]engine.Result, error) {
		return s.search.SearchWeighted(query, limit, overrides), nil
	})
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		s.writeError(w, r, err)
		return
	}
	took := time.Since(start)

	cacheStatus := "miss"
	if hit {
		cacheStatus = "hit"
	}
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(took.Seconds())
	s.metrics.SearchResultsCount.Observe(float64(len(results)))
	if len(results) == 0 {
		s.metrics.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
	} else {
		s.metrics.SearchQueriesTotal.WithLabelValues("hit").Inc()
	}

	s.writeJSON(w, http.StatusOK, searchResponse{
		Query:   query,
		Total:   len(results),
		Cached:  hit,
		TookMS:  float64(took.Microseconds()) / 1000,
		Results: results,
	})
}

// parseBoosts extracts boost_<field> query parameters. It returns both the
// field-indexed form for the engine and the named form for the cache key.
func parseBoosts(r *http.Request) (map[index.Field]float64, map[string]float64, error) {
	var overrides map[index.Field]float64
	var named map[string]float64
	for key, values := range r.URL.Query() {
		if len(key) <= len("boost_") || key[:len("boost_")] != "boost_" || len(values) == 0 {
			continue
		}
		name := key[len("boost_"):]
		field, ok := index.FieldByName(name)
		if !ok {
			return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "unknown boost field %q", name)
		}
		weight, err := strconv.ParseFloat(values[0], 64)
		if err != nil || weight <= 0 {
			return nil, nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid boost value %q for field %q", values[0], name)
		}
		if overrides == nil {
			overrides = make(map[index.Field]float64)
			named = make(map[string]float64)
		}
		overrides[field] = weight
		named[name] = weight
	}
	return overrides, named, nil
}

// handlePublish answers POST /v1/packages.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var pkg registry.Package
	if err := json.NewDecoder(r.Body).Decode(&pkg); err != nil {
		s.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, 400, "malformed package body"))
		return
	}
	stored, err := s.publisher.Publish(r.Context(), &pkg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, stored)
}

// handleListPackages answers GET /v1/packages?limit=&offset=.
func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 500)
	offset := parseIntParam(r, "offset", 0, 1<<30)
	packages, err := s.store.ListPackages(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"packages": packages,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleGetPackage answers GET /v1/packages/{id}.
func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.store.GetPackage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pkg)
}

// handleYank answers DELETE /v1/packages/{id}. The record stays in the
// registry; only its visibility in search ends.
func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	if err := s.publisher.Yank(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownload answers POST /v1/packages/{id}/downloads. The event goes
// to Kafka; the stats collector batches it into PostgreSQL later.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Count int64 `json:"count"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, 400, "malformed download body"))
			return
		}
	}
	if body.Count <= 0 {
		body.Count = 1
	}
	event := ingest.DownloadEvent{
		PackageID: id,
		Count:     body.Count,
		Timestamp: time.Now().UTC(),
	}
	if err := s.downloads.Publish(r.Context(), kafka.Event{Key: id, Value: event}); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type createBuildRequest struct {
	Version string `json:"version"`
	Status  string `json:"status"`
	Log     string `json:"log"`
}

// handleCreateBuild answers POST /v1/packages/{id}/builds. The build log is
// stored content-addressed; the report only carries its digest.
func (s *Server) handleCreateBuild(w http.ResponseWriter, r *http.Request) {
	pkgID := r.PathValue("id")
	var req createBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, 400, "malformed build report body"))
		return
	}
	switch req.Status {
	case registry.BuildPending, registry.BuildSucceeded, registry.BuildFailed:
	default:
		s.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid build status %q", req.Status))
		return
	}
	if _, err := s.store.GetPackage(r.Context(), pkgID); err != nil {
		s.writeError(w, r, err)
		return
	}

	var digest string
	if req.Log != "" {
		var err error
		digest, err = s.blobs.Put([]byte(req.Log))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	report, err := s.store.CreateBuildReport(r.Context(), &registry.BuildReport{
		PackageID: pkgID,
		Version:   req.Version,
		Status:    req.Status,
		LogDigest: digest,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, report)
}

// handleListBuilds answers GET /v1/packages/{id}/builds.
func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20, 200)
	reports, err := s.store.ListBuildReports(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// handleGetBuild answers GET /v1/builds/{id}.
func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetBuildReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleGetBuildLog answers GET /v1/builds/{id}/log with the raw log text.
func (s *Server) handleGetBuildLog(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetBuildReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if report.LogDigest == "" {
		s.writeError(w, r, apperrors.Newf(apperrors.ErrBlobNotFound, 404, "build %s has no log", report.ID))
		return
	}
	content, err := s.blobs.Get(report.LogDigest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// handleSaveSnapshot answers POST /v1/admin/snapshot.
func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	name, size, err := s.snapshots.Save(s.search)
	if err != nil {
		s.metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		s.writeError(w, r, err)
		return
	}
	s.metrics.SnapshotSavesTotal.WithLabelValues("ok").Inc()
	s.metrics.SnapshotSizeBytes.Set(float64(size))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": name,
		"bytes":    size,
	})
}

// handleInvalidateCache answers POST /v1/admin/cache/invalidate.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.qcache.Invalidate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"invalidated": deleted})
}

// handleStatus answers GET /v1/admin/status with index and cache state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"indexed_documents": s.search.NumDocs(),
		"cache_breaker":     s.qcache.BreakerState(),
	})
}

func parseIntParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= 500 {
		s.logger.Error("request failed",
			"request_id", logger.RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
