// Package handler exposes the index and search operations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

// Engine is the part of indexer.Engine the handlers use.
type Engine interface {
	Upsert(ctx context.Context, indexName string, doc index.Document) error
	Delete(ctx context.Context, indexName, key string) error
	DeleteAll(ctx context.Context, indexName string) error
	OpenSnapshot(ctx context.Context, indexName string) (*store.Snapshot, error)
}

type Handler struct {
	engine    Engine
	executor  *executor.Executor
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	cfg       config.SearchConfig
	logger    *slog.Logger
}

// New wires the handlers. queryCache and collector may be nil.
func New(engine Engine, cfg config.SearchConfig, queryCache *cache.QueryCache, collector *analytics.Collector, m *metrics.Metrics) *Handler {
	return &Handler{
		engine:    engine,
		executor:  executor.New(cfg),
		cache:     queryCache,
		collector: collector,
		metrics:   m,
		cfg:       cfg,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Index handles POST /api/v1/index?indexName=&path=. The request body is
// the document content; an empty body stores a document without content.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	indexName, path := r.URL.Query().Get("indexName"), r.URL.Query().Get("path")
	if path == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "path is required"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"content exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, apperrors.Wrap(apperrors.ErrInvalidInput, err))
		return
	}
	var content *string
	if len(body) > 0 {
		content = index.StringPtr(string(body))
	}

	err = h.engine.Upsert(logger.WithIndex(ctx, indexName), indexName, index.NewDocument(path, content))
	h.trackWrite(ctx, "upsert", indexName, path, start, err)
	if err != nil {
		logger.FromContext(ctx).Error("failed to index document", "index", indexName, "key", path, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "indexed", "indexName": indexName, "path": path})
}

// Delete handles DELETE /api/v1/index?indexName=&path=.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	indexName, path := r.URL.Query().Get("indexName"), r.URL.Query().Get("path")
	if path == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "path is required"))
		return
	}
	err := h.engine.Delete(ctx, indexName, path)
	h.trackWrite(ctx, "delete", indexName, path, start, err)
	if err != nil {
		logger.FromContext(ctx).Error("failed to delete document", "index", indexName, "key", path, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "indexName": indexName, "path": path})
}

// DeleteAll handles DELETE /api/v1/index/all?indexName=.
func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	indexName := r.URL.Query().Get("indexName")
	err := h.engine.DeleteAll(ctx, indexName)
	h.trackWrite(ctx, "deleteAll", indexName, "", start, err)
	if err != nil {
		logger.FromContext(ctx).Error("failed to clear index", "index", indexName, "error", err)
		h.writeError(w, err)
		return
	}
	if _, err := h.cache.InvalidateIndex(ctx, indexName); err != nil {
		logger.FromContext(ctx).Warn("cache invalidation after clear failed", "index", indexName, "error", err)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "indexName": indexName})
}

// Search handles GET /api/v1/search?indexName=&terms=&pageIndex=&pageSize=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.Start(r.Context(), "search")
	defer span.End()
	log := logger.FromContext(ctx)

	params := r.URL.Query()
	indexName, terms := params.Get("indexName"), params.Get("terms")
	pageIndex, err := intParam(params.Get("pageIndex"), 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pageSize, err := intParam(params.Get("pageSize"), h.cfg.DefaultPageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.cfg.MaxPageSize > 0 && pageSize > h.cfg.MaxPageSize {
		pageSize = h.cfg.MaxPageSize
	}
	span.SetAttr("index", indexName)

	q, err := parser.Parse(terms)
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("malformed").Inc()
		h.writeError(w, err)
		return
	}

	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}
	snap, err := h.engine.OpenSnapshot(ctx, indexName)
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		log.Error("failed to open snapshot", "index", indexName, "error", err)
		h.writeError(w, err)
		return
	}
	defer snap.Close()

	key := cache.Key(indexName, snap.IndexID(), snap.Generation(), q, pageIndex, pageSize)
	result, cacheHit, err := h.cache.GetOrCompute(ctx, key, func() (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, snap, q, pageIndex, pageSize)
	})
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		log.Error("search execution failed", "index", indexName, "query", q.String(), "error", err)
		h.writeError(w, err)
		return
	}

	elapsed := time.Since(start)
	cacheStatus, resultType := "miss", "hit"
	if cacheHit {
		cacheStatus = "hit"
	}
	if result.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(len(result.Results)))
	span.SetAttr("cache_hit", cacheHit)

	log.Info("search completed",
		"index", indexName,
		"query", q.String(),
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	h.collector.Track(analytics.Event{
		Type:      analytics.EventSearch,
		Index:     indexName,
		Query:     q.String(),
		TotalHits: result.TotalHits,
		Returned:  len(result.Results),
		PageIndex: pageIndex,
		CacheHit:  cacheHit,
		LatencyMs: float64(elapsed.Microseconds()) / 1000,
		RequestID: logger.RequestID(ctx),
	})

	h.writeJSON(w, http.StatusOK, result)
}

// IndexStats handles GET /api/v1/indexes/{indexName}/stats. An index that
// was never written reports zero counts.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	indexName := r.PathValue("indexName")
	snap, err := h.engine.OpenSnapshot(r.Context(), indexName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer snap.Close()
	h.writeJSON(w, http.StatusOK, struct {
		IndexName string `json:"indexName"`
		store.Stats
	}{indexName, snap.Stats()})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops cached pages, of one index when ?indexName= is
// given and of all indexes otherwise.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	var (
		deleted int64
		err     error
	)
	if name := r.URL.Query().Get("indexName"); name != "" {
		deleted, err = h.cache.InvalidateIndex(r.Context(), name)
	} else {
		deleted, err = h.cache.Invalidate(r.Context())
	}
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keysDeleted": deleted})
}

func (h *Handler) trackWrite(ctx context.Context, op, indexName, key string, start time.Time, err error) {
	h.collector.Track(analytics.Event{
		Type:      analytics.EventWrite,
		Index:     indexName,
		Op:        op,
		Key:       key,
		Failed:    err != nil,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		RequestID: logger.RequestID(ctx),
	})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%q is not an integer", raw)
	}
	return n, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError hides the detail of server-side failures from callers.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
