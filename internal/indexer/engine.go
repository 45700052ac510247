// Package indexer is the write and snapshot facade over all indexes. It
// resolves index names to stores, applies changes through a store writer
// and maps storage failures onto the service's error taxonomy.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/tenant"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// DocStatus reports the outcome of one document in a batch.
type DocStatus struct {
	Key string `json:"key"`
	Err error  `json:"-"`
}

// Error returns the failure message, or "" on success.
func (s DocStatus) Error() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

type Engine struct {
	router  *tenant.Router
	cfg     config.IndexerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an engine over cfg.DataDir. m may be nil.
func NewEngine(cfg config.IndexerConfig, m *metrics.Metrics) (*Engine, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	router, err := tenant.NewRouter(cfg, m)
	if err != nil {
		return nil, fmt.Errorf("creating tenant router: %w", err)
	}
	return &Engine{
		router:  router,
		cfg:     cfg,
		logger:  slog.Default().With("component", "indexer"),
		metrics: m,
	}, nil
}

func validateName(indexName string) error {
	if indexName == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "indexName is required")
	}
	return nil
}

// Upsert writes doc into indexName, creating the index on first use and
// replacing any document with the same key.
func (e *Engine) Upsert(ctx context.Context, indexName string, doc index.Document) error {
	statuses, err := e.UpsertBatch(ctx, indexName, []index.Document{doc})
	if err != nil {
		return err
	}
	return statuses[0].Err
}

// UpsertBatch writes docs in one commit. Invalid documents are reported in
// their status and skipped; a storage failure fails the whole batch and
// leaves the index unchanged.
func (e *Engine) UpsertBatch(ctx context.Context, indexName string, docs []index.Document) ([]DocStatus, error) {
	if err := validateName(indexName); err != nil {
		return nil, err
	}
	statuses := make([]DocStatus, len(docs))
	written := 0
	err := e.update(ctx, indexName, true, func(w *store.Writer) error {
		for i, doc := range docs {
			statuses[i].Key = doc.Key
			if err := w.Upsert(doc); err != nil {
				statuses[i].Err = apperrors.Wrap(apperrors.ErrInvalidInput, err)
				e.logger.Warn("document rejected",
					"index", indexName,
					"key", doc.Key,
					"error", err,
				)
				continue
			}
			written++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.DocsIndexedTotal.Add(float64(written))
	e.logger.Debug("documents upserted", "index", indexName, "count", written, "rejected", len(docs)-written)
	return statuses, nil
}

// Delete removes the document stored under key. Missing keys and missing
// indexes are not errors.
func (e *Engine) Delete(ctx context.Context, indexName, key string) error {
	if err := validateName(indexName); err != nil {
		return err
	}
	err := e.update(ctx, indexName, false, func(w *store.Writer) error {
		return w.Delete(key)
	})
	if errors.Is(err, apperrors.ErrIndexNotFound) {
		return nil
	}
	if err == nil {
		e.metrics.DocsDeletedTotal.Inc()
	}
	return err
}

// DeleteAll removes every document of indexName. The index keeps existing.
func (e *Engine) DeleteAll(ctx context.Context, indexName string) error {
	if err := validateName(indexName); err != nil {
		return err
	}
	err := e.update(ctx, indexName, false, func(w *store.Writer) error {
		return w.DeleteAll()
	})
	if errors.Is(err, apperrors.ErrIndexNotFound) {
		return nil
	}
	if err == nil {
		e.logger.Info("index cleared", "index", indexName)
	}
	return err
}

// OpenSnapshot returns a read view of indexName. An index that was never
// written yields an empty snapshot. The caller must close it.
func (e *Engine) OpenSnapshot(ctx context.Context, indexName string) (*store.Snapshot, error) {
	if err := validateName(indexName); err != nil {
		return nil, err
	}
	h, err := e.acquire(ctx, indexName, false)
	if errors.Is(err, apperrors.ErrIndexNotFound) {
		return store.EmptySnapshot(), nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Release()
	snap, err := h.Store.Snapshot()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
	}
	return snap, nil
}

// Stats describes the current version of indexName.
func (e *Engine) Stats(ctx context.Context, indexName string) (store.Stats, error) {
	if err := validateName(indexName); err != nil {
		return store.Stats{}, err
	}
	h, err := e.acquire(ctx, indexName, false)
	if err != nil {
		return store.Stats{}, err
	}
	defer h.Release()
	stats, err := h.Store.Stats()
	if err != nil {
		return store.Stats{}, apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
	}
	return stats, nil
}

// Compact merges all segments of indexName into one.
func (e *Engine) Compact(ctx context.Context, indexName string) error {
	if err := validateName(indexName); err != nil {
		return err
	}
	h, err := e.acquire(ctx, indexName, false)
	if err != nil {
		return err
	}
	defer h.Release()
	if err := h.Store.Merge(ctx); err != nil {
		e.metrics.IndexMergesTotal.WithLabelValues("error").Inc()
		return classify(err)
	}
	e.metrics.IndexMergesTotal.WithLabelValues("ok").Inc()
	return nil
}

// StartMergeLoop periodically merges open indexes that have more than one
// segment or carry deletions, until ctx is cancelled.
func (e *Engine) StartMergeLoop(ctx context.Context) {
	if e.cfg.MergeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.MergeInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("merge loop stopping")
				return
			case <-ticker.C:
				e.mergeOpen(ctx)
			}
		}
	}()
}

func (e *Engine) mergeOpen(ctx context.Context) {
	for _, name := range e.router.OpenNames() {
		h, err := e.router.Acquire(ctx, name, false)
		if err != nil {
			continue
		}
		stats, err := h.Store.Stats()
		if err == nil && (stats.Segments > 1 || stats.DeletedDocs > 0) {
			if err := h.Store.Merge(ctx); err != nil {
				e.metrics.IndexMergesTotal.WithLabelValues("error").Inc()
				e.logger.Error("periodic merge failed", "index", name, "error", err)
			} else {
				e.metrics.IndexMergesTotal.WithLabelValues("ok").Inc()
			}
		}
		h.Release()
	}
}

// Close closes every open index.
func (e *Engine) Close() error {
	return e.router.Close()
}

// Ping checks that the data directory is writable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := os.MkdirAll(e.cfg.DataDir, 0755); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
	}
	f, err := os.CreateTemp(e.cfg.DataDir, ".ping-*")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func (e *Engine) acquire(ctx context.Context, indexName string, create bool) (*tenant.Handle, error) {
	h, err := e.router.Acquire(ctx, indexName, create)
	if err != nil {
		return nil, classify(err)
	}
	return h, nil
}

func (e *Engine) update(ctx context.Context, indexName string, create bool, fn func(w *store.Writer) error) error {
	h, err := e.acquire(ctx, indexName, create)
	if err != nil {
		return err
	}
	defer h.Release()

	err = h.Store.Update(ctx, fn)
	if err != nil {
		e.metrics.IndexCommitsTotal.WithLabelValues("error").Inc()
		e.logger.Error("index update failed", "index", indexName, "error", err)
		return classify(err)
	}
	e.metrics.IndexCommitsTotal.WithLabelValues("ok").Inc()
	return nil
}

// classify maps store and router errors onto the service taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.Wrap(apperrors.ErrIndexNotFound, err)
	case errors.Is(err, index.ErrEmptyKey):
		return apperrors.Wrap(apperrors.ErrInvalidInput, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.ErrTimeout, err)
	case errors.Is(err, store.ErrLocked), errors.Is(err, store.ErrClosed), errors.Is(err, tenant.ErrClosed):
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, err)
	default:
		return apperrors.Wrap(apperrors.ErrIndexIO, err)
	}
}
