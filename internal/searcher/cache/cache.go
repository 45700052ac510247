// Package cache stores result pages in Redis. Keys carry the index
// generation, so a commit makes earlier pages unreachable without an
// explicit purge; they age out through the TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
)

const keyPrefix = "search:"

type QueryCache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over client. A nil *QueryCache is valid and computes
// every request.
func New(client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key identifies one result page of q against a committed generation of
// indexName. indexID separates an index from an earlier one stored under
// the same name, whose generations started from the same point.
func Key(indexName, indexID string, generation uint64, q *parser.Query, pageIndex, pageSize int) string {
	raw := fmt.Sprintf("%s|%d|%s|%d|%d", indexID, generation, q.String(), pageIndex, pageSize)
	sum := sha256.Sum256([]byte(raw))
	return indexPrefix(indexName) + hex.EncodeToString(sum[:16])
}

func indexPrefix(indexName string) string {
	sum := sha256.Sum256([]byte(indexName))
	return keyPrefix + hex.EncodeToString(sum[:8]) + ":"
}

func (c *QueryCache) get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	data, ok, err := c.client.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for key or runs compute once for all
// concurrent callers of the same key. Cache failures fall through to
// compute. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(ctx context.Context, key string, compute func() (*executor.SearchResult, error)) (*executor.SearchResult, bool, error) {
	if c == nil {
		result, err := compute()
		return result, false, err
	}
	if result, ok := c.get(ctx, key); ok {
		c.recordHit()
		return result, true, nil
	}
	c.recordMiss()
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// InvalidateIndex drops every cached page of indexName.
func (c *QueryCache) InvalidateIndex(ctx context.Context, indexName string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	deleted, err := c.client.DeletePrefix(ctx, indexPrefix(indexName))
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache for %q: %w", indexName, err)
	}
	c.logger.Info("cache invalidated", "index", indexName, "keys_deleted", deleted)
	return deleted, nil
}

// Invalidate drops every cached page.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}
	deleted, err := c.client.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
