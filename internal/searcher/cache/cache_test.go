package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
)

func mustParse(t *testing.T, raw string) *parser.Query {
	t.Helper()
	q, err := parser.Parse(raw)
	require.NoError(t, err)
	return q
}

func TestKey(t *testing.T) {
	q := mustParse(t, "alpha beta")

	base := Key("docs", "id1", 3, q, 0, 10)
	assert.True(t, strings.HasPrefix(base, indexPrefix("docs")))
	assert.Equal(t, base, Key("docs", "id1", 3, mustParse(t, "ALPHA  beta"), 0, 10), "normalised queries share a key")

	assert.NotEqual(t, base, Key("docs", "id1", 4, q, 0, 10), "generation")
	assert.NotEqual(t, base, Key("docs", "id2", 3, q, 0, 10), "index id")
	assert.NotEqual(t, base, Key("other", "id1", 3, q, 0, 10), "index")
	assert.NotEqual(t, base, Key("docs", "id1", 3, q, 1, 10), "page")
	assert.NotEqual(t, base, Key("docs", "id1", 3, q, 0, 20), "page size")
	assert.NotEqual(t, base, Key("docs", "id1", 3, mustParse(t, "beta alpha"), 0, 10), "word order is part of the query")
}

// recreate deletes the index directory, creates a fresh index there with
// one document and returns the key its first generation is cached under.
func recreate(t *testing.T, dir, indexName string, q *parser.Query) (string, uint64) {
	t.Helper()
	require.NoError(t, os.RemoveAll(dir))
	s, err := store.Open(context.Background(), dir, store.Options{Create: true, LockTimeout: time.Second})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Update(context.Background(), func(w *store.Writer) error {
		return w.Upsert(index.NewDocument("/a.txt", index.StringPtr("alpha")))
	}))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	require.NotEmpty(t, snap.IndexID())
	return Key(indexName, snap.IndexID(), snap.Generation(), q, 0, 10), snap.Generation()
}

func TestKey_RecreatedIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	q := mustParse(t, "alpha")

	first, firstGen := recreate(t, dir, "docs", q)
	second, secondGen := recreate(t, dir, "docs", q)
	assert.Equal(t, firstGen, secondGen, "a recreated index restarts its generations")
	assert.NotEqual(t, first, second)
}

func TestNilCacheComputes(t *testing.T) {
	var c *QueryCache
	calls := 0
	res, hit, err := c.GetOrCompute(context.Background(), "k", func() (*executor.SearchResult, error) {
		calls++
		return &executor.SearchResult{TotalHits: 1}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, res.TotalHits)
	assert.Equal(t, 1, calls)

	n, err := c.InvalidateIndex(context.Background(), "docs")
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func newRedisCache(t *testing.T) *QueryCache {
	t.Helper()
	cfg := config.Default().Redis
	if addr := os.Getenv("SP_REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := pkgredis.NewClient(ctx, cfg)
	if err != nil {
		t.Skipf("redis not available at %s: %v", cfg.Addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return New(client, time.Minute, metrics.NewNop())
}

func TestGetOrCompute_Redis(t *testing.T) {
	c := newRedisCache(t)
	ctx := context.Background()
	index := "cache-test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { c.InvalidateIndex(context.Background(), index) })

	snippet := "FSSRHL_alpha_FSSRHL"
	want := &executor.SearchResult{
		Results:   []executor.Hit{{Path: "k1", Snippet: &snippet}, {Path: "k2"}},
		TotalHits: 2,
		Window:    1000,
	}
	key := Key(index, "id1", 1, mustParse(t, "alpha"), 0, 10)

	var calls atomic.Int32
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		return want, nil
	}

	got, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, want, got)

	got, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), calls.Load())

	n, err := c.InvalidateIndex(ctx, index)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestGetOrCompute_RecreatedIndexMisses(t *testing.T) {
	c := newRedisCache(t)
	ctx := context.Background()
	indexName := "cache-recreate-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { c.InvalidateIndex(context.Background(), indexName) })
	dir := filepath.Join(t.TempDir(), "docs")
	q := mustParse(t, "alpha")

	stale := &executor.SearchResult{Results: []executor.Hit{{Path: "/old.txt"}}, TotalHits: 1}
	key, _ := recreate(t, dir, indexName, q)
	_, _, err := c.GetOrCompute(ctx, key, func() (*executor.SearchResult, error) { return stale, nil })
	require.NoError(t, err)

	key, _ = recreate(t, dir, indexName, q)
	fresh := &executor.SearchResult{Results: []executor.Hit{{Path: "/a.txt"}}, TotalHits: 1}
	got, hit, err := c.GetOrCompute(ctx, key, func() (*executor.SearchResult, error) { return fresh, nil })
	require.NoError(t, err)
	assert.False(t, hit, "pages of the deleted index are not served")
	assert.Equal(t, fresh, got)
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := newRedisCache(t)
	index := "cache-sf-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { c.InvalidateIndex(context.Background(), index) })
	key := Key(index, "id1", 1, mustParse(t, "alpha"), 0, 10)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		<-release
		return &executor.SearchResult{TotalHits: 7}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := c.GetOrCompute(context.Background(), key, compute)
			assert.NoError(t, err)
			if assert.NotNil(t, res) {
				assert.Equal(t, 7, res.TotalHits)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}
