package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(config.IndexerConfig{
		DataDir:                t.TempDir(),
		MaxOpenIndexes:         4,
		MaxSegmentsBeforeMerge: 5,
		Compression:            "zstd",
		LockTimeout:            time.Second,
	}, metrics.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func countKey(t *testing.T, e *Engine, indexName, key string) int {
	t.Helper()
	snap, err := e.OpenSnapshot(context.Background(), indexName)
	require.NoError(t, err)
	defer snap.Close()
	n := 0
	for _, seg := range snap.Segments() {
		for ord := uint32(0); ord < seg.DocCount(); ord++ {
			if !seg.IsDeleted(ord) && seg.Entry(ord).Key == key {
				n++
			}
		}
	}
	return n
}

func TestUpsert_IdempotentByKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	doc := index.NewDocument("/a.txt", index.StringPtr("hello"))

	require.NoError(t, e.Upsert(ctx, "docs", doc))
	require.NoError(t, e.Upsert(ctx, "docs", doc))
	assert.Equal(t, 1, countKey(t, e, "docs", "/a.txt"))

	stats, err := e.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LiveDocs)
}

func TestUpsert_ReplacesContent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Upsert(ctx, "docs", index.Document{Key: "k", Name: "a", Content: index.StringPtr("x")}))
	require.NoError(t, e.Upsert(ctx, "docs", index.Document{Key: "k", Name: "b", Content: index.StringPtr("y")}))

	snap, err := e.OpenSnapshot(ctx, "docs")
	require.NoError(t, err)
	defer snap.Close()
	doc, ok, err := snap.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", doc.Name)
	assert.Equal(t, "y", *doc.Content)
}

func TestUpsertBatch_PartialFailure(t *testing.T) {
	e := newTestEngine(t)
	statuses, err := e.UpsertBatch(context.Background(), "docs", []index.Document{
		index.NewDocument("a", nil),
		{},
		index.NewDocument("b", nil),
	})
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.NoError(t, statuses[0].Err)
	assert.ErrorIs(t, statuses[1].Err, apperrors.ErrInvalidInput)
	assert.NotEmpty(t, statuses[1].Error())
	assert.NoError(t, statuses[2].Err)

	stats, err := e.Stats(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LiveDocs)
}

func TestDelete_SoftMisses(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	assert.NoError(t, e.Delete(ctx, "never-created", "k"))
	assert.NoError(t, e.DeleteAll(ctx, "never-created"))

	require.NoError(t, e.Upsert(ctx, "docs", index.NewDocument("k", nil)))
	require.NoError(t, e.Delete(ctx, "docs", "absent"))
	require.NoError(t, e.Delete(ctx, "docs", "k"))
	require.NoError(t, e.Delete(ctx, "docs", "k"))
	assert.Zero(t, countKey(t, e, "docs", "k"))

	_, err := e.Stats(ctx, "never-created")
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
}

func TestOpenSnapshot_NeverCreated(t *testing.T) {
	e := newTestEngine(t)
	snap, err := e.OpenSnapshot(context.Background(), "nothing-here")
	require.NoError(t, err)
	defer snap.Close()
	assert.Zero(t, snap.LiveDocs())
	assert.Empty(t, snap.Segments())
}

func TestDeleteAll_IndexKeepsExisting(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Upsert(ctx, "docs", index.NewDocument("a", nil)))
	require.NoError(t, e.DeleteAll(ctx, "docs"))

	stats, err := e.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, stats.LiveDocs)

	require.NoError(t, e.Upsert(ctx, "docs", index.NewDocument("b", nil)))
	assert.Equal(t, 1, countKey(t, e, "docs", "b"))
}

func TestInvalidIndexName(t *testing.T) {
	e := newTestEngine(t)
	err := e.Upsert(context.Background(), "", index.NewDocument("a", nil))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestConcurrentUpserts_NoneLost(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, e.Upsert(ctx, "docs", index.NewDocument(fmt.Sprintf("doc-%d", i), index.StringPtr("body"))))
		}(i)
	}
	// writes to another index proceed independently
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Upsert(ctx, "other", index.NewDocument("x", nil)))
	}()
	wg.Wait()

	snap, err := e.OpenSnapshot(ctx, "docs")
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, n, snap.LiveDocs())
}

func TestCompact(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Upsert(ctx, "docs", index.NewDocument(fmt.Sprintf("d%d", i), nil)))
	}
	require.NoError(t, e.Compact(ctx, "docs"))
	stats, err := e.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Segments)
	assert.Equal(t, 3, stats.LiveDocs)

	assert.ErrorIs(t, e.Compact(ctx, "missing"), apperrors.ErrIndexNotFound)
}

func TestPing(t *testing.T) {
	assert.NoError(t, newTestEngine(t).Ping(context.Background()))
}
