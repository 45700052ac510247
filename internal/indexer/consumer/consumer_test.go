package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

type statuses struct {
	mu  sync.Mutex
	got map[string]ingestion.JobStatus
}

func (s *statuses) SetStatus(_ context.Context, id string, status ingestion.JobStatus, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = make(map[string]ingestion.JobStatus)
	}
	s.got[id] = status
	return nil
}

func newEngine(t *testing.T) *indexer.Engine {
	t.Helper()
	cfg := config.Default().Indexer
	cfg.DataDir = t.TempDir()
	cfg.LockTimeout = 200 * time.Millisecond
	e, err := indexer.NewEngine(cfg, metrics.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func encode(t *testing.T, ev ingestion.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestHandler_AppliesOperations(t *testing.T) {
	e := newEngine(t)
	jobs := &statuses{}
	c := New(e, jobs, metrics.NewNop())
	h := c.Handler()
	ctx := context.Background()
	content := "alpha beta"

	require.NoError(t, h(ctx, []byte("docs"), encode(t, ingestion.Event{JobID: "1", Op: ingestion.OpUpsert, IndexName: "docs", Path: "/a", Content: &content})))
	require.NoError(t, h(ctx, []byte("docs"), encode(t, ingestion.Event{JobID: "2", Op: ingestion.OpUpsert, IndexName: "docs", Path: "/b"})))

	snap, err := e.OpenSnapshot(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.LiveDocs())
	doc, ok, err := snap.Get("/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/a", doc.Name)
	snap.Close()

	require.NoError(t, h(ctx, nil, encode(t, ingestion.Event{JobID: "3", Op: ingestion.OpDelete, IndexName: "docs", Path: "/a"})))
	require.NoError(t, h(ctx, nil, encode(t, ingestion.Event{JobID: "4", Op: ingestion.OpDeleteAll, IndexName: "docs"})))

	snap, err = e.OpenSnapshot(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, snap.LiveDocs())
	snap.Close()

	for _, id := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, ingestion.StatusIndexed, jobs.got[id], "job %s", id)
	}
}

func TestHandler_UndecodableIsPermanent(t *testing.T) {
	c := New(newEngine(t), nil, metrics.NewNop())
	calls := 0
	err := resilience.Retry(context.Background(), "t", resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
		func(ctx context.Context) error {
			calls++
			return c.Handler()(ctx, nil, []byte("{"))
		})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

type flakyEngine struct {
	fails int
	calls int
}

func (f *flakyEngine) Upsert(context.Context, string, index.Document) error {
	f.calls++
	if f.calls <= f.fails {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, errors.New("locked"))
	}
	return nil
}
func (f *flakyEngine) Delete(context.Context, string, string) error { return nil }
func (f *flakyEngine) DeleteAll(context.Context, string) error {
	return apperrors.Wrap(apperrors.ErrInvalidInput, errors.New("bad"))
}

func TestApply_RetriesStorageFailures(t *testing.T) {
	eng := &flakyEngine{fails: 2}
	jobs := &statuses{}
	c := New(eng, jobs, metrics.NewNop())
	c.retry.InitialDelay = time.Millisecond

	var observed []error
	c.OnApplied(func(_ ingestion.Event, err error, _ time.Duration) { observed = append(observed, err) })

	require.NoError(t, c.Apply(context.Background(), ingestion.Event{JobID: "a", Op: ingestion.OpUpsert, IndexName: "docs", Path: "/a"}))
	assert.Equal(t, 3, eng.calls)
	assert.Equal(t, ingestion.StatusIndexed, jobs.got["a"])

	require.NoError(t, c.Apply(context.Background(), ingestion.Event{JobID: "b", Op: ingestion.OpDeleteAll, IndexName: "docs"}))
	assert.Equal(t, ingestion.StatusFailed, jobs.got["b"])

	require.NoError(t, c.Apply(context.Background(), ingestion.Event{JobID: "c", Op: "bogus", IndexName: "docs"}))
	assert.Equal(t, ingestion.StatusFailed, jobs.got["c"])

	require.Len(t, observed, 3)
	assert.NoError(t, observed[0])
	assert.Error(t, observed[1])
}
