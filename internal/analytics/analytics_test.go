package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

type fakeSender struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
}

func (f *fakeSender) Publish(_ context.Context, events ...kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestAggregator_Stats(t *testing.T) {
	a := NewAggregator()
	a.Record(Event{Type: EventSearch, Index: "docs", Query: "alpha", TotalHits: 3, LatencyMs: 10})
	a.Record(Event{Type: EventSearch, Index: "docs", Query: "alpha", TotalHits: 3, LatencyMs: 20, CacheHit: true})
	a.Record(Event{Type: EventSearch, Index: "mail", Query: "zzz", TotalHits: 0, LatencyMs: 30})
	a.Record(Event{Type: EventWrite, Index: "docs", Op: "upsert", Key: "/a"})
	a.Record(Event{Type: EventWrite, Index: "docs", Op: "upsert", Key: "/b", Failed: true})

	s := a.Stats()
	assert.Equal(t, int64(3), s.TotalSearches)
	assert.Equal(t, int64(2), s.TotalWrites)
	assert.Equal(t, int64(1), s.FailedWrites)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.InDelta(t, 20.0, s.AvgLatencyMs, 0.001)
	assert.Equal(t, 20.0, s.P50LatencyMs)
	assert.Equal(t, 30.0, s.P99LatencyMs)
	require.NotEmpty(t, s.TopQueries)
	assert.Equal(t, QueryCount{Query: "alpha", Count: 2}, s.TopQueries[0])
	assert.Equal(t, []QueryCount{{Query: "zzz", Count: 1}}, s.ZeroResultQueries)
	assert.Equal(t, map[string]int64{"docs": 2, "mail": 1}, s.SearchesByIndex)
}

func TestAggregator_LatencyWindow(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < latencyWindow+10; i++ {
		a.Record(Event{Type: EventSearch, Query: "q", TotalHits: 1, LatencyMs: 1})
	}
	assert.Len(t, a.latencies, latencyWindow)
	assert.Equal(t, int64(latencyWindow+10), a.Stats().TotalSearches)
}

func TestAggregator_Handler(t *testing.T) {
	a := NewAggregator()
	h := a.Handler()

	body, err := json.Marshal(Event{Type: EventWrite, Index: "docs", Op: "delete"})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), []byte("docs"), body))
	assert.Equal(t, int64(1), a.Stats().TotalWrites)

	assert.Error(t, h(context.Background(), nil, []byte("{not json")))
}

func TestCollector_FlushesOnShutdown(t *testing.T) {
	sender := &fakeSender{}
	local := NewAggregator()
	c := NewCollector(sender, local, 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	c.Track(Event{Type: EventSearch, Index: "docs", Query: "alpha", TotalHits: 1})
	c.Track(Event{Type: EventSearch, Index: "docs", Query: "beta"})
	assert.Equal(t, int64(2), local.Stats().TotalSearches)

	cancel()
	c.Wait()
	assert.Equal(t, 2, sender.count())
	assert.Zero(t, c.Pending())
}

func TestCollector_FlushesFullBatch(t *testing.T) {
	sender := &fakeSender{}
	c := NewCollector(sender, nil, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Wait()
	}()
	go c.Run(ctx)

	c.Track(Event{Type: EventSearch, Index: "docs"})
	c.Track(Event{Type: EventSearch, Index: "docs"})
	assert.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestCollector_KeepsEventsWhenPublishFails(t *testing.T) {
	sender := &fakeSender{fail: true}
	c := NewCollector(sender, nil, 5, time.Hour)
	for i := 0; i < 3; i++ {
		c.Track(Event{Type: EventWrite, Index: "docs"})
	}
	c.flush(context.Background())
	assert.Equal(t, 3, c.Pending())
}

func TestCollector_DropsOldestWhenSaturated(t *testing.T) {
	c := NewCollector(&fakeSender{}, nil, 1, time.Hour)
	for i := 0; i < 25; i++ {
		c.Track(Event{Type: EventWrite, Index: "docs"})
	}
	assert.Equal(t, 10, c.Pending())
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() { c.Track(Event{Type: EventSearch}) })
}

func TestHandler_Stats(t *testing.T) {
	a := NewAggregator()
	a.Record(Event{Type: EventSearch, Index: "docs", Query: "alpha", TotalHits: 1})
	a.Record(Event{Type: EventSearch, Index: "mail", Query: "alpha", TotalHits: 1})

	rec := httptest.NewRecorder()
	NewHandler(a).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?index=docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var s Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.Equal(t, int64(2), s.TotalSearches)
	assert.Equal(t, map[string]int64{"docs": 1}, s.SearchesByIndex)
}
