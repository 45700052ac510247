package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

const latencyWindow = 10000

type Stats struct {
	TotalSearches     int64            `json:"totalSearches"`
	TotalWrites       int64            `json:"totalWrites"`
	FailedWrites      int64            `json:"failedWrites"`
	CacheHits         int64            `json:"cacheHits"`
	ZeroResultCount   int64            `json:"zeroResultCount"`
	AvgLatencyMs      float64          `json:"avgLatencyMs"`
	P50LatencyMs      float64          `json:"p50LatencyMs"`
	P95LatencyMs      float64          `json:"p95LatencyMs"`
	P99LatencyMs      float64          `json:"p99LatencyMs"`
	TopQueries        []QueryCount     `json:"topQueries"`
	ZeroResultQueries []QueryCount     `json:"zeroResultQueries"`
	SearchesByIndex   map[string]int64 `json:"searchesByIndex"`
	QueriesPerMinute  float64          `json:"queriesPerMinute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals. Search latencies are kept in a ring of
// the most recent latencyWindow searches.
type Aggregator struct {
	mu          sync.Mutex
	start       time.Time
	searches    int64
	writes      int64
	failed      int64
	cacheHits   int64
	zeroResults int64
	latencies   []float64
	next        int
	queries     map[string]int64
	zeroQueries map[string]int64
	byIndex     map[string]int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		start:       time.Now(),
		latencies:   make([]float64, 0, 1024),
		queries:     make(map[string]int64),
		zeroQueries: make(map[string]int64),
		byIndex:     make(map[string]int64),
	}
}

func (a *Aggregator) Record(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev.Type {
	case EventSearch:
		a.searches++
		a.byIndex[ev.Index]++
		a.queries[ev.Query]++
		if ev.CacheHit {
			a.cacheHits++
		}
		if ev.TotalHits == 0 {
			a.zeroResults++
			a.zeroQueries[ev.Query]++
		}
		if len(a.latencies) < latencyWindow {
			a.latencies = append(a.latencies, ev.LatencyMs)
		} else {
			a.latencies[a.next] = ev.LatencyMs
			a.next = (a.next + 1) % latencyWindow
		}
	case EventWrite:
		a.writes++
		if ev.Failed {
			a.failed++
		}
	}
}

// Handler feeds analytics topic messages into a.
func (a *Aggregator) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			return err
		}
		a.Record(ev)
		return nil
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		TotalSearches:     a.searches,
		TotalWrites:       a.writes,
		FailedWrites:      a.failed,
		CacheHits:         a.cacheHits,
		ZeroResultCount:   a.zeroResults,
		TopQueries:        topN(a.queries, 10),
		ZeroResultQueries: topN(a.zeroQueries, 10),
		SearchesByIndex:   make(map[string]int64, len(a.byIndex)),
	}
	for k, v := range a.byIndex {
		s.SearchesByIndex[k] = v
	}
	if n := len(a.latencies); n > 0 {
		sorted := append([]float64(nil), a.latencies...)
		sort.Float64s(sorted)
		var sum float64
		for _, l := range sorted {
			sum += l
		}
		s.AvgLatencyMs = sum / float64(n)
		s.P50LatencyMs = percentile(sorted, 50)
		s.P95LatencyMs = percentile(sorted, 95)
		s.P99LatencyMs = percentile(sorted, 99)
	}
	if minutes := time.Since(a.start).Minutes(); minutes > 0 {
		s.QueriesPerMinute = float64(a.searches) / minutes
	}
	return s
}

func percentile(sorted []float64, pct int) float64 {
	idx := pct * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then query text so equal counts are stable.
func topN(counts map[string]int64, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
