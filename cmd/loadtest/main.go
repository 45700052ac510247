// Command loadtest drives a running searchd with a mix of index, search and
// delete requests and reports throughput and latency per operation.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	IndexName   string
	Token       string
	Concurrency int
	Duration    time.Duration
	WriteRatio  float64
	DeleteRatio float64
	Docs        int
	PageSize    int
}

type opStats struct {
	total     atomic.Int64
	errors    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func (s *opStats) record(d time.Duration, code int, err error) {
	s.total.Add(1)
	if err != nil || code < 200 || code >= 300 {
		s.errors.Add(1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.latencies = append(s.latencies, d)
		s.codes[code]++
	}
}

type Stats struct {
	ops map[string]*opStats
}

func NewStats() *Stats {
	s := &Stats{ops: make(map[string]*opStats)}
	for _, op := range []string{"index", "search", "delete"} {
		s.ops[op] = &opStats{codes: make(map[int]int64)}
	}
	return s
}

var vocabulary = strings.Fields(`distributed systems search engine analytics platform
indexing documents query processing cache optimization ranking algorithm
segment merge circuit breaker load balancing full text inverted index bm25
tokenizer snippet highlight tenant snapshot writer commit manifest`)

func main() {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of searchd")
	flag.StringVar(&cfg.IndexName, "index", "loadtest", "index to write to and search")
	flag.StringVar(&cfg.Token, "token", os.Getenv("FSTOKEN"), "login token sent in the fstoken header")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&cfg.WriteRatio, "write-ratio", 0.2, "share of requests that index a document")
	flag.Float64Var(&cfg.DeleteRatio, "delete-ratio", 0.02, "share of requests that delete a document")
	flag.IntVar(&cfg.Docs, "docs", 1000, "number of distinct document paths")
	flag.IntVar(&cfg.PageSize, "page-size", 10, "search page size")
	flag.Parse()

	fmt.Println("=== docsearch load test ===")
	fmt.Printf("Target:      %s (index %q)\n", cfg.BaseURL, cfg.IndexName)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Mix:         %.0f%% index, %.0f%% delete, rest search\n", cfg.WriteRatio*100, cfg.DeleteRatio*100)
	fmt.Println()

	stats := runLoadTest(cfg)
	if !printReport(stats, cfg.Duration) {
		fmt.Println()
		fmt.Println("WARNING: no request succeeded. Is searchd running?")
		os.Exit(1)
	}
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, seed*7919))
			for ctx.Err() == nil {
				op, req := nextRequest(ctx, cfg, rng)
				start := time.Now()
				resp, err := client.Do(req)
				took := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.ops[op].record(took, 0, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.ops[op].record(took, resp.StatusCode, nil)
			}
		}(uint64(w + 1))
	}
	wg.Wait()
	return stats
}

func nextRequest(ctx context.Context, cfg Config, rng *rand.Rand) (string, *http.Request) {
	params := url.Values{"indexName": {cfg.IndexName}}
	var (
		op     string
		method string
		path   string
		body   io.Reader
	)
	switch r := rng.Float64(); {
	case r < cfg.WriteRatio:
		op, method, path = "index", http.MethodPost, "/api/v1/index"
		params.Set("path", fmt.Sprintf("/docs/%d.txt", rng.IntN(cfg.Docs)))
		body = strings.NewReader(words(rng, 50+rng.IntN(200)))
	case r < cfg.WriteRatio+cfg.DeleteRatio:
		op, method, path = "delete", http.MethodDelete, "/api/v1/index"
		params.Set("path", fmt.Sprintf("/docs/%d.txt", rng.IntN(cfg.Docs)))
	default:
		op, method, path = "search", http.MethodGet, "/api/v1/search"
		params.Set("terms", words(rng, 1+rng.IntN(2)))
		params.Set("pageIndex", "0")
		params.Set("pageSize", fmt.Sprint(cfg.PageSize))
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.BaseURL+path+"?"+params.Encode(), body)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	if cfg.Token != "" {
		req.Header.Set("fstoken", cfg.Token)
	}
	return op, req
}

func words(rng *rand.Rand, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = vocabulary[rng.IntN(len(vocabulary))]
	}
	return strings.Join(out, " ")
}

// printReport prints per-operation results and reports whether any
// request succeeded.
func printReport(stats *Stats, duration time.Duration) bool {
	ok := false
	for _, op := range []string{"search", "index", "delete"} {
		s := stats.ops[op]
		total, errs := s.total.Load(), s.errors.Load()
		if total == 0 {
			continue
		}
		ok = ok || total > errs

		fmt.Printf("=== %s ===\n", op)
		fmt.Printf("Requests:     %d (%.2f/s)\n", total, float64(total)/duration.Seconds())
		fmt.Printf("Errors:       %d (%.2f%%)\n", errs, float64(errs)/float64(total)*100)

		s.mu.Lock()
		latencies := append([]time.Duration(nil), s.latencies...)
		codes := make([]int, 0, len(s.codes))
		for code := range s.codes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Printf("  status %d: %d\n", code, s.codes[code])
		}
		s.mu.Unlock()

		if len(latencies) > 0 {
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var sum time.Duration
			for _, l := range latencies {
				sum += l
			}
			fmt.Printf("Latency:      min %s  avg %s  p50 %s  p95 %s  p99 %s  max %s\n",
				latencies[0],
				sum/time.Duration(len(latencies)),
				percentile(latencies, 50),
				percentile(latencies, 95),
				percentile(latencies, 99),
				latencies[len(latencies)-1],
			)
		}
		fmt.Println()
	}
	return ok
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
