package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/auth/token"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	searchhandler "github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

func newServer(t *testing.T, withAuth bool) (http.Handler, *metrics.Metrics) {
	t.Helper()
	cfg := config.Default()
	cfg.Indexer.DataDir = t.TempDir()
	cfg.Indexer.LockTimeout = time.Second
	m := metrics.NewNop()

	engine, err := indexer.NewEngine(cfg.Indexer, m)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	checker := health.NewChecker(time.Second)
	checker.Register("index-store", true, engine.Ping)

	agg := analytics.NewAggregator()
	opts := Options{Server: cfg.Server, Auth: cfg.Auth, Metrics: m}
	if withAuth {
		opts.Verifier = token.NewVerifier(&token.KeyHolder{}, cfg.Auth.Audience, cfg.Auth.LinkAudience)
	}
	return New(Handlers{
		Search:    searchhandler.New(engine, cfg.Search, nil, analytics.NewCollector(nil, agg, 0, 0), m),
		Analytics: analytics.NewHandler(agg),
		Health:    checker,
	}, opts), m
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestLegacyRoutes(t *testing.T) {
	h, _ := newServer(t, false)

	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/?indexName=docs&path=/a.txt", "alpha beta").Code)
	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/?indexName=docs&path=/b.txt", "alpha").Code)

	rec := serve(h, http.MethodGet, "/api?indexName=docs&terms=alpha&pageIndex=0&pageSize=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		TotalHits int `json:"totalHits"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.TotalHits)

	require.Equal(t, http.StatusOK, serve(h, http.MethodDelete, "/?indexName=docs&path=/a.txt", "").Code)
	require.Equal(t, http.StatusOK, serve(h, http.MethodDelete, "/all?indexName=docs", "").Code)

	rec = serve(h, http.MethodGet, "/api/v1/search?indexName=docs&terms=alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalHits":0`)
}

func TestRequestIDAndHealth(t *testing.T) {
	h, _ := newServer(t, false)

	rec := serve(h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/api/v1/ingest", "{}").Code,
		"ingest routes are absent without kafka and postgres")
}

func TestAuthGatesAPI(t *testing.T) {
	h, m := newServer(t, true)

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/api/v1/search?indexName=docs&terms=a", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/?indexName=docs&path=/a.txt", "alpha").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodDelete, "/all?indexName=docs", "").Code)

	var out dto.Metric
	require.NoError(t, m.AuthFailuresTotal.WithLabelValues("missing").Write(&out))
	assert.Equal(t, 3.0, out.GetCounter().GetValue())

	out.Reset()
	require.NoError(t, m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/v1/search", "401").Write(&out))
	assert.Equal(t, 1.0, out.GetCounter().GetValue(), "rejected requests are labelled with their route")
}
