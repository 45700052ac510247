// Package router builds the service's route table and middleware chain.
package router

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/auth/token"
	gwmw "github.com/Adithya-Monish-Kumar-K/docsearch/internal/gateway/middleware"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion/handler"
	searchhandler "github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
)

// Handlers are the endpoint groups. Ingest is nil when asynchronous
// ingestion is not configured.
type Handlers struct {
	Search    *searchhandler.Handler
	Ingest    *ingesthandler.Handler
	Analytics *analytics.Handler
	Health    *health.Checker
}

// Options select the optional middleware. A nil Verifier disables
// authentication and a nil Limiter disables rate limiting.
type Options struct {
	Server   config.ServerConfig
	Auth     config.AuthConfig
	Verifier *token.Verifier
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
}

// New returns the full handler.
//
// Route table:
//
//	POST   /api/v1/index                 index a document (body = content)
//	DELETE /api/v1/index                 delete a document
//	DELETE /api/v1/index/all             clear an index
//	GET    /api/v1/search                ranked, paged, highlighted search
//	GET    /api/v1/indexes/{name}/stats  index statistics
//	POST   /api/v1/ingest                queue a write (kafka + postgres)
//	GET    /api/v1/ingest/{id}           ingest job status
//	GET    /api/v1/analytics             search and write analytics
//	GET    /api/v1/cache/stats           result cache counters
//	POST   /api/v1/cache/invalidate      drop cached pages
//	POST   /, GET /api, DELETE /, DELETE /all   unversioned aliases
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	Recover → RequestID → AccessLog → Metrics → CORS → Auth → RateLimit → Timeout → MaxBody → mux
//
// With a verifier every index operation, aliases included, requires a token.
// auth.openLegacyWrites exempts the three unversioned write aliases.
func New(h Handlers, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", h.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", h.Health.ReadyHandler())

	mux.HandleFunc("POST /api/v1/index", h.Search.Index)
	mux.HandleFunc("DELETE /api/v1/index", h.Search.Delete)
	mux.HandleFunc("DELETE /api/v1/index/all", h.Search.DeleteAll)
	mux.HandleFunc("GET /api/v1/search", h.Search.Search)
	mux.HandleFunc("GET /api/v1/indexes/{indexName}/stats", h.Search.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.Search.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.Search.CacheInvalidate)

	mux.HandleFunc("POST /{$}", h.Search.Index)
	mux.HandleFunc("GET /api", h.Search.Search)
	mux.HandleFunc("DELETE /{$}", h.Search.Delete)
	mux.HandleFunc("DELETE /all", h.Search.DeleteAll)

	if h.Ingest != nil {
		mux.HandleFunc("POST /api/v1/ingest", h.Ingest.Submit)
		mux.HandleFunc("GET /api/v1/ingest/{id}", h.Ingest.Status)
	}
	if h.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", h.Analytics.Stats)
	}

	chain := []pkgmw.Middleware{
		pkgmw.Recover,
		pkgmw.RequestID,
		pkgmw.AccessLog,
		pkgmw.Metrics(opts.Metrics, mux),
		gwmw.CORS(gwmw.NewCORSConfig(opts.Server.AllowedOrigins, opts.Auth.HeaderName)),
	}
	if opts.Verifier != nil {
		chain = append(chain, gwmw.Auth(opts.Verifier, opts.Auth, opts.Metrics))
	}
	if opts.Limiter != nil {
		chain = append(chain, gwmw.RateLimit(opts.Limiter, opts.Metrics))
	}
	chain = append(chain,
		pkgmw.Timeout(opts.Server.RequestTimeout),
		pkgmw.MaxBody(opts.Server.MaxBodyBytes),
	)
	return pkgmw.Chain(mux, chain...)
}
