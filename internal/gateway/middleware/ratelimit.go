package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
)

// RateLimit limits the index operations per caller, including unversioned
// writes left open by auth. Authenticated callers are keyed by identity,
// anonymous ones by remote address.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics) pkgmw.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Protected(r.URL.Path, false) {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r)
			if !limiter.Allow(key) {
				m.RateLimitedTotal.Inc()
				secs := int(math.Ceil(limiter.RetryAfter(key).Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if id := IdentityFrom(r.Context()); id != nil {
		return "user:" + id.Subject()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
