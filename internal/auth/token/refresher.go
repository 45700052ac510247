package token

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

// Refresher polls the key endpoint and stores the key it serves. The
// endpoint answers with a JSON array of the RSA modulus and public exponent
// as decimal strings. On failure the last good key stays in place.
type Refresher struct {
	url      string
	interval time.Duration
	keys     *KeyHolder
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	lastOK   atomic.Int64
	logger   *slog.Logger
}

func NewRefresher(cfg config.AuthConfig, keys *KeyHolder, m *metrics.Metrics) *Refresher {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     2 * interval,
	}
	if m != nil {
		breakerCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &Refresher{
		url:      cfg.KeyURL,
		interval: interval,
		keys:     keys,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  resilience.NewCircuitBreaker("auth-key", breakerCfg),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		logger: slog.Default().With("component", "key-refresher"),
	}
}

// Run refreshes immediately and then every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("couldn't refresh verification key", "url", r.url, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh fetches the key once.
func (r *Refresher) Refresh(ctx context.Context) error {
	return r.breaker.Execute(func() error {
		return resilience.Retry(ctx, "auth-key", r.retry, func(ctx context.Context) error {
			key, err := r.fetch(ctx)
			if err != nil {
				return err
			}
			r.keys.Store(key)
			r.lastOK.Store(time.Now().UnixNano())
			r.logger.Debug("verification key refreshed")
			return nil
		})
	})
}

// Check fails until a key has been loaded and when the last successful
// refresh is older than a few intervals.
func (r *Refresher) Check(context.Context) error {
	last := r.lastOK.Load()
	if last == 0 || r.keys.Load() == nil {
		return ErrNoKey
	}
	if age := time.Since(time.Unix(0, last)); age > 5*r.interval {
		return fmt.Errorf("verification key is stale (last refreshed %s ago)", age.Round(time.Second))
	}
	return nil
}

func (r *Refresher) fetch(ctx context.Context) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching key: status %d", resp.StatusCode)
	}

	var parts []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&parts); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decoding key: %w", err))
	}
	key, err := ParsePublicKey(parts)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	return key, nil
}

// ParsePublicKey builds a key from its decimal modulus and exponent.
func ParsePublicKey(parts []string) (*rsa.PublicKey, error) {
	if len(parts) != 2 {
		return nil, fmt.Errorf("key must have 2 parts, got %d", len(parts))
	}
	n, ok := new(big.Int).SetString(parts[0], 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("invalid modulus")
	}
	e, ok := new(big.Int).SetString(parts[1], 10)
	if !ok || e.Sign() <= 0 || !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
