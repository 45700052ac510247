// Command searchd serves the multi-tenant full-text index over HTTP.
// Redis result caching, Kafka ingestion and analytics, Postgres job
// tracking and token authentication are each switched on in config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/auth/token"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion/jobs"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	searchhandler "github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("SP_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	tracing.Configure(cfg.Tracing)

	if err := run(cfg); err != nil {
		slog.Error("searchd failed", "error", err)
		os.Exit(1)
	}
	slog.Info("searchd stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	engine, err := indexer.NewEngine(cfg.Indexer, m)
	if err != nil {
		return fmt.Errorf("opening index engine: %w", err)
	}
	defer engine.Close()
	engine.StartMergeLoop(ctx)
	slog.Info("index engine ready", "data_dir", cfg.Indexer.DataDir, "max_open_indexes", cfg.Indexer.MaxOpenIndexes)

	checker := health.NewChecker(2 * time.Second)
	checker.Register("index-store", true, engine.Ping)

	var workers sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := fn(ctx); err != nil {
				slog.Error("background worker failed", "worker", name, "error", err)
			}
		}()
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", false, redisClient.Ping)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator()
	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		// Local events are counted by the topic consumer, not twice.
		collector = analytics.NewCollector(producer, nil, 100, 5*time.Second)
		analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, aggregator.Handler())
		goRun("analytics-consumer", analyticsConsumer.Run)
	} else {
		collector = analytics.NewCollector(nil, aggregator, 0, 0)
	}
	goRun("analytics-collector", func(ctx context.Context) error {
		collector.Run(ctx)
		return nil
	})

	var ingestH *ingesthandler.Handler
	if cfg.Kafka.Enabled && cfg.Postgres.Enabled {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		checker.Register("postgres", true, db.Ping)

		jobStore, err := jobs.NewStore(ctx, db)
		if err != nil {
			return fmt.Errorf("preparing job store: %w", err)
		}
		ingestProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
		defer ingestProducer.Close()
		ingestH = ingesthandler.New(publisher.New(jobStore, ingestProducer, int(cfg.Server.MaxBodyBytes), m))

		applier := consumer.New(engine, jobStore, m)
		applier.OnApplied(func(ev ingestion.Event, err error, took time.Duration) {
			collector.Track(analytics.Event{
				Type:      analytics.EventWrite,
				Index:     ev.IndexName,
				Op:        string(ev.Op),
				Key:       ev.Path,
				Failed:    err != nil,
				LatencyMs: float64(took.Microseconds()) / 1000,
			})
			if err == nil && ev.Op == ingestion.OpDeleteAll {
				if _, err := queryCache.InvalidateIndex(ctx, ev.IndexName); err != nil {
					slog.Warn("cache invalidation after clear failed", "index", ev.IndexName, "error", err)
				}
			}
		})
		goRun("ingest-consumer", kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, applier.Handler()).Run)
		slog.Info("async ingestion enabled", "topic", cfg.Kafka.Topics.DocumentIngest)
	}

	opts := router.Options{Server: cfg.Server, Auth: cfg.Auth, Metrics: m}
	if cfg.Auth.Enabled {
		keys := &token.KeyHolder{}
		refresher := token.NewRefresher(cfg.Auth, keys, m)
		goRun("key-refresher", func(ctx context.Context) error {
			refresher.Run(ctx)
			return nil
		})
		checker.Register("auth-key", true, refresher.Check)
		opts.Verifier = token.NewVerifier(keys, cfg.Auth.Audience, cfg.Auth.LinkAudience)
		slog.Info("token authentication enabled", "key_url", cfg.Auth.KeyURL)
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		goRun("rate-limit-sweeper", func(ctx context.Context) error {
			limiter.Run(ctx)
			return nil
		})
		opts.Limiter = limiter
	}

	handler := router.New(router.Handlers{
		Search:    searchhandler.New(engine, cfg.Search, queryCache, collector, m),
		Ingest:    ingestH,
		Analytics: analytics.NewHandler(aggregator),
		Health:    checker,
	}, opts)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("searchd listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		workers.Wait()
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	workers.Wait()
	return nil
}
