// Package consumer applies queued ingest operations to the engine and
// records each job's outcome.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

// Applier is the subset of the engine the consumer drives.
type Applier interface {
	Upsert(ctx context.Context, indexName string, doc index.Document) error
	Delete(ctx context.Context, indexName, key string) error
	DeleteAll(ctx context.Context, indexName string) error
}

// StatusRecorder stores job outcomes. It may be nil when jobs are not
// tracked.
type StatusRecorder interface {
	SetStatus(ctx context.Context, id string, status ingestion.JobStatus, message string) error
}

// Observer is told about every applied operation, e.g. for analytics.
type Observer func(ev ingestion.Event, err error, took time.Duration)

type Consumer struct {
	engine   Applier
	jobs     StatusRecorder
	metrics  *metrics.Metrics
	retry    resilience.RetryConfig
	observer Observer
	logger   *slog.Logger
}

func New(engine Applier, jobs StatusRecorder, m *metrics.Metrics) *Consumer {
	return &Consumer{
		engine:  engine,
		jobs:    jobs,
		metrics: m,
		retry:   resilience.RetryConfig{MaxAttempts: 4, InitialDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second},
		logger:  slog.Default().With("component", "index-consumer"),
	}
}

// OnApplied registers an observer.
func (c *Consumer) OnApplied(o Observer) {
	c.observer = o
}

// Handler returns the Kafka handler for the ingest topic.
func (c *Consumer) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[ingestion.Event](value)
		if err != nil {
			c.logger.Error("undecodable ingest event", "key", string(key), "error", err)
			return err
		}
		return c.Apply(ctx, ev)
	}
}

// Apply runs one operation. Storage and timeout failures are retried;
// anything else fails the job at once. The job status is updated either
// way, and only a cancelled ctx is returned as an error so the message is
// not committed.
func (c *Consumer) Apply(ctx context.Context, ev ingestion.Event) error {
	start := time.Now()
	err := resilience.Retry(ctx, "apply-"+string(ev.Op), c.retry, func(ctx context.Context) error {
		err := c.apply(ctx, ev)
		if err != nil && !retryable(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	status, message := ingestion.StatusIndexed, ""
	if err != nil {
		status, message = ingestion.StatusFailed, err.Error()
		c.logger.Error("ingest job failed",
			"job_id", ev.JobID,
			"op", ev.Op,
			"index", ev.IndexName,
			"key", ev.Path,
			"error", err,
		)
	} else {
		c.logger.Debug("ingest job applied", "job_id", ev.JobID, "op", ev.Op, "index", ev.IndexName)
	}
	c.metrics.IngestJobsTotal.WithLabelValues(string(status)).Inc()
	if c.observer != nil {
		c.observer(ev, err, time.Since(start))
	}
	if c.jobs != nil && ev.JobID != "" {
		if serr := c.jobs.SetStatus(ctx, ev.JobID, status, message); serr != nil {
			c.logger.Error("recording job status", "job_id", ev.JobID, "error", serr)
		}
	}
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev ingestion.Event) error {
	switch ev.Op {
	case ingestion.OpUpsert:
		return c.engine.Upsert(ctx, ev.IndexName, index.NewDocument(ev.Path, ev.Content))
	case ingestion.OpDelete:
		return c.engine.Delete(ctx, ev.IndexName, ev.Path)
	case ingestion.OpDeleteAll:
		return c.engine.DeleteAll(ctx, ev.IndexName)
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown op %q", ev.Op)
	}
}

func retryable(err error) bool {
	return errors.Is(err, apperrors.ErrStorageUnavailable) || errors.Is(err, apperrors.ErrTimeout)
}
