// Package publisher accepts asynchronous write requests: it records a job,
// then queues the operation on Kafka for the indexer to apply.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// JobStore is the job persistence the publisher needs.
type JobStore interface {
	Create(ctx context.Context, job *ingestion.Job) (*ingestion.Job, bool, error)
	Get(ctx context.Context, id string) (*ingestion.Job, error)
	SetStatus(ctx context.Context, id string, status ingestion.JobStatus, message string) error
}

// EventSender queues events.
type EventSender interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type Publisher struct {
	jobs       JobStore
	sender     EventSender
	maxContent int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(jobs JobStore, sender EventSender, maxContent int, m *metrics.Metrics) *Publisher {
	return &Publisher{
		jobs:       jobs,
		sender:     sender,
		maxContent: maxContent,
		metrics:    m,
		logger:     slog.Default().With("component", "ingest-publisher"),
	}
}

// Submit validates req, records a PENDING job and queues it. A repeated
// idempotency key returns the earlier job without queueing again.
func (p *Publisher) Submit(ctx context.Context, req *ingestion.Request) (*ingestion.Response, error) {
	if err := validator.Validate(req, p.maxContent); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	job := &ingestion.Job{
		ID:             uuid.NewString(),
		Op:             req.Op,
		IndexName:      req.IndexName,
		Path:           req.Path,
		Status:         ingestion.StatusPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	stored, created, err := p.jobs.Create(ctx, job)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	if !created {
		p.logger.Info("duplicate ingest request", "idempotency_key", req.IdempotencyKey, "job_id", stored.ID)
		return &ingestion.Response{JobID: stored.ID, Status: stored.Status}, nil
	}

	event := kafka.Event{
		Key: req.IndexName,
		Value: ingestion.Event{
			JobID:       job.ID,
			Op:          req.Op,
			IndexName:   req.IndexName,
			Path:        req.Path,
			Content:     req.Content,
			SubmittedAt: now,
		},
	}
	if err := p.sender.Publish(ctx, event); err != nil {
		if serr := p.jobs.SetStatus(context.WithoutCancel(ctx), job.ID, ingestion.StatusFailed, "queueing failed"); serr != nil {
			p.logger.Error("marking job failed", "job_id", job.ID, "error", serr)
		}
		p.metrics.IngestJobsTotal.WithLabelValues("queue_failed").Inc()
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, fmt.Errorf("queueing job %s: %w", job.ID, err))
	}
	p.metrics.IngestJobsTotal.WithLabelValues("queued").Inc()
	p.logger.Debug("ingest job queued", "job_id", job.ID, "op", req.Op, "index", req.IndexName)
	return &ingestion.Response{JobID: job.ID, Status: ingestion.StatusPending}, nil
}

// Status returns the current state of a job.
func (p *Publisher) Status(ctx context.Context, id string) (*ingestion.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrJobNotFound, fmt.Errorf("job %q", id))
	}
	return p.jobs.Get(ctx, id)
}
