// Package ingestion defines the asynchronous write API: requests accepted
// over HTTP, the Kafka event that carries them to the indexer, and the job
// record that tracks their outcome.
package ingestion

import "time"

type Op string

const (
	OpUpsert    Op = "upsert"
	OpDelete    Op = "delete"
	OpDeleteAll Op = "deleteAll"
)

type JobStatus string

const (
	StatusPending JobStatus = "PENDING"
	StatusIndexed JobStatus = "INDEXED"
	StatusFailed  JobStatus = "FAILED"
)

// Request is the JSON body of POST /api/v1/ingest. Content is only read for
// upserts; a missing content field indexes the document without a body.
type Request struct {
	Op             Op      `json:"op"`
	IndexName      string  `json:"indexName"`
	Path           string  `json:"path"`
	Content        *string `json:"content,omitempty"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
}

// Response is returned when a request is accepted.
type Response struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// Event is the Kafka payload. Events are keyed by index name so operations
// on one index are applied in submission order.
type Event struct {
	JobID       string    `json:"jobId"`
	Op          Op        `json:"op"`
	IndexName   string    `json:"indexName"`
	Path        string    `json:"path,omitempty"`
	Content     *string   `json:"content,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Job is the tracked state of one request.
type Job struct {
	ID             string    `json:"jobId"`
	Op             Op        `json:"op"`
	IndexName      string    `json:"indexName"`
	Path           string    `json:"path,omitempty"`
	Status         JobStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
