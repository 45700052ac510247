// Package analytics collects search and write events, ships them to Kafka
// in batches and aggregates them into the stats served by the API.
package analytics

import "time"

type EventType string

const (
	EventSearch EventType = "search"
	EventWrite  EventType = "write"
)

// Event is the single envelope on the analytics topic. Search fields are
// set for EventSearch, Op and Key for EventWrite.
type Event struct {
	Type      EventType `json:"type"`
	Index     string    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latencyMs"`
	RequestID string    `json:"requestId,omitempty"`

	Query     string `json:"query,omitempty"`
	TotalHits int    `json:"totalHits,omitempty"`
	Returned  int    `json:"returned,omitempty"`
	PageIndex int    `json:"pageIndex,omitempty"`
	CacheHit  bool   `json:"cacheHit,omitempty"`

	Op     string `json:"op,omitempty"`
	Key    string `json:"key,omitempty"`
	Failed bool   `json:"failed,omitempty"`
}
