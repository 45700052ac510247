// Package validator checks ingest requests before they are queued and
// reports every offending field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion"
)

const (
	maxIndexNameLength = 255
	maxPathLength      = 4096
	maxIdempotencyKey  = 255
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Validate checks req. maxContent bounds the content size in bytes; zero
// disables the check.
func Validate(req *ingestion.Request, maxContent int) error {
	errs := make(map[string]string)

	switch req.Op {
	case ingestion.OpUpsert, ingestion.OpDelete:
		if req.Path == "" {
			errs["path"] = "path is required"
		} else if len(req.Path) > maxPathLength {
			errs["path"] = fmt.Sprintf("path must be at most %d bytes", maxPathLength)
		}
	case ingestion.OpDeleteAll:
		if req.Path != "" {
			errs["path"] = "path must be empty for deleteAll"
		}
	default:
		errs["op"] = fmt.Sprintf("op must be one of %s, %s, %s", ingestion.OpUpsert, ingestion.OpDelete, ingestion.OpDeleteAll)
	}

	if req.IndexName == "" {
		errs["indexName"] = "indexName is required"
	} else if len(req.IndexName) > maxIndexNameLength {
		errs["indexName"] = fmt.Sprintf("indexName must be at most %d bytes", maxIndexNameLength)
	}

	if req.Content != nil {
		if req.Op != ingestion.OpUpsert {
			errs["content"] = "content is only accepted for upsert"
		} else if maxContent > 0 && len(*req.Content) > maxContent {
			errs["content"] = fmt.Sprintf("content must be at most %d bytes", maxContent)
		}
	}
	if len(req.IdempotencyKey) > maxIdempotencyKey {
		errs["idempotencyKey"] = fmt.Sprintf("idempotencyKey must be at most %d bytes", maxIdempotencyKey)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
