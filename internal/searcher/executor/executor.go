// Package executor evaluates parsed queries against an index snapshot,
// ranks the matches and returns one highlighted page of results.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

// Hit is one result row.
type Hit struct {
	Path    string  `json:"path"`
	Snippet *string `json:"snippet"`
}

// SearchResult is one page of ranked matches. TotalHits counts every match
// in the snapshot; only the best Window matches can be paged through.
type SearchResult struct {
	Results   []Hit `json:"results"`
	TotalHits int   `json:"totalHits"`
	Window    int   `json:"window"`
}

type Executor struct {
	cfg         config.SearchConfig
	highlighter *highlight.Highlighter
	logger      *slog.Logger
}

func New(cfg config.SearchConfig) *Executor {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 1000
	}
	return &Executor{
		cfg:         cfg,
		highlighter: highlight.New(cfg.FragmentSize, cfg.HighlightPre, cfg.HighlightPost),
		logger:      slog.Default().With("component", "query-executor"),
	}
}

// Execute returns page pageIndex of size pageSize for q. Pages past the
// candidate window are empty.
func (e *Executor) Execute(ctx context.Context, snap *store.Snapshot, q *parser.Query, pageIndex, pageSize int) (*SearchResult, error) {
	if pageIndex < 0 || pageSize <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"pageIndex must be >= 0 and pageSize > 0 (got %d, %d)", pageIndex, pageSize)
	}
	if e.cfg.MaxPageSize > 0 && pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}
	result := &SearchResult{Results: []Hit{}, Window: e.cfg.MaxCandidates}
	if q.IsEmpty() || snap.LiveDocs() == 0 {
		return result, nil
	}

	ctx, span := tracing.Start(ctx, "execute")
	defer span.End()

	perSegment, err := e.fanOut(ctx, snap, q)
	if err != nil {
		return nil, err
	}
	params := rankParams(snap, perSegment)

	ranked, total, err := e.score(ctx, snap, q, perSegment, params)
	if err != nil {
		return nil, err
	}
	result.TotalHits = total
	span.SetAttr("total_hits", total)

	// compared by division so a huge pageIndex cannot overflow the offset
	if len(ranked) == 0 || pageIndex > (len(ranked)-1)/pageSize {
		return result, nil
	}
	from := pageIndex * pageSize
	to := min(from+pageSize, len(ranked))

	_, hlSpan := tracing.Start(ctx, "highlight")
	contentTerms := q.TermsFor(index.FieldContent)
	segments := snap.Segments()
	for _, sd := range ranked[from:to] {
		doc, err := segments[sd.Segment].Document(sd.Ordinal)
		if err != nil {
			hlSpan.End()
			return nil, apperrors.Wrap(apperrors.ErrIndexIO, fmt.Errorf("loading %q: %w", sd.Key, err))
		}
		result.Results = append(result.Results, Hit{
			Path:    doc.Key,
			Snippet: e.highlighter.Highlight(doc.Content, contentTerms),
		})
	}
	hlSpan.End()

	e.logger.Debug("query executed",
		"query", q.String(),
		"segments", len(segments),
		"total_hits", total,
		"page", pageIndex,
		"results", len(result.Results),
	)
	return result, nil
}

// rankParams sums per-segment live document frequencies into snapshot-wide
// statistics.
func rankParams(snap *store.Snapshot, perSegment []segmentPostings) ranker.RankParams {
	params := ranker.RankParams{
		TotalDocs:      snap.LiveDocs(),
		AvgFieldLength: make(map[string]float64),
		DocFreq:        make(map[string]map[string]int),
	}
	for _, field := range index.TokenizedFields() {
		params.AvgFieldLength[field] = snap.AvgFieldLength(field)
		params.DocFreq[field] = make(map[string]int)
	}
	for _, sp := range perSegment {
		for ft, list := range sp.lists {
			params.DocFreq[ft.field][ft.term] += len(list)
		}
	}
	return params
}
