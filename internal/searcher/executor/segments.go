package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

type fieldTerm struct {
	field, term string
}

// segmentPostings holds the live postings of every query (field, term) in
// one segment.
type segmentPostings struct {
	seg   *store.Segment
	lists map[fieldTerm]index.PostingList
}

// fanOut reads postings from all segments concurrently. Deleted documents
// are dropped here so every later stage sees live documents only.
func (e *Executor) fanOut(ctx context.Context, snap *store.Snapshot, q *parser.Query) ([]segmentPostings, error) {
	segments := snap.Segments()
	results := make([]segmentPostings, len(segments))
	g, ctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		g.Go(func() error {
			sp := segmentPostings{seg: seg, lists: make(map[fieldTerm]index.PostingList)}
			for _, c := range q.Clauses {
				for _, field := range c.Fields {
					if err := ctx.Err(); err != nil {
						return err
					}
					postings, err := seg.Search(field, c.Term)
					if err != nil {
						return fmt.Errorf("segment %d, %s:%s: %w", seg.ID(), field, c.Term, err)
					}
					live := postings[:0:0]
					for _, p := range postings {
						if !seg.IsDeleted(p.Doc) {
							live = append(live, p)
						}
					}
					if len(live) > 0 {
						sp.lists[fieldTerm{field, c.Term}] = live
					}
				}
			}
			results[i] = sp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIndexIO, err)
	}
	return results, nil
}

// score finds the documents satisfying every clause in each segment,
// scores them and keeps the best MaxCandidates overall. The returned count
// covers all matches, not just the kept ones.
func (e *Executor) score(ctx context.Context, snap *store.Snapshot, q *parser.Query, perSegment []segmentPostings, params ranker.RankParams) ([]ranker.ScoredDoc, int, error) {
	segmentResults := make([][]ranker.ScoredDoc, len(perSegment))
	counts := make([]int, len(perSegment))
	g, ctx := errgroup.WithContext(ctx)
	for i, sp := range perSegment {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			matches := matchSegment(sp, q)
			top := merger.NewTopK(e.cfg.MaxCandidates)
			for ord, fieldMatches := range matches {
				entry := sp.seg.Entry(ord)
				for j := range fieldMatches {
					fieldMatches[j].FieldLen = entry.FieldLengths[fieldMatches[j].Field]
				}
				top.Push(ranker.ScoredDoc{
					Key:     entry.Key,
					Score:   ranker.Score(fieldMatches, params),
					Seq:     entry.Seq,
					Segment: i,
					Ordinal: ord,
				})
			}
			segmentResults[i] = top.Sorted()
			counts[i] = len(matches)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrTimeout, err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return merger.Merge(segmentResults, e.cfg.MaxCandidates), total, nil
}

// matchSegment intersects the clauses of q over one segment. Each clause is
// the union of its fields' postings. The result maps every matching ordinal
// to the field matches that contribute to its score.
func matchSegment(sp segmentPostings, q *parser.Query) map[uint32][]ranker.FieldMatch {
	var matches map[uint32][]ranker.FieldMatch
	for _, c := range q.Clauses {
		clause := make(map[uint32][]ranker.FieldMatch)
		for _, field := range c.Fields {
			for _, p := range sp.lists[fieldTerm{field, c.Term}] {
				clause[p.Doc] = append(clause[p.Doc], ranker.FieldMatch{
					Field:     field,
					Term:      c.Term,
					Frequency: p.Frequency,
				})
			}
		}
		if matches == nil {
			matches = clause
			continue
		}
		for ord, fm := range matches {
			more, ok := clause[ord]
			if !ok {
				delete(matches, ord)
				continue
			}
			matches[ord] = append(fm, more...)
		}
		if len(matches) == 0 {
			break
		}
	}
	return matches
}
