// Package parser turns free-text search input into a structured query: a
// conjunction of per-word clauses, each matching the word in any
// searchable field.
package parser

import (
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// Clause matches Term in at least one of Fields.
type Clause struct {
	Term   string
	Fields []string
}

// Query is satisfied by a document that satisfies every clause.
type Query struct {
	Clauses  []Clause
	RawQuery string
}

// Parse splits raw on whitespace and builds one clause per distinct word,
// in input order. Empty input gives an empty query, which matches nothing.
// A word that is not a single token cannot be matched exactly and is
// rejected as malformed.
func Parse(raw string) (*Query, error) {
	q := &Query{
		Clauses:  make([]Clause, 0),
		RawQuery: raw,
	}
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(raw) {
		if !tokenizer.IsSingleToken(word) {
			return nil, apperrors.Newf(apperrors.ErrMalformedQuery, http.StatusBadRequest,
				"term %q must contain only letters and digits", word)
		}
		term := tokenizer.Normalize(word)
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		q.Clauses = append(q.Clauses, Clause{
			Term:   term,
			Fields: index.TokenizedFields(),
		})
	}
	return q, nil
}

// IsEmpty reports whether the query has no clauses.
func (q *Query) IsEmpty() bool {
	return len(q.Clauses) == 0
}

// Terms returns the clause terms in order.
func (q *Query) Terms() []string {
	terms := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		terms[i] = c.Term
	}
	return terms
}

// TermsFor returns the terms of clauses that search field.
func (q *Query) TermsFor(field string) []string {
	var terms []string
	for _, c := range q.Clauses {
		for _, f := range c.Fields {
			if f == field {
				terms = append(terms, c.Term)
				break
			}
		}
	}
	return terms
}

// String renders the query in the usual boolean notation, e.g.
// "+(name:a content:a) +(name:b content:b)".
func (q *Query) String() string {
	var b strings.Builder
	for i, c := range q.Clauses {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("+(")
		for j, f := range c.Fields {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(f)
			b.WriteByte(':')
			b.WriteString(c.Term)
		}
		b.WriteByte(')')
	}
	return b.String()
}
