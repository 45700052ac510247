// Package highlight picks the best fragment of a document's content for a
// query and marks the query terms inside it.
package highlight

import (
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/tokenizer"
)

const (
	DefaultFragmentSize = 100
	DefaultPre          = "FSSRHL_"
	DefaultPost         = "_FSSRHL"
)

// Highlighter splits content into fragments of at most FragmentSize bytes
// that never split a token. A fragment scores one point per distinct query
// term it contains; the best one wins and the earliest breaks ties.
type Highlighter struct {
	fragmentSize int
	pre, post    string
}

func New(fragmentSize int, pre, post string) *Highlighter {
	if fragmentSize <= 0 {
		fragmentSize = DefaultFragmentSize
	}
	if pre == "" && post == "" {
		pre, post = DefaultPre, DefaultPost
	}
	return &Highlighter{fragmentSize: fragmentSize, pre: pre, post: post}
}

type fragment struct {
	start, end int
	// first and last token index, end exclusive
	tokStart, tokEnd int
}

// Highlight returns the marked best fragment, or nil when content is nil
// or no fragment contains a query term.
func (h *Highlighter) Highlight(content *string, terms []string) *string {
	if content == nil || len(terms) == 0 {
		return nil
	}
	text := *content
	tokens := tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[tokenizer.Normalize(t)] = struct{}{}
	}

	frags := h.fragments(text, tokens)
	best, bestScore := -1, 0
	for i, f := range frags {
		seen := make(map[string]struct{})
		for _, tok := range tokens[f.tokStart:f.tokEnd] {
			if _, ok := want[tok.Term]; ok {
				seen[tok.Term] = struct{}{}
			}
		}
		if len(seen) > bestScore {
			best, bestScore = i, len(seen)
		}
	}
	if best < 0 {
		return nil
	}

	f := frags[best]
	var b strings.Builder
	b.Grow(f.end - f.start + 16)
	pos := f.start
	for _, tok := range tokens[f.tokStart:f.tokEnd] {
		if _, ok := want[tok.Term]; !ok {
			continue
		}
		b.WriteString(text[pos:tok.Start])
		b.WriteString(h.pre)
		b.WriteString(text[tok.Start:tok.End])
		b.WriteString(h.post)
		pos = tok.End
	}
	b.WriteString(text[pos:f.end])
	snippet := strings.TrimSpace(b.String())
	return &snippet
}

// fragments groups tokens so that each fragment, measured from its start
// to the end of its last token, fits in the fragment size. Only a single
// token longer than the size can exceed it. A fragment starts at its first
// token, except that the first one takes in leading text that fits.
func (h *Highlighter) fragments(text string, tokens []tokenizer.Token) []fragment {
	var frags []fragment
	cur := fragment{}
	if tokens[0].End > h.fragmentSize {
		cur.start = tokens[0].Start
	}
	for i, tok := range tokens {
		if i > cur.tokStart && tok.End-cur.start > h.fragmentSize {
			cur.tokEnd = i
			cur.end = h.cut(text, cur.start, tokens[i-1].End, tok.Start)
			frags = append(frags, cur)
			cur = fragment{start: tok.Start, tokStart: i}
		}
	}
	cur.tokEnd = len(tokens)
	cur.end = h.cut(text, cur.start, tokens[len(tokens)-1].End, len(text))
	return append(frags, cur)
}

// cut ends a fragment fragmentSize bytes after start, or at limit if that
// comes first. The end never falls inside a rune or before lastTokEnd.
func (h *Highlighter) cut(text string, start, lastTokEnd, limit int) int {
	end := max(min(limit, start+h.fragmentSize), lastTokEnd)
	for end > lastTokEnd && end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}
