// Package tokenizer provides text tokenisation for the search engine.
// A token is a maximal run of Unicode letters and decimal digits, lower-cased.
// Every other character ends the current token and is discarded.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token represents a single normalised term, its ordinal position in the
// token stream, and the byte span it was read from in the original text.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// IsTokenRune reports whether r belongs inside a token.
func IsTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize breaks text into lower-cased letter/digit tokens. Offsets refer to
// text as given, so callers can map tokens back onto the original string.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/6)
	start := -1
	pos := 0
	for i, r := range text {
		if IsTokenRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, newToken(text, start, i, pos))
			pos++
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, newToken(text, start, len(text), pos))
	}
	return tokens
}

// Terms returns only the normalised terms of text, in order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// IsSingleToken reports whether word would tokenize to exactly itself
// (ignoring case): non-empty and made only of letters and digits.
func IsSingleToken(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if r == utf8.RuneError || !IsTokenRune(r) {
			return false
		}
	}
	return true
}

// Normalize lower-cases a single term the same way Tokenize does.
func Normalize(term string) string {
	return strings.ToLower(term)
}

func newToken(text string, start, end, pos int) Token {
	return Token{
		Term:     strings.ToLower(text[start:end]),
		Position: pos,
		Start:    start,
		End:      end,
	}
}
