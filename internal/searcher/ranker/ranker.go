// Package ranker scores matches with BM25, computed separately for every
// field a term matched in and summed.
package ranker

import (
	"math"
)

const (
	k1 = 1.2
	b  = 0.75
)

// ScoredDoc locates a match inside a snapshot together with its score. Seq
// is the document's insertion sequence and breaks score ties.
type ScoredDoc struct {
	Key     string  `json:"key"`
	Score   float64 `json:"score"`
	Seq     uint64  `json:"-"`
	Segment int     `json:"-"`
	Ordinal uint32  `json:"-"`
}

// Less orders a before b when a ranks lower: smaller score, or equal score
// and later insertion.
func Less(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Seq > b.Seq
}

// RankParams carries the collection statistics of one snapshot.
type RankParams struct {
	TotalDocs      int
	AvgFieldLength map[string]float64
	// DocFreq maps field then term to the number of live documents
	// containing the term in that field.
	DocFreq map[string]map[string]int
}

// FieldMatch is one (field, term) hit inside a document.
type FieldMatch struct {
	Field     string
	Term      string
	Frequency int
	FieldLen  int
}

// Score sums the BM25 contribution of every field match.
func Score(matches []FieldMatch, params RankParams) float64 {
	var score float64
	for _, m := range matches {
		idf := computeIDF(int64(params.TotalDocs), int64(params.DocFreq[m.Field][m.Term]))
		tfNorm := computeTFNorm(
			float64(m.Frequency),
			float64(m.FieldLen),
			params.AvgFieldLength[m.Field],
		)
		score += idf * tfNorm
	}
	return math.Round(score*10000) / 10000
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
