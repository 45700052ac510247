package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func params() RankParams {
	return RankParams{
		TotalDocs:      10,
		AvgFieldLength: map[string]float64{"name": 2, "content": 20},
		DocFreq: map[string]map[string]int{
			"name":    {"alpha": 1},
			"content": {"alpha": 5, "rare": 1},
		},
	}
}

func TestScore_HigherFrequencyScoresHigher(t *testing.T) {
	p := params()
	low := Score([]FieldMatch{{Field: "content", Term: "alpha", Frequency: 1, FieldLen: 20}}, p)
	high := Score([]FieldMatch{{Field: "content", Term: "alpha", Frequency: 4, FieldLen: 20}}, p)
	assert.Greater(t, high, low)
}

func TestScore_RareTermsScoreHigher(t *testing.T) {
	p := params()
	common := Score([]FieldMatch{{Field: "content", Term: "alpha", Frequency: 1, FieldLen: 20}}, p)
	rare := Score([]FieldMatch{{Field: "content", Term: "rare", Frequency: 1, FieldLen: 20}}, p)
	assert.Greater(t, rare, common)
}

func TestScore_ShorterFieldsScoreHigher(t *testing.T) {
	p := params()
	long := Score([]FieldMatch{{Field: "content", Term: "alpha", Frequency: 1, FieldLen: 80}}, p)
	short := Score([]FieldMatch{{Field: "content", Term: "alpha", Frequency: 1, FieldLen: 5}}, p)
	assert.Greater(t, short, long)
}

func TestScore_FieldsAreSummed(t *testing.T) {
	p := params()
	content := FieldMatch{Field: "content", Term: "alpha", Frequency: 1, FieldLen: 20}
	name := FieldMatch{Field: "name", Term: "alpha", Frequency: 1, FieldLen: 2}
	both := Score([]FieldMatch{content, name}, p)
	assert.InDelta(t, Score([]FieldMatch{content}, p)+Score([]FieldMatch{name}, p), both, 0.0002)
	assert.Zero(t, Score(nil, p))
}

func TestLess(t *testing.T) {
	assert.True(t, Less(ScoredDoc{Score: 1}, ScoredDoc{Score: 2}))
	assert.True(t, Less(ScoredDoc{Score: 1, Seq: 9}, ScoredDoc{Score: 1, Seq: 3}), "later insertion ranks lower on ties")
	assert.False(t, Less(ScoredDoc{Score: 1, Seq: 3}, ScoredDoc{Score: 1, Seq: 9}))
}
