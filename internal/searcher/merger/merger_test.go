package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
)

func doc(key string, score float64, seq uint64) ranker.ScoredDoc {
	return ranker.ScoredDoc{Key: key, Score: score, Seq: seq}
}

func keys(docs []ranker.ScoredDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out
}

func TestMerge(t *testing.T) {
	merged := Merge([][]ranker.ScoredDoc{
		{doc("a", 3, 1), doc("b", 1, 2)},
		{doc("c", 2, 3), doc("d", 5, 4)},
	}, 3)
	assert.Equal(t, []string{"d", "a", "c"}, keys(merged))
}

func TestMerge_TiesByInsertionOrder(t *testing.T) {
	merged := Merge([][]ranker.ScoredDoc{
		{doc("late", 1, 9)},
		{doc("early", 1, 2), doc("middle", 1, 5)},
	}, 2)
	assert.Equal(t, []string{"early", "middle"}, keys(merged))
}

func TestTopK_Bounded(t *testing.T) {
	top := NewTopK(2)
	for i := 0; i < 100; i++ {
		top.Push(doc("x", float64(i%7), uint64(i)))
	}
	assert.Equal(t, 2, top.Len())
	sorted := top.Sorted()
	assert.Equal(t, 6.0, sorted[0].Score)
	assert.Equal(t, uint64(6), sorted[0].Seq, "first doc reaching the top score wins")
	assert.Equal(t, uint64(13), sorted[1].Seq)
	assert.Zero(t, top.Len())
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge(nil, 5))
}
