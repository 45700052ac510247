package highlight

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/tokenizer"
)

func ptr(s string) *string { return &s }

func TestHighlight_MarksOnlyMatches(t *testing.T) {
	h := New(100, "", "")
	got := h.Highlight(ptr("the quick brown fox"), []string{"quick"})
	require.NotNil(t, got)
	assert.Equal(t, "the FSSRHL_quick_FSSRHL brown fox", *got)
	assert.Equal(t, 1, strings.Count(*got, DefaultPre))
}

func TestHighlight_PreservesOriginalCase(t *testing.T) {
	h := New(100, "<b>", "</b>")
	got := h.Highlight(ptr("Quick, QUICK and quick!"), []string{"quick"})
	require.NotNil(t, got)
	assert.Equal(t, "<b>Quick</b>, <b>QUICK</b> and <b>quick</b>!", *got)
}

func TestHighlight_NoSnippet(t *testing.T) {
	h := New(100, "", "")
	assert.Nil(t, h.Highlight(nil, []string{"quick"}), "absent content")
	assert.Nil(t, h.Highlight(ptr("slow brown fox"), []string{"quick"}), "no matching term")
	assert.Nil(t, h.Highlight(ptr(""), []string{"quick"}))
	assert.Nil(t, h.Highlight(ptr("quick"), nil))
	assert.Nil(t, h.Highlight(ptr("quickly"), []string{"quick"}), "only whole tokens match")
}

func TestHighlight_PicksBestFragment(t *testing.T) {
	filler := strings.Repeat("lorem ipsum ", 12)
	content := "alpha " + filler + "alpha beta " + filler
	h := New(60, "[", "]")
	got := h.Highlight(ptr(content), []string{"alpha", "beta"})
	require.NotNil(t, got)
	assert.Contains(t, *got, "[alpha] [beta]")
	assert.LessOrEqual(t, len(*got), 60+len("[alpha][beta]")+20)
}

func TestHighlight_EarliestFragmentWinsTies(t *testing.T) {
	filler := strings.Repeat("lorem ", 30)
	content := "first match " + filler + "second match"
	h := New(40, "[", "]")
	got := h.Highlight(ptr(content), []string{"match"})
	require.NotNil(t, got)
	assert.True(t, strings.HasPrefix(*got, "first [match]"), *got)
}

func TestHighlight_Deterministic(t *testing.T) {
	h := New(50, "", "")
	content := ptr(strings.Repeat("one two three four five six seven ", 10))
	first := h.Highlight(content, []string{"three", "six"})
	for i := 0; i < 5; i++ {
		assert.Equal(t, *first, *h.Highlight(content, []string{"three", "six"}))
	}
}

func TestFragments_Bounded(t *testing.T) {
	h := New(10, "", "")
	text := "aaaa bbbb cccc dddd eeee ffff"
	tokens := tokenize(text)
	frags := h.fragments(text, tokens)
	require.Greater(t, len(frags), 1)
	assert.Equal(t, 0, frags[0].start)
	assert.Equal(t, len(tokens), frags[len(frags)-1].tokEnd)
	for i, f := range frags {
		assert.LessOrEqual(t, f.end-f.start, 10)
		assert.LessOrEqual(t, f.start, tokens[f.tokStart].Start)
		assert.GreaterOrEqual(t, f.end, tokens[f.tokEnd-1].End, "tokens are never cut")
		if i > 0 {
			assert.Equal(t, frags[i-1].tokEnd, f.tokStart, "every token is in one fragment")
			assert.LessOrEqual(t, frags[i-1].end, f.start)
		}
	}
}

func TestHighlight_LongGapIsCut(t *testing.T) {
	h := New(100, "", "")
	content := "quick" + strings.Repeat(".", 5000) + " fox"
	got := h.Highlight(ptr(content), []string{"quick"})
	require.NotNil(t, got)
	assert.True(t, strings.HasPrefix(*got, "FSSRHL_quick_FSSRHL"), *got)
	assert.LessOrEqual(t, len(*got), 100+len(DefaultPre)+len(DefaultPost))

	got = h.Highlight(ptr(content), []string{"fox"})
	require.NotNil(t, got)
	assert.Equal(t, "FSSRHL_fox_FSSRHL", *got)

	got = h.Highlight(ptr(strings.Repeat("-", 5000)+"quick"+strings.Repeat("!", 5000)), []string{"quick"})
	require.NotNil(t, got)
	assert.LessOrEqual(t, len(*got), 100+len(DefaultPre)+len(DefaultPost))
}

func TestHighlight_CutsOnRuneBoundary(t *testing.T) {
	h := New(10, "[", "]")
	got := h.Highlight(ptr("quick →→→ fox"), []string{"quick"})
	require.NotNil(t, got)
	assert.True(t, utf8.ValidString(*got), *got)
	assert.Equal(t, "[quick] →", *got)
}

func TestHighlight_LongTokenKeptWhole(t *testing.T) {
	h := New(4, "[", "]")
	got := h.Highlight(ptr("a supercalifragilistic word"), []string{"supercalifragilistic"})
	require.NotNil(t, got)
	assert.Equal(t, "[supercalifragilistic]", *got)
}

func tokenize(text string) []tokenizer.Token { return tokenizer.Tokenize(text) }
