package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	key, ok := Lookup(FieldKey)
	require.True(t, ok)
	assert.True(t, key.Stored)
	assert.False(t, key.Tokenized, "key must be exact-match only")

	assert.Equal(t, []string{FieldName, FieldContent}, TokenizedFields())

	_, ok = Lookup("missing")
	assert.False(t, ok)
}

func TestDocument_FieldValue(t *testing.T) {
	doc := NewDocument("/a/b.txt", nil)
	assert.Equal(t, "/a/b.txt", doc.Name)
	_, ok := doc.FieldValue(FieldContent)
	assert.False(t, ok)

	doc.Content = StringPtr("")
	v, ok := doc.FieldValue(FieldContent)
	assert.True(t, ok)
	assert.Empty(t, v)

	assert.ErrorIs(t, Document{}.Validate(), ErrEmptyKey)
}

func TestMemoryIndex_Snapshot(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(Document{Key: "k1", Name: "Report", Content: StringPtr("alpha beta alpha")}, 1)
	m.AddDocument(Document{Key: "k2", Name: "Alpha"}, 2)

	docs, entries := m.Snapshot()
	require.Len(t, docs, 2)
	assert.Equal(t, "k1", docs[0].Entry.Key)
	assert.Equal(t, uint64(2), docs[1].Entry.Seq)
	assert.Equal(t, 3, docs[0].Entry.FieldLengths[FieldContent])
	_, hasContent := docs[1].Entry.FieldLengths[FieldContent]
	assert.False(t, hasContent)

	find := func(field, term string) PostingList {
		for _, e := range entries {
			if e.Field == field && e.Term == term {
				return e.Postings
			}
		}
		return nil
	}
	assert.Equal(t, PostingList{{Doc: 0, Frequency: 2}}, find(FieldContent, "alpha"))
	assert.Equal(t, PostingList{{Doc: 1, Frequency: 1}}, find(FieldName, "alpha"))
	assert.Nil(t, find(FieldKey, "k1"), "key is never tokenized")

	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		assert.True(t, prev.Field < cur.Field || (prev.Field == cur.Field && prev.Term < cur.Term))
	}
}

func TestMemoryIndex_ReplaceAndRemove(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(Document{Key: "k", Name: "first"}, 1)
	m.AddDocument(Document{Key: "k", Name: "second"}, 2)
	assert.Equal(t, 1, m.DocCount())

	docs, _ := m.Snapshot()
	require.Len(t, docs, 1)
	assert.Equal(t, "second", docs[0].Doc.Name)

	assert.True(t, m.Remove("k"))
	assert.False(t, m.Remove("k"))
	assert.False(t, m.Contains("k"))
	assert.Equal(t, 0, m.DocCount())

	m.Reset()
	assert.Zero(t, m.Size())
}
