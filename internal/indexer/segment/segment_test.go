package segment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

func buildSegment(t *testing.T, c Compression) *Reader {
	t.Helper()
	mem := index.NewMemoryIndex()
	mem.AddDocument(index.Document{Key: "a", Name: "Alpha notes", Content: index.StringPtr(strings.Repeat("alpha beta ", 50))}, 1)
	mem.AddDocument(index.Document{Key: "b", Name: "beta"}, 2)
	mem.AddDocument(index.Document{Key: "c", Name: "gamma", Content: index.StringPtr("")}, 3)
	docs, entries := mem.Snapshot()

	dir := t.TempDir()
	name, err := NewWriter(dir, c).Write(7, docs, entries)
	require.NoError(t, err)
	assert.Equal(t, "seg_7.spdx", name)

	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteRead(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			r := buildSegment(t, c)
			assert.Equal(t, uint64(7), r.ID())
			assert.Equal(t, uint32(3), r.DocCount())
			assert.Equal(t, c, r.Compression())

			postings, err := r.Search(index.FieldContent, "alpha")
			require.NoError(t, err)
			assert.Equal(t, index.PostingList{{Doc: 0, Frequency: 50}}, postings)

			postings, err = r.Search(index.FieldName, "beta")
			require.NoError(t, err)
			assert.Equal(t, index.PostingList{{Doc: 1, Frequency: 1}}, postings)

			postings, err = r.Search(index.FieldName, "missing")
			require.NoError(t, err)
			assert.Nil(t, postings)

			ord, ok := r.Lookup("c")
			require.True(t, ok)
			doc, err := r.Document(ord)
			require.NoError(t, err)
			require.NotNil(t, doc.Content)
			assert.Empty(t, *doc.Content)

			doc, err = r.Document(1)
			require.NoError(t, err)
			assert.Nil(t, doc.Content)

			doc, err = r.Document(0)
			require.NoError(t, err)
			assert.Equal(t, strings.Repeat("alpha beta ", 50), *doc.Content)

			assert.Equal(t, uint64(3), r.Entry(2).Seq)
			assert.Equal(t, int64(100), r.FieldLengthTotal(index.FieldContent))
			assert.Equal(t, int64(4), r.FieldLengthTotal(index.FieldName))
		})
	}
}

func TestWrite_Empty(t *testing.T) {
	_, err := NewWriter(t.TempDir(), CompressionNone).Write(1, nil, nil)
	assert.Error(t, err)
}

func TestOpenReader_Corrupt(t *testing.T) {
	r := buildSegment(t, CompressionNone)
	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)

	// flip a byte inside the dictionary
	data[r.header.DictOffset+2] ^= 0xFF
	path := filepath.Join(t.TempDir(), FileName(9))
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "checksum")

	require.NoError(t, os.WriteFile(path, []byte("not a segment at all, far too short"), 0644))
	_, err = OpenReader(path)
	assert.Error(t, err)
}

func TestCompressionBlocks(t *testing.T) {
	data := []byte(strings.Repeat("compressible ", 100))
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		block, err := compressBlock(data, c)
		require.NoError(t, err)
		if c != CompressionNone {
			assert.Less(t, len(block), len(data))
		}
		out, err := decompressBlock(block, c)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}

	// incompressible input is stored raw
	block, err := compressBlock([]byte("x"), CompressionZSTD)
	require.NoError(t, err)
	out, err := decompressBlock(block, CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)
	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}
