package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

// Reader serves lookups against one segment file. The dictionary and
// document table are held in memory; postings and stored documents are
// read on demand. A Reader is safe for concurrent use.
type Reader struct {
	id       uint64
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     []docTableEntry
	keys     map[string]uint32
	postBase int64
	totals   map[string]int64
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening segment %s: %w", path, err)
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	header, err := decodeHeader(f)
	if err != nil {
		return nil, err
	}
	footer := make([]byte, FooterSize)
	footerOffset := header.DictOffset + header.DictSize
	if _, err := f.ReadAt(footer, footerOffset); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}

	tableData := make([]byte, header.DocTableSize)
	if _, err := f.ReadAt(tableData, header.DocTableOffset); err != nil {
		return nil, fmt.Errorf("reading document table: %w", err)
	}
	dictData := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictData, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	checksum := crc32.NewIEEE()
	checksum.Write(tableData)
	checksum.Write(dictData)
	if want := binary.LittleEndian.Uint32(footer[0:4]); checksum.Sum32() != want {
		return nil, fmt.Errorf("checksum mismatch: got %08x, want %08x", checksum.Sum32(), want)
	}

	var docs []docTableEntry
	if err := json.Unmarshal(tableData, &docs); err != nil {
		return nil, fmt.Errorf("parsing document table: %w", err)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictData, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	if uint32(len(docs)) != header.DocCount {
		return nil, fmt.Errorf("document table has %d entries, header says %d", len(docs), header.DocCount)
	}

	keys := make(map[string]uint32, len(docs))
	totals := make(map[string]int64)
	for i, d := range docs {
		keys[d.Key] = uint32(i)
		for field, n := range d.FieldLengths {
			totals[field] += int64(n)
		}
	}
	return &Reader{
		id:       binary.LittleEndian.Uint64(footer[24:32]),
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docs:     docs,
		keys:     keys,
		postBase: int64(binary.LittleEndian.Uint64(footer[8:16])),
		totals:   totals,
	}, nil
}

// Search returns the postings of term in field, or nil if absent.
func (r *Reader) Search(field, term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		e := r.dict[i]
		if e.Field != field {
			return e.Field >= field
		}
		return e.Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return nil, nil
	}
	entry := r.dict[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.postBase+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// Document reads the stored fields of the document at ordinal.
func (r *Reader) Document(ordinal uint32) (index.Document, error) {
	if int(ordinal) >= len(r.docs) {
		return index.Document{}, fmt.Errorf("ordinal %d out of range [0,%d)", ordinal, len(r.docs))
	}
	entry := r.docs[ordinal]
	block := make([]byte, entry.BlockLen)
	if _, err := r.file.ReadAt(block, entry.BlockOffset); err != nil {
		return index.Document{}, fmt.Errorf("reading document %d: %w", ordinal, err)
	}
	raw, err := decompressBlock(block, r.header.Compression)
	if err != nil {
		return index.Document{}, fmt.Errorf("decoding document %d: %w", ordinal, err)
	}
	var doc index.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return index.Document{}, fmt.Errorf("parsing document %d: %w", ordinal, err)
	}
	return doc, nil
}

// Entry returns the metadata of the document at ordinal.
func (r *Reader) Entry(ordinal uint32) index.DocEntry {
	return r.docs[ordinal].DocEntry
}

// Lookup returns the ordinal of the document stored under key.
func (r *Reader) Lookup(key string) (uint32, bool) {
	ord, ok := r.keys[key]
	return ord, ok
}

// FieldLengthTotal is the sum of the token counts of field over every
// document in the segment, deleted or not.
func (r *Reader) FieldLengthTotal(field string) int64 {
	return r.totals[field]
}

func (r *Reader) ID() uint64 {
	return r.id
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Compression() Compression {
	return r.header.Compression
}

func (r *Reader) Close() error {
	return r.file.Close()
}
